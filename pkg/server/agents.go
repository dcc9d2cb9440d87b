package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/pkg/agent"
)

const agentHealthTimeout = 15 * time.Second

var agentDescriptions = map[string]string{
	agent.TypeClaudeCode: "Claude Code CLI agent",
	agent.TypeCodex:      "OpenAI Codex CLI agent",
	agent.TypeOpenCode:   "OpenCode CLI agent",
	agent.TypeKimiCLI:    "Kimi CLI agent",
	agent.TypeOpenAI:     "OpenAI chat completions API",
	agent.TypeAnthropic:  "Anthropic messages API",
	agent.TypeOpenRouter: "OpenRouter chat completions API",
	agent.TypeGateway:    "Provider gateway with load balancing and fallback",
	agent.TypeMock:       "Scripted mock agent for local development",
	agent.TypeDroid:      "Droid CLI agent (mock)",
	agent.TypeAugment:    "Augment CLI agent (mock)",
	agent.TypeAmp:        "Amp CLI agent (mock)",
}

type agentInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type agentHealth struct {
	Type    string `json:"type"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	status := "ok"
	if s.shuttingDown() {
		status = "shutting_down"
	}
	body := map[string]interface{}{
		"status":      status,
		"service":     "openrunner",
		"active_runs": s.manager.ActiveCount(),
		"clients":     s.clients.Count(),
	}
	if s.archive != nil {
		if n, err := s.archive.Count(c.Request().Context()); err == nil {
			body["archived_runs"] = n
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) listAgents(c echo.Context) error {
	types := agent.Types()
	agents := make([]agentInfo, 0, len(types))
	for _, t := range types {
		agents = append(agents, agentInfo{Type: t, Description: agentDescriptions[t]})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": agents})
}

// agentHealth checks every agent type concurrently. Types that cannot be
// built, such as LLM agents without credentials, report the build error.
func (s *Server) agentHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), agentHealthTimeout)
	defer cancel()

	types := agent.Types()
	results := make([]agentHealth, len(types))

	var wg sync.WaitGroup
	for i, t := range types {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.checkAgent(ctx, t)
		}()
	}
	wg.Wait()

	return c.JSON(http.StatusOK, map[string]interface{}{"agents": results})
}

func (s *Server) checkAgent(ctx context.Context, agentType string) agentHealth {
	cfg := s.defaultAgent.Clone()
	cfg.Type = agentType
	cfg.Model = ""

	h := agentHealth{Type: agentType}
	a, err := s.factory.Create(cfg)
	if err == nil {
		err = a.HealthCheck(ctx)
	}
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}
