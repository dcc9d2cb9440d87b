package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/agent"
)

const chatEventBuffer = 100

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatDelta struct {
	Content string `json:"content,omitempty"`
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// chatCompletions serves an OpenAI-compatible chat endpoint through a
// gateway agent. The messages are joined into a single prompt.
func (s *Server) chatCompletions(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := validateBody(chatRequestLoader, body); err != nil {
		return err
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	cfg := agent.Config{
		Type:        agent.TypeGateway,
		Model:       req.Model,
		TimeoutSecs: s.defaultAgent.TimeoutSecs,
	}
	a, err := s.factory.Create(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	parts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts = append(parts, m.Content)
	}
	prompt := strings.Join(parts, "\n\n")

	ctx, cancel := context.WithCancel(tracing.NewRequestContext(c.Request().Context()))
	defer cancel()

	events := make(chan agent.StreamEvent, chatEventBuffer)
	h := agent.Spawn(a, events,
		agent.WithTimeout(cfg.Timeout()),
		agent.WithLogger(tracing.PropagateToLogger(ctx, s.logger)),
	)
	defer h.Cancel(context.WithoutCancel(ctx))
	go func() {
		_ = h.Run(ctx, prompt)
	}()

	id := "chatcmpl-" + uuid.NewString()
	if req.Stream {
		return s.streamChat(ctx, c, id, req.Model, events, h.Done())
	}

	var out strings.Builder
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case agent.EventToken:
				out.WriteString(ev.Content)
				continue
			case agent.EventError:
				return errors.New(ev.Message)
			}
			stop := "stop"
			return c.JSON(http.StatusOK, chatCompletion{
				ID:      id,
				Object:  "chat.completion",
				Created: time.Now().Unix(),
				Model:   req.Model,
				Choices: []chatChoice{{
					Message:      &chatMessage{Role: "assistant", Content: out.String()},
					FinishReason: &stop,
				}},
				Usage: &chatUsage{},
			})
		case <-h.Done():
			return agent.ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamChat writes chat.completion.chunk frames and a final [DONE] marker.
// A failure is reported as an "error" event.
func (s *Server) streamChat(ctx context.Context, c echo.Context, id, model string, events <-chan agent.StreamEvent, handleDone <-chan struct{}) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	created := time.Now().Unix()
	writeChunk := func(choice chatChoice, usage *chatUsage) error {
		data, err := json.Marshal(chatCompletion{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatChoice{choice},
			Usage:   usage,
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case agent.EventToken:
				if err := writeChunk(chatChoice{Delta: &chatDelta{Content: ev.Content}}, nil); err != nil {
					return nil
				}
				continue
			case agent.EventError:
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", ev.Message)
				w.Flush()
				return nil
			}
			stop := "stop"
			if err := writeChunk(chatChoice{Delta: &chatDelta{}, FinishReason: &stop}, &chatUsage{}); err != nil {
				return nil
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
			return nil
		case <-handleDone:
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", agent.ErrChannelClosed)
			w.Flush()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
