package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/archive"
	"github.com/lipish/openrunner/pkg/run"
)

const (
	// UserHeader carries the submitting user's id.
	UserHeader    = "X-User-ID"
	anonymousUser = "anonymous"

	wsWriteTimeout = 5 * time.Second
)

type runRequest struct {
	Input     string        `json:"input"`
	SessionID string        `json:"session_id,omitempty"`
	Config    *agent.Config `json:"config,omitempty"`
}

type runResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// runEventMessage is the wire form of a run event on websocket streams.
type runEventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read request body", ErrInvalidRequest)
	}
	return body, nil
}

func (s *Server) decodeRunRequest(c echo.Context) (runRequest, error) {
	var req runRequest
	body, err := readBody(c)
	if err != nil {
		return req, err
	}
	if err := validateBody(runRequestLoader, body); err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

// agentConfig layers the non-zero fields of override on the server default.
func (s *Server) agentConfig(override *agent.Config) agent.Config {
	cfg := s.defaultAgent.Clone()
	if override == nil {
		return cfg
	}
	if override.Type != "" {
		cfg.Type = override.Type
	}
	if override.Model != "" {
		cfg.Model = override.Model
	}
	if override.WorkingDir != "" {
		cfg.WorkingDir = override.WorkingDir
	}
	if len(override.Env) > 0 {
		if cfg.Env == nil {
			cfg.Env = make(map[string]string, len(override.Env))
		}
		maps.Copy(cfg.Env, override.Env)
	}
	if len(override.ExtraArgs) > 0 {
		cfg.ExtraArgs = append([]string{}, override.ExtraArgs...)
	}
	if override.TimeoutSecs > 0 {
		cfg.TimeoutSecs = override.TimeoutSecs
	}
	return cfg
}

func userID(c echo.Context) string {
	if id := c.Request().Header.Get(UserHeader); id != "" {
		return id
	}
	return anonymousUser
}

// submit creates and starts a run. A run whose agent cannot be built is
// removed again so that it never lingers as pending.
func (s *Server) submit(ctx context.Context, user, sessionID, input string, cfg agent.Config) (string, error) {
	id := s.manager.CreateRun(user, sessionID, input)
	if err := s.manager.StartRun(ctx, id, cfg); err != nil {
		s.manager.Registry().Remove(id)
		return "", err
	}
	observability.RecordRunAudit(ctx, "run.submit", id, user, string(run.StatusRunning))
	return id, nil
}

func (s *Server) createRun(c echo.Context) error {
	req, err := s.decodeRunRequest(c)
	if err != nil {
		return err
	}

	id, err := s.submit(c.Request().Context(), userID(c), req.SessionID, req.Input, s.agentConfig(req.Config))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, runResponse{RunID: id, Status: run.StatusRunning})
}

// createRunSync waits for the run to finish. A client that goes away first
// cancels the run.
func (s *Server) createRunSync(c echo.Context) error {
	req, err := s.decodeRunRequest(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	id, err := s.submit(ctx, userID(c), req.SessionID, req.Input, s.agentConfig(req.Config))
	if err != nil {
		return err
	}

	final, err := s.manager.Wait(ctx, id)
	if err != nil {
		s.manager.CancelRun(id)
		return err
	}

	body := map[string]interface{}{
		"run_id":     final.ID,
		"session_id": final.SessionID,
		"output":     final.Output,
		"status":     final.Status,
	}
	if final.Status != run.StatusCompleted {
		body["error"] = final.Error
		return c.JSON(http.StatusInternalServerError, body)
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) listRuns(c echo.Context) error {
	user := c.QueryParam("user_id")
	if user == "" {
		user = userID(c)
	}

	runs := s.manager.Registry().ListByUser(user)
	if s.archive != nil {
		live := make(map[string]bool, len(runs))
		for _, r := range runs {
			live[r.ID] = true
		}
		archived, err := s.archive.ListByUser(c.Request().Context(), user, 0)
		if err != nil {
			return err
		}
		for _, r := range archived {
			if !live[r.ID] {
				runs = append(runs, r)
			}
		}
	}
	if runs == nil {
		runs = []run.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// lookupRun reads the live registry first, then the archive.
func (s *Server) lookupRun(ctx context.Context, id string) (run.Run, error) {
	if r, ok := s.manager.GetRun(id); ok {
		return r, nil
	}
	if s.archive != nil {
		r, err := s.archive.Get(ctx, id)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, archive.ErrNotFound) {
			return run.Run{}, err
		}
	}
	return run.Run{}, fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
}

func (s *Server) getRun(c echo.Context) error {
	r, err := s.lookupRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) cancelRun(c echo.Context) error {
	id := c.Param("id")
	if !s.manager.CancelRun(id) {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}
	r, _ := s.manager.GetRun(id)
	return c.JSON(http.StatusOK, runResponse{RunID: id, Status: r.Status})
}

// streamRunEvents serves the run's events as server-sent events, one
// "event: <type>" frame per event, ending after the terminal event.
func (s *Server) streamRunEvents(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.manager.GetRun(id); !ok {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	err := s.manager.Follow(c.Request().Context(), id, func(ev run.Event) error {
		eventType, data, err := run.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
			return err
		}
		w.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("run_id", id).Msg("event stream ended early")
	}
	return nil
}

// streamRunWebSocket serves the same stream as streamRunEvents over a
// websocket, one JSON text frame per event.
func (s *Server) streamRunWebSocket(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.manager.GetRun(id); !ok {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("run_id", id).Msg("failed to upgrade run stream")
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// The read side only detects the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.manager.Follow(ctx, id, func(ev run.Event) error {
		eventType, data, err := run.Marshal(ev)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(runEventMessage{Type: eventType, Data: data})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("run_id", id).Msg("websocket stream ended early")
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
	return nil
}
