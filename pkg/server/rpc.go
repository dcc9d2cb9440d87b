package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/run"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Per-connection limits for RPC calls made over /ws.
const (
	wsRequestsPerMinute = 60
	wsMaxConcurrent     = 10
)

func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("runs.create", s.rpcCreateRun)
	_ = s.router.RegisterMethod("runs.get", s.rpcGetRun)
	_ = s.router.RegisterMethod("runs.cancel", s.rpcCancelRun)
	_ = s.router.RegisterMethod("providers.list", func(context.Context, map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"providers": s.providerInfos()}, nil
	})
}

func stringParam(params map[string]interface{}, key string, required bool) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		if required {
			return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("missing %s", key)}
		}
		return "", nil
	}
	v, ok := raw.(string)
	if !ok || (required && v == "") {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s must be a non-empty string", key)}
	}
	return v, nil
}

// rpcCreateRun takes input plus optional user_id, session_id, agent_type and
// model, and returns the new run id.
func (s *Server) rpcCreateRun(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	input, err := stringParam(params, "input", true)
	if err != nil {
		return nil, err
	}
	var opt [4]string
	for i, key := range []string{"user_id", "session_id", "agent_type", "model"} {
		if opt[i], err = stringParam(params, key, false); err != nil {
			return nil, err
		}
	}
	user, sessionID := opt[0], opt[1]
	if user == "" {
		user = anonymousUser
	}

	id, err := s.submit(ctx, user, sessionID, input, s.agentConfig(&agent.Config{Type: opt[2], Model: opt[3]}))
	if err != nil {
		if errors.Is(err, agent.ErrUnknownAgentType) {
			return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
		}
		return nil, err
	}
	return runResponse{RunID: id, Status: run.StatusRunning}, nil
}

func (s *Server) rpcGetRun(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := stringParam(params, "run_id", true)
	if err != nil {
		return nil, err
	}
	return s.lookupRun(ctx, id)
}

func (s *Server) rpcCancelRun(_ context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := stringParam(params, "run_id", true)
	if err != nil {
		return nil, err
	}
	if !s.manager.CancelRun(id) {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, id)
	}
	r, _ := s.manager.GetRun(id)
	return runResponse{RunID: id, Status: r.Status}, nil
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		return c.JSON(http.StatusBadRequest, RPCResponse{JSONRPC: "2.0", Error: rpcErr})
	}

	ctx := tracing.NewRequestContext(c.Request().Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("request_id", req.ID).Str("method", req.Method).Msg("received HTTP RPC request")

	return c.JSON(http.StatusOK, s.router.RouteRequest(ctx, req))
}

// handleWebSocket accepts a firehose client. The client receives every
// run.status event and may send JSON-RPC requests on the same connection.
func (s *Server) handleWebSocket(c echo.Context) error {
	if s.shuttingDown() {
		return c.JSON(http.StatusServiceUnavailable, errorBody("server is shutting down"))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade connection")
		return nil
	}

	clientID, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to generate client id: %w", err)
	}
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    c.RealIP(),
		RateLimiter:  NewClientRateLimiter(wsRequestsPerMinute, wsMaxConcurrent),
	}
	s.clients.Add(client)
	s.logger.Info().Str("client_id", clientID).Str("ip", client.IPAddress).Msg("client connected")

	s.handleClient(c.Request().Context(), client)
	return nil
}

func (s *Server) handleClient(ctx context.Context, client *Client) {
	ctx = context.WithoutCancel(ctx)
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("websocket error")
			}
			return
		}
		s.clients.UpdateActivity(client.ID)
		s.handleMessage(ctx, client, message)
	}
}

func (s *Server) handleMessage(ctx context.Context, client *Client, message []byte) {
	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		return
	}

	allowed, reason := client.RateLimiter.CheckRequestAllowed()
	if !allowed {
		code := RateLimitExceeded
		if reason == ReasonTooConcurrent {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, reason)
		return
	}
	client.RateLimiter.RecordRequestStart()

	go func() {
		defer client.RateLimiter.RecordRequestEnd()

		response := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Warn().Err(err).Str("client_id", client.ID).Str("request_id", req.ID).Msg("failed to send response")
		}
	}()
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	resp := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
	}
	if err := client.WriteJSON(resp); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("failed to send error")
	}
}
