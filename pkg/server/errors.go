package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/archive"
	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/lipish/openrunner/pkg/run"
)

// ErrInvalidRequest marks request bodies or parameters that failed validation.
var ErrInvalidRequest = errors.New("invalid request")

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, run.ErrRunNotFound),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, gateway.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, run.ErrRunNotPending):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, agent.ErrUnknownAgentType),
		errors.Is(err, agent.ErrMissingCredentials),
		errors.Is(err, gateway.ErrInvalidConfig),
		errors.Is(err, gateway.ErrNoProviders):
		return http.StatusBadRequest
	case errors.Is(err, run.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorBody(msg))
	}
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to write error response")
	}
}
