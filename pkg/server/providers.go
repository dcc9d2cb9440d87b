package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/pkg/gateway"
)

type providerRequest struct {
	Name string `json:"name"`
	gateway.Config
}

// ProviderInfo is the API view of a registry entry. Credentials are masked.
type ProviderInfo struct {
	Name string `json:"name"`
	gateway.Config
}

type providerHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) providerInfos() []ProviderInfo {
	names := s.providers.List()
	infos := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		cfg, ok := s.providers.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, ProviderInfo{Name: name, Config: cfg.Redacted()})
	}
	return infos
}

func (s *Server) listProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": s.providerInfos()})
}

func (s *Server) getProvider(c echo.Context) error {
	name := c.Param("name")
	cfg, ok := s.providers.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", gateway.ErrProviderNotFound, name)
	}
	return c.JSON(http.StatusOK, ProviderInfo{Name: name, Config: cfg.Redacted()})
}

// registerProvider adds or replaces an entry. Entries without a policy use
// round-robin.
func (s *Server) registerProvider(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := validateBody(providerRequestLoader, body); err != nil {
		return err
	}

	var req providerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.LoadBalancing == "" {
		req.LoadBalancing = gateway.RoundRobin
	}
	if err := s.providers.Register(req.Name, req.Config); err != nil {
		return err
	}

	observability.RecordProviderAudit(c.Request().Context(), "provider.register", req.Name, userID(c))
	s.logger.Info().Str("provider", req.Name).Str("primary", req.Provider).Msg("provider registered over API")
	return c.JSON(http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) removeProvider(c echo.Context) error {
	name := c.Param("name")
	if !s.providers.Remove(name) {
		return fmt.Errorf("%w: %s", gateway.ErrProviderNotFound, name)
	}
	observability.RecordProviderAudit(c.Request().Context(), "provider.remove", name, userID(c))
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) checkProviders(c echo.Context) error {
	results := s.providers.HealthCheck(c.Request().Context(), s.factory)

	out := make(map[string]providerHealth, len(results))
	for name, err := range results {
		h := providerHealth{Healthy: err == nil}
		if err != nil {
			h.Error = err.Error()
		}
		out[name] = h
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": out})
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Model   string `json:"model,omitempty"`
}

// listModels lists every registry entry as a model id usable with the
// chat endpoint.
func (s *Server) listModels(c echo.Context) error {
	infos := s.providerInfos()
	models := make([]modelInfo, 0, len(infos))
	for _, info := range infos {
		models = append(models, modelInfo{
			ID:      info.Name,
			Object:  "model",
			OwnedBy: info.Provider,
			Model:   info.Model,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"object": "list", "data": models})
}
