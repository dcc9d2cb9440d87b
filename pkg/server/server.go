// Package server exposes runs, providers and an OpenAI-compatible chat
// endpoint over HTTP, server-sent events and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/lipish/openrunner/pkg/run"
	"github.com/rs/zerolog"
)

const limiterPruneInterval = time.Minute

// RunArchive is the read side of the run history.
type RunArchive interface {
	Get(ctx context.Context, id string) (run.Run, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]run.Run, error)
	Count(ctx context.Context) (int, error)
}

// Config wires a Server. Manager, Providers and Factory are required.
type Config struct {
	Host string
	Port int

	Manager   *run.Manager
	Providers *gateway.Registry
	Factory   agent.Creator
	// Archive, if set, serves runs that the janitor already evicted.
	Archive RunArchive
	// Broadcaster, if set, is the one registered as the manager's observer.
	Broadcaster *EventBroadcaster

	// DefaultAgent is used for submissions without a config and as the base
	// that a submitted config overrides.
	DefaultAgent agent.Config

	RateLimit     int
	MaxConcurrent int
	CORSOrigins   []string

	Logger zerolog.Logger
}

// Server is the HTTP transport in front of the run manager and the provider
// registry.
type Server struct {
	addr         string
	echo         *echo.Echo
	manager      *run.Manager
	providers    *gateway.Registry
	factory      agent.Creator
	archive      RunArchive
	defaultAgent agent.Config
	clients      *ClientRegistry
	broadcaster  *EventBroadcaster
	router       *RPCRouter
	limiter      *IPRateLimiter
	upgrader     websocket.Upgrader
	logger       zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	stopPrune      chan struct{}
	pruneOnce      sync.Once
}

func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("run manager is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("agent factory is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.DefaultAgent.Type == "" {
		cfg.DefaultAgent = agent.DefaultConfig()
	}

	logger := cfg.Logger.With().Str("component", "server").Logger()
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster(NewClientRegistry(), cfg.Logger)
	}

	s := &Server{
		addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		echo:         echo.New(),
		manager:      cfg.Manager,
		providers:    cfg.Providers,
		factory:      cfg.Factory,
		archive:      cfg.Archive,
		defaultAgent: cfg.DefaultAgent.Clone(),
		clients:      broadcaster.Clients(),
		broadcaster:  broadcaster,
		router:       NewRPCRouter(),
		limiter:      NewIPRateLimiter(cfg.RateLimit, cfg.MaxConcurrent),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:    logger,
		stopPrune: make(chan struct{}),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleHTTPError

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	s.echo.Use(s.requestLogger())

	s.registerRoutes()
	s.registerBuiltinMethods()
	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.health)
	e.GET("/health/agents", s.agentHealth)
	e.GET("/agents", s.listAgents)
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))

	runs := e.Group("/api/runs")
	runs.POST("", s.createRun, s.rateLimit)
	runs.POST("/sync", s.createRunSync, s.rateLimit)
	runs.GET("", s.listRuns)
	runs.GET("/:id", s.getRun)
	runs.POST("/:id/cancel", s.cancelRun)
	runs.GET("/:id/events", s.streamRunEvents)
	runs.GET("/:id/ws", s.streamRunWebSocket)

	providers := e.Group("/api/providers")
	providers.GET("", s.listProviders)
	providers.POST("", s.registerProvider)
	providers.POST("/health-check", s.checkProviders)
	providers.GET("/:name", s.getProvider)
	providers.DELETE("/:name", s.removeProvider)

	e.POST("/v1/chat/completions", s.chatCompletions, s.rateLimit)
	e.GET("/v1/models", s.listModels)

	e.POST("/rpc", s.handleRPC)
	e.GET("/ws", s.handleWebSocket)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Router returns the JSON-RPC router so callers can register more methods.
func (s *Server) Router() *RPCRouter {
	return s.router
}

// Broadcaster returns the firehose broadcaster.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	go s.pruneLimiter()

	s.logger.Info().Str("addr", s.addr).Msg("starting HTTP server")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown tells firehose clients the server is going away, closes their
// connections and drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()
	s.pruneOnce.Do(func() { close(s.stopPrune) })

	s.logger.Info().Msg("shutting down HTTP server")
	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})
	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) pruneLimiter() {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("pruned idle rate limiters")
			}
		case <-s.stopPrune:
			return
		}
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			observability.RecordHTTPRequest(route, v.Status)
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("remote_ip", v.RemoteIP).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

// rateLimit admits run submissions per remote address.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		release, reason, ok := s.limiter.Acquire(c.RealIP())
		if !ok {
			return c.JSON(http.StatusTooManyRequests, errorBody(reason))
		}
		defer release()
		return next(c)
	}
}
