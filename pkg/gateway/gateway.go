package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Name is the agent name a Gateway reports.
const Name = "gateway"

const attemptBuffer = 100

// Gateway is an agent.Agent that routes each run to one of its providers and
// falls back through the configured fallbacks, in order, when that fails.
type Gateway struct {
	config    Config
	providers []string
	counter   atomic.Uint64
	creator   agent.Creator
	lookup    func(name string) (Config, bool)
	randIntN  func(n int) int
	logger    zerolog.Logger
}

// Option configures New.
type Option func(*Gateway)

// WithLookup lets attempts against a fallback provider pick up that
// provider's own registered model and credentials.
func WithLookup(lookup func(name string) (Config, bool)) Option {
	return func(g *Gateway) {
		g.lookup = lookup
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New builds a Gateway over cfg. Provider agents are created through creator
// on every attempt.
func New(cfg Config, creator agent.Creator, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		config:    cfg.Clone(),
		providers: cfg.Providers(),
		creator:   creator,
		randIntN:  rand.IntN,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gateway").Str("primary", cfg.Provider).Logger()
	return g, nil
}

func (g *Gateway) Name() string {
	return Name
}

// Config returns a copy of the gateway configuration.
func (g *Gateway) Config() Config {
	return g.config.Clone()
}

// selectProvider never blocks.
func (g *Gateway) selectProvider() string {
	switch g.config.LoadBalancing {
	case RoundRobin, LeastLoaded:
		idx := (g.counter.Add(1) - 1) % uint64(len(g.providers))
		return g.providers[idx]
	case Random:
		return g.providers[g.randIntN(len(g.providers))]
	default:
		return g.providers[0]
	}
}

// Run tries the selected provider, then each configured fallback in order,
// skipping providers already tried. Tokens are forwarded live; an attempt's
// own Error event is never forwarded, and Done is forwarded only for the
// attempt that succeeded. When every provider fails the last error is
// returned and the Handle running the gateway publishes the Error.
func (g *Gateway) Run(ctx context.Context, prompt string, sink chan<- agent.StreamEvent) error {
	selected := g.selectProvider()
	tried := map[string]bool{selected: true}

	lastErr := g.attempt(ctx, selected, prompt, sink)
	if lastErr == nil {
		return nil
	}

	for _, fb := range g.config.FallbackProviders {
		if ctx.Err() != nil {
			break
		}
		if tried[fb] {
			continue
		}
		tried[fb] = true

		g.logger.Warn().Err(lastErr).Str("failed", selected).Str("fallback", fb).Msg("provider failed, trying fallback")
		observability.RecordGatewayFallback(selected)

		selected = fb
		if lastErr = g.attempt(ctx, fb, prompt, sink); lastErr == nil {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return lastErr
}

// attempt runs one provider through its own Handle and private channel.
func (g *Gateway) attempt(ctx context.Context, provider, prompt string, sink chan<- agent.StreamEvent) (err error) {
	ctx = tracing.PropagateToProvider(ctx, provider)
	ctx, span := tracing.StartSpan(ctx, "gateway.attempt", attribute.String("provider", provider))
	defer func() {
		observability.RecordGatewayAttempt(provider, err == nil)
		tracing.EndSpan(span, err)
	}()

	a, err := g.creator.Create(g.providerConfig(provider))
	if err != nil {
		return fmt.Errorf("provider %s: %w", provider, err)
	}

	events := make(chan agent.StreamEvent, attemptBuffer)
	h := agent.Spawn(a, events, agent.WithLogger(g.logger))
	defer h.Cancel(context.WithoutCancel(ctx))

	result := make(chan error, 1)
	go func() {
		result <- h.Run(ctx, prompt)
	}()

	fwd := forwarder{ctx: ctx, sink: sink}
wait:
	for {
		select {
		case ev := <-events:
			fwd.handle(ev)
		case err = <-result:
			break wait
		}
	}
	// The handle publishes its terminal event before replying.
	for drained := false; !drained; {
		select {
		case ev := <-events:
			fwd.handle(ev)
		default:
			drained = true
		}
	}

	if err != nil {
		g.logger.Debug().Err(err).Str("provider", provider).Msg("provider attempt failed")
		return fmt.Errorf("provider %s: %w", provider, err)
	}

	done := agent.Done(h.ID())
	if fwd.done != nil {
		done = *fwd.done
	}
	fwd.send(done)
	return nil
}

func (g *Gateway) providerConfig(provider string) agent.Config {
	src := g.config
	if provider != g.config.Provider {
		src = Config{}
		if g.lookup != nil {
			if reg, ok := g.lookup(provider); ok && reg.Provider == provider {
				src = reg
			}
		}
	}

	cfg := agent.Config{Type: provider, Model: src.Model, Env: map[string]string{}}
	if src.APIKey != "" {
		cfg.Env[agent.APIKeyEnv(provider)] = src.APIKey
	}
	if src.BaseURL != "" {
		cfg.Env[agent.BaseURLEnv(provider)] = src.BaseURL
	}
	return cfg
}

// HealthCheck succeeds if any provider passes its own check.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, provider := range g.providers {
		a, err := g.creator.Create(g.providerConfig(provider))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider, err))
			continue
		}
		if err := a.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllProvidersUnhealthy, errors.Join(errs...))
}

// forwarder relays one attempt's events to the caller's sink. Once the sink
// is gone it keeps consuming so the attempt can finish.
type forwarder struct {
	ctx    context.Context
	sink   chan<- agent.StreamEvent
	closed bool
	done   *agent.StreamEvent
}

func (f *forwarder) handle(ev agent.StreamEvent) {
	switch ev.Type {
	case agent.EventToken:
		f.send(ev)
	case agent.EventDone:
		if f.done == nil {
			f.done = &ev
		}
	case agent.EventError:
		// Attempt failures stay inside the gateway.
	}
}

func (f *forwarder) send(ev agent.StreamEvent) {
	if f.closed {
		return
	}
	if err := agent.Emit(f.ctx, f.sink, ev); err != nil {
		f.closed = true
	}
}
