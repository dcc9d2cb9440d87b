package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/rs/zerolog"
)

// DefaultProvider is the entry a gateway agent routes to when its model does
// not name a registered provider.
const DefaultProvider = "openrouter"

// Registry maps provider names to gateway configs. It is constructed once per
// process and passed to whoever needs it. Gateways are cached per entry so
// that round-robin state survives across runs; any change to an entry drops
// its cached gateway.
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]Config
	order    []string
	gateways map[string]*Gateway
	logger   zerolog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		configs:  make(map[string]Config),
		gateways: make(map[string]*Gateway),
		logger:   logger.With().Str("component", "provider_registry").Logger(),
	}
}

// Register adds or replaces the entry for name.
func (r *Registry) Register(name string, cfg Config) error {
	if name == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; !exists {
		r.order = append(r.order, name)
	}
	r.configs[name] = cfg.Clone()
	r.dropCachedLocked(name)

	r.logger.Debug().Str("provider", name).Str("primary", cfg.Provider).Msg("provider registered")
	return nil
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	if !ok {
		return Config{}, false
	}
	return cfg.Clone(), true
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Clone(r.order)
	slices.Sort(names)
	return names
}

// Remove deletes the entry for name and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[name]; !ok {
		return false
	}
	delete(r.configs, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.dropCachedLocked(name)
	return true
}

// Replace swaps the whole registry content for entries, validating all of
// them first. It is used by config hot reload.
func (r *Registry) Replace(entries map[string]Config) error {
	for name, cfg := range entries {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs = make(map[string]Config, len(entries))
	for _, name := range names {
		r.configs[name] = entries[name].Clone()
	}
	r.order = names
	r.gateways = make(map[string]*Gateway)
	return nil
}

func (r *Registry) dropCachedLocked(name string) {
	for key, g := range r.gateways {
		if key == name || g.config.Provider == name || slices.Contains(g.config.FallbackProviders, name) {
			delete(r.gateways, key)
		}
	}
}

// DefaultConfigs returns the built-in openrouter, openai and anthropic
// entries. Credentials come from the environment at run time.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		"openrouter": {
			Provider:          "openrouter",
			Model:             "openai/gpt-4",
			BaseURL:           "https://openrouter.ai/api/v1",
			FallbackProviders: []string{"openai", "anthropic"},
			LoadBalancing:     RoundRobin,
		},
		"openai": {
			Provider:          "openai",
			Model:             "gpt-4",
			BaseURL:           "https://api.openai.com/v1",
			FallbackProviders: []string{"openrouter"},
			LoadBalancing:     RoundRobin,
		},
		"anthropic": {
			Provider:          "anthropic",
			Model:             "claude-3-sonnet-20240229",
			BaseURL:           "https://api.anthropic.com",
			FallbackProviders: []string{"openai"},
			LoadBalancing:     RoundRobin,
		},
	}
}

// RegisterDefaults installs DefaultConfigs, openrouter first.
func (r *Registry) RegisterDefaults() {
	defaults := DefaultConfigs()
	for _, name := range []string{"openrouter", "openai", "anthropic"} {
		_ = r.Register(name, defaults[name])
	}
}

// Gateway returns the cached gateway for the named entry, building it on
// first use.
func (r *Registry) Gateway(name string, creator agent.Creator) (*Gateway, error) {
	return r.gatewayFor(name, name, creator, nil)
}

func (r *Registry) gatewayFor(key, name string, creator agent.Creator, mutate func(*Config)) (*Gateway, error) {
	r.mu.RLock()
	g, ok := r.gateways[key]
	cfg, exists := r.configs[name]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	cfg = cfg.Clone()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := New(cfg, creator, WithLookup(r.Get), WithLogger(r.logger))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.gateways[key]; ok {
		return cached, nil
	}
	r.gateways[key] = g
	return g, nil
}

// Route runs prompt through the gateway registered as target. An empty
// target selects the first provider registered.
func (r *Registry) Route(ctx context.Context, creator agent.Creator, target, prompt string, sink chan<- agent.StreamEvent) error {
	name := target
	if name == "" {
		r.mu.RLock()
		if len(r.order) > 0 {
			name = r.order[0]
		}
		r.mu.RUnlock()
		if name == "" {
			return ErrNoProviders
		}
	}

	g, err := r.Gateway(name, creator)
	if err != nil {
		return err
	}
	return g.Run(ctx, prompt, sink)
}

// HealthCheck checks every registered entry. A nil value means healthy.
func (r *Registry) HealthCheck(ctx context.Context, creator agent.Creator) map[string]error {
	results := make(map[string]error)
	for _, name := range r.List() {
		g, err := r.Gateway(name, creator)
		if err != nil {
			results[name] = err
			continue
		}
		results[name] = g.HealthCheck(ctx)
	}
	return results
}

// AgentBuilder returns the factory hook for the "gateway" agent type. A model
// naming a registered entry selects that entry; any other model is routed
// through DefaultProvider with the model overridden.
func (r *Registry) AgentBuilder() agent.GatewayBuilder {
	return func(cfg agent.Config, creator agent.Creator) (agent.Agent, error) {
		if cfg.Model != "" {
			if _, ok := r.Get(cfg.Model); ok {
				return asAgent(r.Gateway(cfg.Model, creator))
			}
		}

		if _, ok := r.Get(DefaultProvider); !ok {
			if cfg.Model == "" {
				return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, DefaultProvider)
			}
			return asAgent(New(Config{Provider: DefaultProvider, Model: cfg.Model}, creator, WithLogger(r.logger)))
		}

		if cfg.Model == "" {
			return asAgent(r.Gateway(DefaultProvider, creator))
		}
		model := cfg.Model
		return asAgent(r.gatewayFor(DefaultProvider+"@"+model, DefaultProvider, creator, func(c *Config) {
			c.Model = model
		}))
	}
}

// asAgent keeps a nil *Gateway from becoming a non-nil agent.Agent.
func asAgent(g *Gateway, err error) (agent.Agent, error) {
	if err != nil {
		return nil, err
	}
	return g, nil
}
