package gateway

import (
	"fmt"
	"slices"
	"strings"
)

// LoadBalancing selects which provider serves a request.
type LoadBalancing string

const (
	RoundRobin LoadBalancing = "round_robin"
	Random     LoadBalancing = "random"
	// LeastLoaded tracks no load signal and behaves exactly like RoundRobin.
	LeastLoaded LoadBalancing = "least_loaded"
)

// Config describes one routable provider entry: a primary provider, its
// ordered fallbacks and the selection policy. An empty LoadBalancing always
// selects the primary.
type Config struct {
	Provider          string        `json:"provider" mapstructure:"provider"`
	Model             string        `json:"model,omitempty" mapstructure:"model"`
	APIKey            string        `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string        `json:"base_url,omitempty" mapstructure:"base_url"`
	FallbackProviders []string      `json:"fallback_providers" mapstructure:"fallback_providers"`
	LoadBalancing     LoadBalancing `json:"load_balancing,omitempty" mapstructure:"load_balancing"`
}

// Providers returns the primary followed by the fallbacks.
func (c Config) Providers() []string {
	return append([]string{c.Provider}, c.FallbackProviders...)
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	out := c
	out.FallbackProviders = slices.Clone(c.FallbackProviders)
	return out
}

// Redacted returns a copy safe to expose over the API.
func (c Config) Redacted() Config {
	out := c.Clone()
	if out.APIKey != "" {
		out.APIKey = "***"
	}
	return out
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	for i, fb := range c.FallbackProviders {
		if strings.TrimSpace(fb) == "" {
			return fmt.Errorf("%w: fallback_providers[%d] is empty", ErrInvalidConfig, i)
		}
	}
	switch c.LoadBalancing {
	case "", RoundRobin, Random, LeastLoaded:
	default:
		return fmt.Errorf("%w: unknown load_balancing %q", ErrInvalidConfig, c.LoadBalancing)
	}
	return nil
}
