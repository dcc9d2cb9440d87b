package agent

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// GatewayBuilder builds the provider-routing agent. The factory passes itself
// so the gateway can create the provider agents it routes to.
type GatewayBuilder func(cfg Config, creator Creator) (Agent, error)

// Factory maps agent type tags to concrete agents. It is the only place that
// switches on Config.Type.
type Factory struct {
	gateway GatewayBuilder
	logger  zerolog.Logger
}

// FactoryOption configures NewFactory.
type FactoryOption func(*Factory)

// WithGatewayBuilder enables the "gateway" agent type.
func WithGatewayBuilder(b GatewayBuilder) FactoryOption {
	return func(f *Factory) {
		f.gateway = b
	}
}

func WithFactoryLogger(logger zerolog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create instantiates the agent named by cfg.Type from a private copy of cfg.
func (f *Factory) Create(cfg Config) (Agent, error) {
	cfg = cfg.Clone()

	switch cfg.Type {
	case TypeClaudeCode:
		return newClaudeCodeAgent(cfg), nil
	case TypeCodex:
		return newCodexAgent(cfg), nil
	case TypeOpenCode:
		return newOpenCodeAgent(cfg), nil
	case TypeKimiCLI:
		return newKimiAgent(cfg), nil
	case TypeMock:
		return NewMockAgent(), nil
	case TypeDroid, TypeAugment, TypeAmp:
		f.logger.Debug().Str("agent_type", cfg.Type).Msg("no driver for agent type, serving mock")
		return NewMockAgent(WithName(cfg.Type)), nil
	case TypeOpenAI:
		return NewOpenAIAgent(cfg)
	case TypeAnthropic:
		return NewAnthropicAgent(cfg)
	case TypeOpenRouter:
		return NewOpenRouterAgent(cfg)
	case TypeGateway:
		if f.gateway == nil {
			return nil, errors.New("gateway agent type is not configured")
		}
		return f.gateway(cfg, f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, cfg.Type)
	}
}

// Types lists every type tag Create understands, in display order.
func Types() []string {
	return []string{
		TypeClaudeCode,
		TypeCodex,
		TypeOpenCode,
		TypeKimiCLI,
		TypeOpenAI,
		TypeAnthropic,
		TypeOpenRouter,
		TypeGateway,
		TypeMock,
		TypeDroid,
		TypeAugment,
		TypeAmp,
	}
}
