package agent

import "context"

// Agent runs a prompt and streams its output.
//
// On success Run pushes zero or more Token events followed by one Done before
// returning. On failure it returns the error without a terminal event; the
// Handle running it publishes the Error. When ctx is done the consumer has
// gone away: the agent must stop promptly and may return an error. Send
// failures past that point are ignored.
type Agent interface {
	Name() string
	HealthCheck(ctx context.Context) error
	Run(ctx context.Context, prompt string, sink chan<- StreamEvent) error
}

// Creator builds agents from configuration.
type Creator interface {
	Create(cfg Config) (Agent, error)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(cfg Config) (Agent, error)

func (f CreatorFunc) Create(cfg Config) (Agent, error) { return f(cfg) }

// AlwaysHealthy is embedded by agents without a meaningful health check.
type AlwaysHealthy struct{}

func (AlwaysHealthy) HealthCheck(context.Context) error { return nil }

// Emit sends ev to sink unless ctx ends first. A non-nil result means the
// consumer is gone and the caller should stop producing.
func Emit(ctx context.Context, sink chan<- StreamEvent, ev StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case sink <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
