package agent

import (
	"maps"
	"os"
	"slices"
	"time"
)

// Agent type tags understood by Factory.Create.
const (
	TypeClaudeCode = "claude_code"
	TypeCodex      = "codex"
	TypeOpenCode   = "opencode"
	TypeKimiCLI    = "kimi_cli"
	TypeMock       = "mock"
	TypeOpenAI     = "openai"
	TypeAnthropic  = "anthropic"
	TypeOpenRouter = "openrouter"
	TypeGateway    = "gateway"

	// Placeholders for CLIs without a driver yet; served by the mock agent.
	TypeDroid   = "droid"
	TypeAugment = "augment"
	TypeAmp     = "amp"
)

// DefaultTimeoutSecs bounds a single agent invocation.
const DefaultTimeoutSecs = 300

// Config describes which agent variant to instantiate and how. It is cloned
// per execution and never mutated once built.
type Config struct {
	Type        string            `json:"agent_type" mapstructure:"agent_type"`
	Model       string            `json:"model,omitempty" mapstructure:"model"`
	WorkingDir  string            `json:"working_dir,omitempty" mapstructure:"working_dir"`
	Env         map[string]string `json:"env,omitempty" mapstructure:"env"`
	ExtraArgs   []string          `json:"extra_args,omitempty" mapstructure:"extra_args"`
	TimeoutSecs uint64            `json:"timeout_secs" mapstructure:"timeout_secs"`
}

// DefaultConfig returns default agent configuration
func DefaultConfig() Config {
	return Config{
		Type:        TypeClaudeCode,
		Env:         map[string]string{},
		TimeoutSecs: DefaultTimeoutSecs,
	}
}

// Clone returns a deep copy so that callers never share the env map or args slice.
func (c Config) Clone() Config {
	out := c
	out.Env = maps.Clone(c.Env)
	out.ExtraArgs = slices.Clone(c.ExtraArgs)
	return out
}

// Timeout returns the configured invocation timeout; zero means unbounded.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Lookup resolves key from the config env overrides first, then the process env.
func (c Config) Lookup(key string) (string, bool) {
	if v, ok := c.Env[key]; ok && v != "" {
		return v, true
	}
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	return "", false
}

// StreamEventType discriminates StreamEvent.
type StreamEventType string

const (
	EventToken StreamEventType = "token"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// StreamEvent is what an agent pushes to its sink. Token events carry an
// incremental chunk; the concatenation of all chunks is the run output.
type StreamEvent struct {
	Type          StreamEventType `json:"type"`
	Content       string          `json:"content,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func Token(content string) StreamEvent {
	return StreamEvent{Type: EventToken, Content: content}
}

func Done(correlationID string) StreamEvent {
	return StreamEvent{Type: EventDone, CorrelationID: correlationID}
}

func Failure(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// Terminal reports whether e ends a run.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
