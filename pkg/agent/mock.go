package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	mockStartDelay = 500 * time.Millisecond
	mockTokenDelay = 50 * time.Millisecond
	mockChunkRunes = 5
)

// MockAgent streams a scripted reply without touching any backend. It serves
// local development and the placeholder agent types.
type MockAgent struct {
	AlwaysHealthy

	name       string
	tokens     []string
	startDelay time.Duration
	tokenDelay time.Duration
	err        error
}

// MockOption configures a MockAgent.
type MockOption func(*MockAgent)

// WithScript replaces the generated reply with fixed tokens.
func WithScript(tokens ...string) MockOption {
	return func(m *MockAgent) {
		m.tokens = append([]string{}, tokens...)
	}
}

// WithDelays sets the pause before the first token and between tokens.
func WithDelays(start, between time.Duration) MockOption {
	return func(m *MockAgent) {
		m.startDelay = start
		m.tokenDelay = between
	}
}

// WithFailure makes Run return err after streaming its tokens.
func WithFailure(err error) MockOption {
	return func(m *MockAgent) {
		m.err = err
	}
}

// WithName overrides the reported agent name.
func WithName(name string) MockOption {
	return func(m *MockAgent) {
		m.name = name
	}
}

func NewMockAgent(opts ...MockOption) *MockAgent {
	m := &MockAgent{
		name:       TypeMock,
		startDelay: mockStartDelay,
		tokenDelay: mockTokenDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockAgent) Name() string {
	return m.name
}

func (m *MockAgent) Run(ctx context.Context, prompt string, sink chan<- StreamEvent) error {
	if err := sleepCtx(ctx, m.startDelay); err != nil {
		return err
	}

	tokens := m.tokens
	if tokens == nil {
		tokens = chunkRunes(mockReply(prompt), mockChunkRunes)
	}

	for i, tok := range tokens {
		if i > 0 {
			if err := sleepCtx(ctx, m.tokenDelay); err != nil {
				return err
			}
		}
		if err := Emit(ctx, sink, Token(tok)); err != nil {
			return err
		}
	}

	if m.err != nil {
		return m.err
	}
	_ = Emit(ctx, sink, Done(uuid.NewString()))
	return nil
}

func mockReply(prompt string) string {
	r := []rune(prompt)
	if len(r) > 50 {
		prompt = string(r[:50]) + "..."
	}
	return fmt.Sprintf("Received your message: %q\n\n"+
		"This is a simulated reply from the mock agent. In production a real agent "+
		"(Claude Code, Codex, an LLM API) answers here.\n\n"+
		"The mock agent needs no API key and streams its output in small chunks.", prompt)
}

func chunkRunes(s string, size int) []string {
	r := []rune(s)
	chunks := make([]string, 0, len(r)/size+1)
	for len(r) > 0 {
		n := min(size, len(r))
		chunks = append(chunks, string(r[:n]))
		r = r[n:]
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
