package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

const anthropicMaxTokens = 4096

// AnthropicAgent streams messages from the Anthropic API.
type AnthropicAgent struct {
	model  string
	client anthropic.Client
}

func NewAnthropicAgent(cfg Config) (*AnthropicAgent, error) {
	s, err := resolveSettings(cfg, anthropicDefaults)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(s.apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}

	return &AnthropicAgent{
		model:  s.model,
		client: anthropic.NewClient(opts...),
	}, nil
}

func (a *AnthropicAgent) Name() string {
	return TypeAnthropic
}

func (a *AnthropicAgent) Model() string {
	return a.model
}

func (a *AnthropicAgent) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	return nil
}

func (a *AnthropicAgent) Run(ctx context.Context, prompt string, sink chan<- StreamEvent) error {
	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := Emit(ctx, sink, Token(delta.Text)); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream failed: %w", err)
	}

	_ = Emit(ctx, sink, Done(uuid.NewString()))
	return nil
}
