package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAgent streams chat completions from OpenAI or any API speaking the
// same protocol, such as OpenRouter.
type OpenAIAgent struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAIAgent creates an agent for api.openai.com.
func NewOpenAIAgent(cfg Config) (*OpenAIAgent, error) {
	return newOpenAICompatible(cfg, openAIDefaults)
}

// NewOpenRouterAgent creates an agent for openrouter.ai.
func NewOpenRouterAgent(cfg Config) (*OpenAIAgent, error) {
	return newOpenAICompatible(cfg, openRouterDefaults)
}

func newOpenAICompatible(cfg Config, d providerDefaults) (*OpenAIAgent, error) {
	s, err := resolveSettings(cfg, d)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(s.apiKey),
		// Retries belong to the gateway, across providers.
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}

	return &OpenAIAgent{
		name:   d.name,
		model:  s.model,
		client: openai.NewClient(opts...),
	}, nil
}

func (a *OpenAIAgent) Name() string {
	return a.name
}

// Model returns the model requests are sent to.
func (a *OpenAIAgent) Model() string {
	return a.model
}

// HealthCheck lists models, which proves both reachability and a valid key.
func (a *OpenAIAgent) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", a.name, err)
	}
	return nil
}

func (a *OpenAIAgent) Run(ctx context.Context, prompt string, sink chan<- StreamEvent) error {
	stream := a.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := Emit(ctx, sink, Token(choice.Delta.Content)); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%s stream failed: %w", a.name, err)
	}

	_ = Emit(ctx, sink, Done(uuid.NewString()))
	return nil
}
