package agent

import (
	"fmt"
	"strings"
)

// providerDefaults describe how an HTTP LLM agent resolves its settings.
type providerDefaults struct {
	name       string
	keyEnv     string
	baseURLEnv string
	baseURL    string
	model      string
}

var (
	openAIDefaults = providerDefaults{
		name:       TypeOpenAI,
		keyEnv:     APIKeyEnv(TypeOpenAI),
		baseURLEnv: BaseURLEnv(TypeOpenAI),
		baseURL:    "https://api.openai.com/v1",
		model:      "gpt-4",
	}
	anthropicDefaults = providerDefaults{
		name:       TypeAnthropic,
		keyEnv:     APIKeyEnv(TypeAnthropic),
		baseURLEnv: BaseURLEnv(TypeAnthropic),
		model:      "claude-3-sonnet-20240229",
	}
	openRouterDefaults = providerDefaults{
		name:       TypeOpenRouter,
		keyEnv:     APIKeyEnv(TypeOpenRouter),
		baseURLEnv: BaseURLEnv(TypeOpenRouter),
		baseURL:    "https://openrouter.ai/api/v1",
		model:      "openai/gpt-4",
	}
)

// APIKeyEnv is the env key an HTTP provider agent reads its API key from,
// e.g. OPENAI_API_KEY.
func APIKeyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

// BaseURLEnv is the env key overriding a provider's base URL.
func BaseURLEnv(provider string) string {
	return strings.ToUpper(provider) + "_BASE_URL"
}

type providerSettings struct {
	apiKey  string
	baseURL string
	model   string
}

// resolveSettings reads credentials from the config env first, then the
// process env. A missing key is a configuration error.
func resolveSettings(cfg Config, d providerDefaults) (providerSettings, error) {
	key, ok := cfg.Lookup(d.keyEnv)
	if !ok {
		return providerSettings{}, fmt.Errorf("%w: no %s API key, set %s", ErrMissingCredentials, d.name, d.keyEnv)
	}

	s := providerSettings{apiKey: key, baseURL: d.baseURL, model: d.model}
	if v, ok := cfg.Lookup(d.baseURLEnv); ok {
		s.baseURL = v
	}
	if cfg.Model != "" {
		s.model = cfg.Model
	}
	return s, nil
}
