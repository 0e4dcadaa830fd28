package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Spec holds the defaults of one provider.
type Spec struct {
	Name         string
	DefaultModel string
	BaseURL      string
	// EnvKey is read when no api_key is configured.
	EnvKey string
	// Temperature overrides agent.temperature when set.
	Temperature *float64
	// NeedsKey is false for local providers.
	NeedsKey bool
}

var groqTemperature = 0.3

var specs = map[string]Spec{
	config.ProviderOpenRouter: {
		Name:         config.ProviderOpenRouter,
		DefaultModel: "xiaomi/mimo-v2-flash:free",
		BaseURL:      "https://openrouter.ai/api/v1",
		EnvKey:       "OPEN_ROUTER_API_KEY",
		NeedsKey:     true,
	},
	config.ProviderGoogle: {
		Name:         config.ProviderGoogle,
		DefaultModel: "gemini-2.5-flash",
		BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai/",
		EnvKey:       "GOOGLE_API_KEY",
		NeedsKey:     true,
	},
	config.ProviderGroq: {
		Name:         config.ProviderGroq,
		DefaultModel: "openai/gpt-oss-120b",
		BaseURL:      "https://api.groq.com/openai/v1",
		EnvKey:       "GROQ_API_KEY",
		Temperature:  &groqTemperature,
		NeedsKey:     true,
	},
	config.ProviderOpenAI: {
		Name:         config.ProviderOpenAI,
		DefaultModel: "gpt-4o-mini",
		EnvKey:       "OPENAI_API_KEY",
		NeedsKey:     true,
	},
	config.ProviderClaude: {
		Name:         config.ProviderClaude,
		DefaultModel: "claude-sonnet-4-5",
		EnvKey:       "ANTHROPIC_API_KEY",
		NeedsKey:     true,
	},
	config.ProviderOllama: {
		Name:         config.ProviderOllama,
		DefaultModel: "llama3.1",
		BaseURL:      "http://localhost:11434",
	},
}

// Resolved is the effective provider configuration.
type Resolved struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Resolve merges agent settings, provider settings, environment keys and
// provider defaults.
func Resolve(cfg *config.Config) (Resolved, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Agent.Provider))
	if name == "" {
		name = config.ProviderOpenRouter
	}
	spec, ok := specs[name]
	if !ok {
		return Resolved{}, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
	pc := providerConfig(cfg, name)

	r := Resolved{
		Provider:    name,
		Model:       strings.TrimSpace(cfg.Agent.Model),
		APIKey:      strings.TrimSpace(pc.APIKey),
		BaseURL:     strings.TrimSpace(pc.BaseURL),
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	}
	if r.Model == "" {
		r.Model = spec.DefaultModel
	}
	if r.APIKey == "" && spec.EnvKey != "" {
		r.APIKey = strings.TrimSpace(os.Getenv(spec.EnvKey))
	}
	if r.BaseURL == "" {
		r.BaseURL = spec.BaseURL
	}
	if spec.Temperature != nil {
		r.Temperature = *spec.Temperature
	}
	if spec.NeedsKey && r.APIKey == "" {
		return r, fmt.Errorf("provider %s has no api key: set providers.%s.api_key or %s", name, name, spec.EnvKey)
	}
	return r, nil
}

// NewChatModel creates a ChatModel based on configuration
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	r, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	switch r.Provider {
	case config.ProviderClaude:
		return newClaudeModel(ctx, r)
	case config.ProviderOllama:
		return newOllamaModel(ctx, r)
	default:
		return newOpenAICompatibleModel(ctx, r)
	}
}

func newOpenAICompatibleModel(ctx context.Context, r Resolved) (model.ChatModel, error) {
	cfg := &openai.ChatModelConfig{
		Model:       r.Model,
		APIKey:      r.APIKey,
		Temperature: toFloat32Ptr(r.Temperature),
		MaxTokens:   toIntPtr(r.MaxTokens),
	}
	if r.BaseURL != "" {
		cfg.BaseURL = r.BaseURL
	}
	return openai.NewChatModel(ctx, cfg)
}

func newClaudeModel(ctx context.Context, r Resolved) (model.ChatModel, error) {
	cfg := &claude.Config{
		APIKey:      r.APIKey,
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: toFloat32Ptr(r.Temperature),
	}
	if r.BaseURL != "" {
		baseURL := r.BaseURL
		cfg.BaseURL = &baseURL
	}
	return claude.NewChatModel(ctx, cfg)
}

func newOllamaModel(ctx context.Context, r Resolved) (model.ChatModel, error) {
	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: strings.TrimSuffix(r.BaseURL, "/"),
		Model:   r.Model,
	})
}

func providerConfig(cfg *config.Config, name string) config.ProviderConfig {
	p := cfg.Providers
	switch name {
	case config.ProviderOpenRouter:
		return p.OpenRouter
	case config.ProviderGoogle:
		return p.Google
	case config.ProviderGroq:
		return p.Groq
	case config.ProviderOpenAI:
		return p.OpenAI
	case config.ProviderClaude:
		return p.Claude
	case config.ProviderOllama:
		return p.Ollama
	default:
		return config.ProviderConfig{}
	}
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
