// Provider selection and construction.
//
// Information Hiding: which SDK backs a provider type, and the defaults a
// half-configured builder falls back to, are internal. Callers pick a
// ProviderType, optionally chain Model/MaxTokens/Temperature, and finish
// with FromEnv or APIKey.

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType identifies a supported LLM backend.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderDeepSeek
	ProviderGemini
)

// providerInfo carries the static facts about one backend.
type providerInfo struct {
	name         string
	envVar       string
	defaultModel string
	construct    func(apiKey, model string, maxTokens uint32, temperature float32) Provider
}

var providers = map[ProviderType]providerInfo{
	ProviderOpenAI: {
		name: "openai", envVar: "OPENAI_API_KEY", defaultModel: ModelOpenAIGPT52,
		construct: func(k, m string, t uint32, temp float32) Provider { return NewOpenAIProvider(k, m, t, temp) },
	},
	ProviderAnthropic: {
		name: "anthropic", envVar: "ANTHROPIC_API_KEY", defaultModel: ModelAnthropicClaudeOpus45,
		construct: func(k, m string, t uint32, temp float32) Provider { return NewAnthropicProvider(k, m, t, temp) },
	},
	ProviderDeepSeek: {
		name: "deepseek", envVar: "DEEPSEEK_API_KEY", defaultModel: ModelDeepSeekV32,
		construct: func(k, m string, t uint32, temp float32) Provider { return NewDeepSeekProvider(k, m, t, temp) },
	},
	ProviderGemini: {
		name: "gemini", envVar: "GEMINI_API_KEY", defaultModel: ModelGeminiFlash3,
		construct: func(k, m string, t uint32, temp float32) Provider { return NewGeminiProvider(k, m, t, temp) },
	},
}

func (p ProviderType) String() string {
	if info, ok := providers[p]; ok {
		return info.name
	}
	return "unknown"
}

// EnvVar returns the environment variable holding this provider's API key.
func (p ProviderType) EnvVar() string {
	return providers[p].envVar
}

// DefaultModel returns the model used when none is configured.
func (p ProviderType) DefaultModel() string {
	return providers[p].defaultModel
}

// ParseProviderType resolves a user-supplied provider name, accepting the
// common aliases (gpt, claude, google). Case-insensitive.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv builds the provider with defaults, reading the API key from the
// environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts a builder with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey builds the provider with an explicit key and defaults otherwise.
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder accumulates provider configuration before construction.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{providerType: providerType}
}

// Model overrides the provider's default model.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens caps response length.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets sampling temperature.
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv finishes the build, reading the API key from the environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey finishes the build with an explicit key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	info, ok := providers[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}

	model := b.model
	if model == "" {
		model = info.defaultModel
	}
	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	temperature := float32(0.7)
	if b.temperature != nil {
		temperature = *b.temperature
	}

	return info.construct(apiKey, model, maxTokens, temperature), nil
}

// Model identifiers per provider (January 2026).
const (
	ModelOpenAIGPT52     = "gpt-5.2"
	ModelOpenAIGPT5      = "gpt-5"
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"

	ModelAnthropicClaudeOpus45  = "claude-opus-4-5-20251101"
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelAnthropicClaudeHaiku4  = "claude-haiku-4-20250514"

	ModelDeepSeekV32 = "deepseek-v3.2"
	ModelDeepSeekR1  = "deepseek-r1"

	ModelGeminiPro3   = "gemini-3-pro"
	ModelGeminiFlash3 = "gemini-3-flash"
	ModelGeminiFlash2 = "gemini-2.0-flash"
)
