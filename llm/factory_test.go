package llm

import "testing"

func TestParseProviderType(t *testing.T) {
	cases := []struct {
		in   string
		want ProviderType
		ok   bool
	}{
		{"openai", ProviderOpenAI, true},
		{"GPT", ProviderOpenAI, true},
		{"Anthropic", ProviderAnthropic, true},
		{"claude", ProviderAnthropic, true},
		{"deepseek", ProviderDeepSeek, true},
		{"google", ProviderGemini, true},
		{"mystery", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseProviderType(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseProviderType(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseProviderType(%q) should fail", tc.in)
		}
	}
}

func TestProviderDefaults(t *testing.T) {
	for _, p := range []ProviderType{ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini} {
		if p.DefaultModel() == "" {
			t.Errorf("%s has no default model", p)
		}
		if p.EnvVar() == "" {
			t.Errorf("%s has no env var", p)
		}
	}
}

func TestFromEnvRequiresKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	if _, err := ProviderDeepSeek.FromEnv(); err == nil {
		t.Error("expected error without API key")
	}
}

func TestBuilderAppliesConfiguration(t *testing.T) {
	provider, err := ProviderDeepSeek.
		Model(ModelDeepSeekR1).
		MaxTokens(1024).
		Temperature(0.1).
		APIKey("test-key")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if provider.Name() != "deepseek" {
		t.Errorf("unexpected provider name %q", provider.Name())
	}
	if provider.Model() != ModelDeepSeekR1 {
		t.Errorf("unexpected model %q", provider.Model())
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := SystemMessage("x"); m.Role != "system" {
		t.Errorf("system role = %q", m.Role)
	}
	if m := ToolResultMessage("call-1", "out"); m.Role != "tool" || m.ToolCallID != "call-1" {
		t.Errorf("tool result message wrong: %+v", m)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	var total TokenUsage
	total.Add(&TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(nil)
	total.Add(&TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
	if total.TotalTokens != 17 || total.PromptTokens != 11 || total.CompletionTokens != 6 {
		t.Errorf("unexpected accumulation: %+v", total)
	}
}
