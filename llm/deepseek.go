// DeepSeek Provider - OpenAI-compatible chat completions API.

package llm

const deepSeekBaseURL = "https://api.deepseek.com/v1"

// NewDeepSeekProvider creates a DeepSeek provider. DeepSeek exposes an
// OpenAI-compatible API, so the implementation is shared with the OpenAI
// provider and only the endpoint and name differ.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return newOpenAICompatibleProvider("deepseek", apiKey, deepSeekBaseURL, model, maxTokens, temperature)
}
