// Client - simple wrapper around providers.

package llm

import (
	"context"
)

// Client wraps a Provider with a small convenience surface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Chat sends a no-tools completion request and returns the full response.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return c.provider.Chat(ctx, messages)
}

// ChatText sends a no-tools completion request and returns just the content.
func (c *Client) ChatText(ctx context.Context, messages []ChatMessage) (string, *TokenUsage, error) {
	response, err := c.provider.Chat(ctx, messages)
	if err != nil {
		return "", nil, err
	}
	return response.Content, response.Usage, nil
}

// ChatWithTools sends a completion request with tool definitions.
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	return c.provider.ChatWithTools(ctx, messages, tools)
}

// StreamChat streams a no-tools chat completion.
func (c *Client) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	return c.provider.StreamChat(ctx, messages, chunks)
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
