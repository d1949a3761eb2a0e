// OpenAI provider on the go-openai library, also backing any
// OpenAI-compatible endpoint (DeepSeek reuses it with a custom base URL).
//
// Information Hiding:
// - Endpoint, authentication, and chat-completions wire format
// - Streaming via go-openai's stream reader

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client      *openai.Client
	name        string
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		name:        "openai",
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// newOpenAICompatibleProvider targets a non-OpenAI endpoint speaking the
// same protocol.
func newOpenAICompatibleProvider(name, apiKey, baseURL, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		name:        name,
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) request(messages []ChatMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    openaiMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var content string
	finish := FinishStop
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finish = openaiFinishReason(resp.Choices[0].FinishReason)
	}

	return LLMResponse{
		Content:      content,
		FinishReason: finish,
		Usage:        openaiUsage(resp.Usage),
	}, nil
}

func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	req := p.request(messages)
	req.Tools = make([]openai.Tool, len(tools))
	for i, t := range tools {
		req.Tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var content string
	var toolCalls []ToolCall
	finish := FinishStop
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		content = choice.Message.Content
		finish = openaiFinishReason(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}
	if len(toolCalls) > 0 {
		finish = FinishToolCalls
	}

	return LLMResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage:        openaiUsage(resp.Usage),
	}, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	req := p.request(messages)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var usage *TokenUsage
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return usage, nil
		}
		if err != nil {
			return usage, fmt.Errorf("stream recv failed: %w", err)
		}

		// Usage arrives in the final chunk only
		if response.Usage != nil {
			usage = &TokenUsage{
				PromptTokens:     uint32(response.Usage.PromptTokens),
				CompletionTokens: uint32(response.Usage.CompletionTokens),
				TotalTokens:      uint32(response.Usage.TotalTokens),
			}
		}

		if len(response.Choices) > 0 {
			if content := response.Choices[0].Delta.Content; content != "" {
				select {
				case chunks <- content:
				case <-ctx.Done():
					return usage, ctx.Err()
				}
			}
		}
	}
}

func openaiFinishReason(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishLength
	default:
		return FinishOther
	}
}

func openaiUsage(u openai.Usage) *TokenUsage {
	return &TokenUsage{
		PromptTokens:     uint32(u.PromptTokens),
		CompletionTokens: uint32(u.CompletionTokens),
		TotalTokens:      uint32(u.TotalTokens),
	}
}

// openaiMessages converts the conversation, carrying assistant tool calls
// and tool-result call IDs through unchanged.
func openaiMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		result[i] = converted
	}
	return result
}

var _ Provider = (*OpenAIProvider)(nil)
