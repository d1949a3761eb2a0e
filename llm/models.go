// Package llm provides shared data models for LLM providers.
package llm

import "encoding/json"

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
}

// ToolCall represents a tool call requested by the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition defines a tool that the LLM can call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// ToolResultMessage creates a tool result message for a prior tool call.
func ToolResultMessage(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: toolCallID}
}

// FinishReason indicates why the model stopped emitting.
type FinishReason string

const (
	// FinishStop means the model produced a complete answer.
	FinishStop FinishReason = "stop"
	// FinishToolCalls means the model requested tool executions.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishLength means the response hit the token limit.
	FinishLength FinishReason = "length"
	// FinishOther covers provider-specific stop reasons.
	FinishOther FinishReason = "other"
)

// LLMResponse represents a single completion turn from a provider.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall // Tool calls requested by the LLM
	FinishReason FinishReason
	Usage        *TokenUsage
}

// RequestedTools reports whether the turn asked for tool executions.
func (r LLMResponse) RequestedTools() bool {
	return len(r.ToolCalls) > 0
}

// TokenUsage contains token usage statistics for one call.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// Add accumulates another call's usage into this one.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
