package outbound

import (
	"context"

	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one message in a provider conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// CompletionRequest asks the provider for the next assistant turn.
type CompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	Tools     []toolschema.ToolDefinition
	MaxTokens int
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Completion is the provider's answer.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ModelClient talks to an OpenAI-compatible chat completion API.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
