package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

func TestOpenRouterClient_Complete(t *testing.T) {
	t.Parallel()

	var got map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "gen-1",
			"object": "chat.completion",
			"created": 1,
			"model": "anthropic/claude-opus-4.5",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "query_themes", "arguments": "{\"limit\":5}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer srv.Close()

	c, err := NewOpenRouterClient(Config{BaseURL: srv.URL, APIKey: "test-key", Title: "aigate"})
	if err != nil {
		t.Fatalf("NewOpenRouterClient() error: %v", err)
	}
	comp, err := c.Complete(context.Background(), outbound.CompletionRequest{
		Model: "anthropic/claude-opus-4.5",
		Messages: []outbound.ChatMessage{
			{Role: "system", Content: "be nice"},
			{Role: "user", Content: "Zeige mir alle Themes"},
		},
		Tools: []toolschema.ToolDefinition{{
			Name:        "query_themes",
			Description: "Query themes",
			Parameters:  map[string]any{"type": "object"},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if len(comp.ToolCalls) != 1 || comp.ToolCalls[0].Name != "query_themes" || comp.ToolCalls[0].Arguments != `{"limit":5}` {
		t.Errorf("ToolCalls = %+v", comp.ToolCalls)
	}
	if comp.FinishReason != "tool_calls" || comp.Usage.PromptTokens != 12 || comp.Usage.CompletionTokens != 7 {
		t.Errorf("completion = %+v", comp)
	}
	if got["model"] != "anthropic/claude-opus-4.5" {
		t.Errorf("request model = %v", got["model"])
	}
	tools, _ := got["tools"].([]any)
	if len(tools) != 1 {
		t.Errorf("request tools = %v", got["tools"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("request messages = %v", got["messages"])
	}
	if headers.Get("Authorization") != "Bearer test-key" || headers.Get("X-Title") != "aigate" {
		t.Errorf("headers = %v", headers)
	}
}

func TestToMessages_AssistantToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	msgs := toMessages([]outbound.ChatMessage{
		{Role: "assistant", ToolCalls: []outbound.ToolCall{{ID: "c1", Name: "query_themes", Arguments: "{}"}}},
		{Role: "tool", Content: `{"success":true}`, ToolCallID: "c1"},
	})
	b, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0]["role"] != "assistant" || decoded[1]["role"] != "tool" || decoded[1]["tool_call_id"] != "c1" {
		t.Errorf("messages = %s", b)
	}
}

func TestNewOpenRouterClient_MissingKey(t *testing.T) {
	t.Setenv("AIGATE_TEST_EMPTY_KEY", "")
	_, err := NewOpenRouterClient(Config{APIKeyEnv: "AIGATE_TEST_EMPTY_KEY"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("error = %v, want ErrMissingAPIKey", err)
	}
}
