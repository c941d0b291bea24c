// Package llm talks to OpenAI-compatible chat completion providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrMissingAPIKey means the configured key variable is empty.
var ErrMissingAPIKey = errors.New("model provider API key not set")

// Config configures OpenRouterClient.
type Config struct {
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	// Referer and Title identify the application to OpenRouter.
	Referer    string
	Title      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenRouterClient implements outbound.ModelClient with the OpenAI SDK
// pointed at OpenRouter.
type OpenRouterClient struct {
	client openai.Client
}

// NewOpenRouterClient creates a client. The key is taken from cfg.APIKey or,
// when empty, from the environment variable cfg.APIKeyEnv.
func NewOpenRouterClient(cfg Config) (*OpenRouterClient, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, cfg.APIKeyEnv)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenRouterClient{client: openai.NewClient(opts...)}, nil
}

// Complete implements outbound.ModelClient.
func (c *OpenRouterClient) Complete(ctx context.Context, req outbound.CompletionRequest) (*outbound.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, def := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.Parameters),
			},
		})
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices returned")
	}

	choice := resp.Choices[0]
	out := &outbound.Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: outbound.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, outbound.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toMessages(msgs []outbound.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case router.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case router.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case router.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

var _ outbound.ModelClient = (*OpenRouterClient)(nil)
