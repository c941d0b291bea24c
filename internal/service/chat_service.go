package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kessel-b2b/aigate/internal/ctxkey"
	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/inbound"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

var (
	// ErrNoMessages is returned for a chat request without messages.
	ErrNoMessages = errors.New("no messages provided")
	// ErrModelNotConfigured is returned by Execute when no model client is set.
	ErrModelNotConfigured = errors.New("model client not configured")
)

// RouterMetrics receives one observation per routing decision.
type RouterMetrics interface {
	ObserveRouterDecision(tier, reason string)
}

// ChatRequest is one chat turn from a client.
type ChatRequest struct {
	Messages []router.Message `json:"messages"`
	// Model overrides the routed model when set.
	Model string `json:"model,omitempty"`
	// DryRun overrides the configured default when set.
	DryRun *bool `json:"dryRun,omitempty"`
	// Route is the page the user is on, included in the system prompt.
	Route string `json:"route,omitempty"`

	UserID    string `json:"-"`
	RequestID string `json:"-"`
}

// ChatMetadata is reported to clients as response headers.
type ChatMetadata struct {
	Model        string `json:"model"`
	RouterReason string `json:"routerReason"`
	ToolsEnabled bool   `json:"toolsEnabled"`
}

// ChatPlan is everything decided before the first model call.
type ChatPlan struct {
	Decision     router.Decision
	Model        string
	MaxSteps     int
	Tools        toolschema.Set
	SessionID    string
	DryRun       bool
	SystemPrompt string
	Metadata     ChatMetadata
}

// ToolEvent describes one executed tool call.
type ToolEvent struct {
	Step   int             `json:"step"`
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Args   map[string]any  `json:"args,omitempty"`
	Result toolcall.Result `json:"result"`
}

// ChatResponse is the outcome of Run.
type ChatResponse struct {
	Text      string         `json:"text"`
	ToolCalls []ToolEvent    `json:"toolCalls"`
	Steps     int            `json:"steps"`
	Usage     outbound.Usage `json:"usage"`
	SessionID string         `json:"sessionId"`
	Metadata  ChatMetadata   `json:"metadata"`
}

// ChatService routes a conversation to a model tier and runs the tool loop.
type ChatService struct {
	router   *router.Router
	catalog  *router.Catalog
	tools    inbound.ToolCatalog
	executor inbound.ToolExecutor
	client   outbound.ModelClient
	logger   *slog.Logger

	dryRunDefault bool
	maxTokens     int
	routerMetrics RouterMetrics
	steps         metric.Int64Counter
}

// ChatOption configures ChatService.
type ChatOption func(*ChatService)

// WithModelCatalog replaces the default model catalog.
func WithModelCatalog(c *router.Catalog) ChatOption {
	return func(s *ChatService) { s.catalog = c }
}

// WithDryRunDefault sets the dry-run mode for requests that do not specify one.
func WithDryRunDefault(dryRun bool) ChatOption {
	return func(s *ChatService) { s.dryRunDefault = dryRun }
}

// WithMaxTokens limits completion length. Zero leaves it to the provider.
func WithMaxTokens(n int) ChatOption {
	return func(s *ChatService) { s.maxTokens = n }
}

// WithRouterMetrics records routing decisions.
func WithRouterMetrics(m RouterMetrics) ChatOption {
	return func(s *ChatService) { s.routerMetrics = m }
}

// NewChatService creates a ChatService. client may be nil when only Prepare is used.
func NewChatService(r *router.Router, tools inbound.ToolCatalog, executor inbound.ToolExecutor, client outbound.ModelClient, logger *slog.Logger, opts ...ChatOption) *ChatService {
	s := &ChatService{
		router:   r,
		catalog:  router.DefaultCatalog(),
		tools:    tools,
		executor: executor,
		client:   client,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	steps, err := otel.Meter("github.com/kessel-b2b/aigate/internal/service").Int64Counter(
		"aigate.chat.model_steps",
		metric.WithDescription("Model invocations made by the chat tool loop"),
	)
	if err != nil {
		logger.Warn("failed to create chat step counter", "error", err)
	}
	s.steps = steps
	return s
}

// ModelConfigured reports whether Execute can reach a model.
func (s *ChatService) ModelConfigured() bool {
	return s.client != nil
}

// Route returns the routing decision for messages without preparing tools.
func (s *ChatService) Route(messages []router.Message) router.Decision {
	d := s.router.Decide(messages)
	if s.routerMetrics != nil {
		s.routerMetrics.ObserveRouterDecision(string(d.Tier), d.ReasonTag())
	}
	return d
}

// Prepare routes the request, loads tools when the router asks for them and
// builds the system prompt.
func (s *ChatService) Prepare(ctx context.Context, req ChatRequest) (*ChatPlan, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	d := s.Route(req.Messages)
	plan := &ChatPlan{
		Decision:  d,
		Model:     d.Model,
		MaxSteps:  d.MaxSteps,
		SessionID: uuid.NewString(),
		DryRun:    s.dryRunDefault,
	}
	if req.DryRun != nil {
		plan.DryRun = *req.DryRun
	}
	if req.Model != "" {
		plan.Model = req.Model
	}

	toolsEnabled := d.NeedsTools
	if toolsEnabled && !s.catalog.SupportsTools(plan.Model) {
		ctxkey.Logger(ctx, s.logger).Warn("selected model cannot call tools, disabling tools",
			"model", plan.Model,
			"router_reason", d.Reason,
		)
		toolsEnabled = false
	}
	if toolsEnabled {
		set, err := s.tools.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("load tools: %w", err)
		}
		plan.Tools = set
	}

	plan.SystemPrompt = buildSystemPrompt(req.Route, plan.Tools.Names(), plan.Model)
	plan.Metadata = ChatMetadata{
		Model:        plan.Model,
		RouterReason: d.Reason,
		ToolsEnabled: toolsEnabled,
	}
	ctxkey.Logger(ctx, s.logger).Debug("chat prepared",
		"session_id", plan.SessionID,
		"model", plan.Model,
		"router_reason", d.Reason,
		"tools", len(plan.Tools),
		"max_steps", plan.MaxSteps,
		"dry_run", plan.DryRun,
	)
	return plan, nil
}

// Run prepares and executes the request, returning the final answer.
func (s *ChatService) Run(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	plan, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, req, plan, nil)
}

// Execute runs the tool loop for a prepared plan. It makes at most
// plan.MaxSteps model calls. Tool calls within a step run sequentially.
// emit, when set, is called after every tool call.
func (s *ChatService) Execute(ctx context.Context, req ChatRequest, plan *ChatPlan, emit func(ToolEvent)) (*ChatResponse, error) {
	if s.client == nil {
		return nil, ErrModelNotConfigured
	}

	messages := make([]outbound.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, outbound.ChatMessage{Role: router.RoleSystem, Content: plan.SystemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, outbound.ChatMessage{Role: m.Role, Content: m.Text()})
	}

	tc := toolcall.Context{
		UserID:    req.UserID,
		SessionID: plan.SessionID,
		RequestID: req.RequestID,
		DryRun:    plan.DryRun,
	}
	resp := &ChatResponse{SessionID: plan.SessionID, Metadata: plan.Metadata, ToolCalls: []ToolEvent{}}
	defs := plan.Tools.Sorted()

	for step := 1; step <= plan.MaxSteps; step++ {
		comp, err := s.client.Complete(ctx, outbound.CompletionRequest{
			Model:     plan.Model,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: s.maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("model completion (step %d): %w", step, err)
		}
		resp.Steps = step
		resp.Usage.PromptTokens += comp.Usage.PromptTokens
		resp.Usage.CompletionTokens += comp.Usage.CompletionTokens
		resp.Text = comp.Content
		if s.steps != nil {
			s.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("model", plan.Model)))
		}

		if len(comp.ToolCalls) == 0 {
			break
		}
		messages = append(messages, outbound.ChatMessage{
			Role:      router.RoleAssistant,
			Content:   comp.Content,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			ev := s.runTool(ctx, plan, step, call, tc)
			resp.ToolCalls = append(resp.ToolCalls, ev)
			if emit != nil {
				emit(ev)
			}
			messages = append(messages, outbound.ChatMessage{
				Role:       router.RoleTool,
				Content:    encodeResult(ev.Result),
				ToolCallID: call.ID,
			})
		}
	}
	return resp, nil
}

func (s *ChatService) runTool(ctx context.Context, plan *ChatPlan, step int, call outbound.ToolCall, tc toolcall.Context) ToolEvent {
	ev := ToolEvent{Step: step, CallID: call.ID, Name: call.Name}
	if _, offered := plan.Tools[call.Name]; !offered {
		ctxkey.Logger(ctx, s.logger).Warn("model called a tool that was not offered", "tool", call.Name, "session_id", plan.SessionID)
		ev.Result = toolcall.Failure(toolcall.Invalid("Unknown tool action: %s", call.Name))
		return ev
	}
	args, err := toolcall.ParseArgs(call.Arguments)
	if err != nil {
		ev.Result = toolcall.Failure(err)
		return ev
	}
	ev.Args = args
	ev.Result = s.executor.Execute(ctx, call.Name, args, tc)
	return ev
}

func encodeResult(r toolcall.Result) string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result could not be encoded"}`
	}
	return string(b)
}

func buildSystemPrompt(route string, tools []string, model string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant for a B2B application.\n\n")
	b.WriteString("## Your role\n")
	b.WriteString("- Help users with questions about the application.\n")
	b.WriteString("- Query and change data when the user asks for it.\n")
	b.WriteString("- Run query_* tools immediately, no confirmation needed.\n")
	b.WriteString("- Before insert_* or update_*, briefly state what will change.\n")
	b.WriteString("- Always ask for confirmation before calling delete_*.\n")
	b.WriteString("- Answer in German unless the user writes in English.\n\n")

	b.WriteString("## Current route\n")
	if route == "" {
		route = "unknown"
	}
	b.WriteString(route)
	b.WriteString("\n")

	if len(tools) > 0 {
		b.WriteString("\n## Available tools\n")
		for _, t := range tools {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteString("\n")
		}
		b.WriteString("\nCall tools directly instead of announcing them. IDs and timestamps are generated on insert. ")
		b.WriteString("When a foreign key such as role_id is needed, look it up with the matching query_* tool first.\n")
	}

	b.WriteString("\n## Answer guidelines\n")
	b.WriteString("1. Be precise and helpful.\n")
	b.WriteString("2. When data is needed, call the matching tool right away.\n")
	b.WriteString("3. Ask for details when a request is ambiguous.\n")
	b.WriteString("4. Format longer answers with Markdown.\n")
	fmt.Fprintf(&b, "5. End every answer with a new line containing <sub>%s</sub>\n", model)
	return b.String()
}
