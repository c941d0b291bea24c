package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// scriptedClient returns one completion per call in order.
type scriptedClient struct {
	mu       sync.Mutex
	script   []outbound.Completion
	requests []outbound.CompletionRequest
}

func (c *scriptedClient) Complete(_ context.Context, req outbound.CompletionRequest) (*outbound.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.requests) > len(c.script) {
		return nil, errors.New("script exhausted")
	}
	comp := c.script[len(c.requests)-1]
	return &comp, nil
}

type recordingRouterMetrics struct{ observed []string }

func (m *recordingRouterMetrics) ObserveRouterDecision(tier, reason string) {
	m.observed = append(m.observed, tier+"/"+reason)
}

func userMessage(text string) []router.Message {
	return []router.Message{{Role: router.RoleUser, Content: text}}
}

func newChatFixture(t *testing.T, client outbound.ModelClient, opts ...ChatOption) (*ChatService, *executorFixture) {
	t.Helper()
	f := newExecutorFixture(t, nil,
		themesPolicy(datasource.AccessFull),
		datasource.AccessPolicy{Table: "secrets", AccessLevel: datasource.AccessNone, Enabled: true, MaxRowsPerQuery: 10},
	)
	registry := NewToolRegistry(f.policies, discardLogger())
	svc := NewChatService(router.NewDefault(), registry, f.exec, client, discardLogger(), opts...)
	return svc, f
}

func TestChatService_PrepareToolTier(t *testing.T) {
	t.Parallel()

	metrics := &recordingRouterMetrics{}
	svc, _ := newChatFixture(t, nil, WithRouterMetrics(metrics))
	plan, err := svc.Prepare(context.Background(), ChatRequest{Messages: userMessage("Zeige mir alle Themes")})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if !plan.Metadata.ToolsEnabled || !strings.HasPrefix(plan.Metadata.RouterReason, "entity-crud") {
		t.Errorf("metadata = %+v", plan.Metadata)
	}
	if _, ok := plan.Tools["query_themes"]; !ok {
		t.Errorf("tools = %v, want query_themes", plan.Tools.Names())
	}
	for _, name := range plan.Tools.Names() {
		if strings.HasSuffix(name, "_secrets") {
			t.Errorf("tool %s generated for a resource without access", name)
		}
	}
	if !strings.Contains(plan.SystemPrompt, "- query_themes") || plan.SessionID == "" {
		t.Errorf("plan = %+v", plan)
	}
	if len(metrics.observed) != 1 || metrics.observed[0] != "tool/entity-crud" {
		t.Errorf("router metrics = %v", metrics.observed)
	}
}

func TestChatService_PrepareChatTier(t *testing.T) {
	t.Parallel()

	svc, _ := newChatFixture(t, nil)
	plan, err := svc.Prepare(context.Background(), ChatRequest{Messages: userMessage("Hallo, wie geht es dir?")})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if plan.Metadata.ToolsEnabled || len(plan.Tools) != 0 || plan.MaxSteps != 1 {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Model != router.DefaultChatModel {
		t.Errorf("Model = %q, want %q", plan.Model, router.DefaultChatModel)
	}

	if _, err := svc.Prepare(context.Background(), ChatRequest{}); !errors.Is(err, ErrNoMessages) {
		t.Errorf("Prepare(empty) error = %v", err)
	}
}

func TestChatService_ModelOverrideWithoutToolSupport(t *testing.T) {
	t.Parallel()

	svc, _ := newChatFixture(t, nil)
	plan, err := svc.Prepare(context.Background(), ChatRequest{
		Messages: userMessage("Zeige mir alle Themes"),
		Model:    router.DefaultChatModel,
	})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if plan.Metadata.ToolsEnabled || len(plan.Tools) != 0 || plan.Model != router.DefaultChatModel {
		t.Errorf("plan = %+v", plan)
	}
}

func TestChatService_RunDryRunInsert(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []outbound.Completion{
		{ToolCalls: []outbound.ToolCall{{ID: "c1", Name: "insert_themes", Arguments: `{"data":{"name":"Test"}}`}}},
		{Content: "Ich würde das Theme Test anlegen."},
	}}
	svc, f := newChatFixture(t, client)
	dryRun := true

	resp, err := svc.Run(context.Background(), ChatRequest{
		Messages: userMessage("Erstelle ein neues Theme mit dem Namen 'Test'"),
		DryRun:   &dryRun,
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Steps != 2 || resp.Text == "" || len(resp.ToolCalls) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	res := resp.ToolCalls[0].Result
	if !res.Success || !strings.Contains(res.DryRunQuery, "INSERT INTO") || !strings.Contains(res.DryRunQuery, "Test") {
		t.Errorf("tool result = %+v", res)
	}
	if got := len(f.data.Rows(themesTarget)); got != 0 {
		t.Errorf("dry run inserted %d rows", got)
	}

	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != router.RoleTool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "dryRunQuery") {
		t.Errorf("tool message = %+v", last)
	}
	if second.Messages[0].Role != router.RoleSystem {
		t.Error("system prompt is not the first message")
	}
	rec := f.audit.Recent(1)[0]
	if rec.SessionID != resp.SessionID || !rec.IsDryRun || rec.UserID != "u1" {
		t.Errorf("audit record = %+v", rec)
	}
}

func TestChatService_RunStopsAtMaxSteps(t *testing.T) {
	t.Parallel()

	loop := outbound.Completion{ToolCalls: []outbound.ToolCall{{ID: "q", Name: "query_themes", Arguments: "{}"}}}
	script := make([]outbound.Completion, router.DefaultToolMaxSteps+2)
	for i := range script {
		script[i] = loop
	}
	client := &scriptedClient{script: script}
	svc, _ := newChatFixture(t, client)

	var events int
	req := ChatRequest{Messages: userMessage("Zeige mir alle Themes")}
	plan, err := svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := svc.Execute(context.Background(), req, plan, func(ToolEvent) { events++ })
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if resp.Steps != router.DefaultToolMaxSteps || len(client.requests) != router.DefaultToolMaxSteps {
		t.Errorf("steps = %d, requests = %d, want %d", resp.Steps, len(client.requests), router.DefaultToolMaxSteps)
	}
	if events != router.DefaultToolMaxSteps {
		t.Errorf("events = %d", events)
	}
}

func TestChatService_UnofferedToolIsRejected(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []outbound.Completion{
		{ToolCalls: []outbound.ToolCall{{ID: "x", Name: "delete_themes", Arguments: `{"filters":{"id":"t0"},"confirm":true}`}}},
	}}
	svc, f := newChatFixture(t, client)
	seedThemes(f, 1)

	resp, err := svc.Run(context.Background(), ChatRequest{Messages: userMessage("Hallo, wie geht es dir?")})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.ToolCalls[0].Result.Success {
		t.Error("tool call outside the offered set succeeded")
	}
	if got := len(f.data.Rows(themesTarget)); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}
