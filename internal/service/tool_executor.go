package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kessel-b2b/aigate/internal/ctxkey"
	"github.com/kessel-b2b/aigate/internal/domain/audit"
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/inbound"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// Messages for calls rejected before planning. They do not reveal whether
// a resource exists.
const (
	msgResourceUnavailable = "Resource is not available"
	msgOperationDenied     = "Operation not permitted for this resource"
	msgGuardDenied         = "Operation not permitted by resource guard"
	msgPolicyLoadFailed    = "Access policy could not be loaded"
	msgCancelled           = "Tool call cancelled before execution"
)

// Defaults for ToolExecutor.
const (
	DefaultQueryLimit  = 10
	DefaultCallTimeout = 30 * time.Second
	auditWriteTimeout  = 5 * time.Second
)

// Outcome labels reported to ToolMetrics.
const (
	OutcomeSuccess = "success"
)

// ToolMetrics receives one observation per executed tool call. outcome is
// OutcomeSuccess or the toolcall.ErrorKind of the failure.
type ToolMetrics interface {
	ObserveToolCall(tool, operation, outcome string, dryRun bool, d time.Duration)
}

// ToolExecutor validates, executes and audits tool calls. Every call reads
// the current policy, so access changes apply to the next call.
type ToolExecutor struct {
	policies datasource.Reader
	data     outbound.DataStore
	audit    audit.AuditStore
	logger   *slog.Logger

	schemas       outbound.SchemaValidator
	guards        outbound.GuardEvaluator
	metrics       ToolMetrics
	tracer        trace.Tracer
	defaultLimit  int
	strictFilters bool
	callTimeout   time.Duration
	now           func() time.Time
}

// ExecutorOption configures ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithSchemaValidator validates arguments against the generated JSON Schema.
func WithSchemaValidator(v outbound.SchemaValidator) ExecutorOption {
	return func(e *ToolExecutor) { e.schemas = v }
}

// WithGuardEvaluator enables per-resource guard expressions.
func WithGuardEvaluator(g outbound.GuardEvaluator) ExecutorOption {
	return func(e *ToolExecutor) { e.guards = g }
}

// WithToolMetrics records call outcomes and latency.
func WithToolMetrics(m ToolMetrics) ExecutorOption {
	return func(e *ToolExecutor) { e.metrics = m }
}

// WithTracer overrides the tracer used for tool call spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *ToolExecutor) { e.tracer = t }
}

// WithDefaultQueryLimit sets the limit used when a query passes none.
func WithDefaultQueryLimit(n int) ExecutorOption {
	return func(e *ToolExecutor) {
		if n > 0 {
			e.defaultLimit = n
		}
	}
}

// WithStrictQueryFilters rejects query filters on hidden columns instead of
// ignoring them.
func WithStrictQueryFilters(strict bool) ExecutorOption {
	return func(e *ToolExecutor) { e.strictFilters = strict }
}

// WithCallTimeout bounds each store operation.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *ToolExecutor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// NewToolExecutor creates a ToolExecutor.
func NewToolExecutor(policies datasource.Reader, data outbound.DataStore, auditStore audit.AuditStore, logger *slog.Logger, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		policies:     policies,
		data:         data,
		audit:        auditStore,
		logger:       logger,
		tracer:       otel.Tracer("github.com/kessel-b2b/aigate/internal/service"),
		defaultLimit: DefaultQueryLimit,
		callTimeout:  DefaultCallTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// log returns the request-scoped logger when the caller set one.
func (e *ToolExecutor) log(ctx context.Context) *slog.Logger {
	return ctxkey.Logger(ctx, e.logger)
}

// Execute runs one tool call. Validation, execution and the audit write
// happen strictly in that order. Failures are returned in the Result.
func (e *ToolExecutor) Execute(ctx context.Context, name string, args map[string]any, tc toolcall.Context) toolcall.Result {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "toolcall.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.Bool("tool.dry_run", tc.DryRun),
		attribute.String("session.id", tc.SessionID),
	))
	defer span.End()

	op, _, _ := toolschema.ParseName(name)
	res := e.run(ctx, name, args, tc)
	elapsed := e.now().Sub(start)

	e.writeAudit(ctx, name, args, tc, res, elapsed)

	outcome := OutcomeSuccess
	if !res.Success {
		outcome = string(res.Kind)
		span.SetStatus(codes.Error, res.Error)
		span.SetAttributes(attribute.String("tool.error_kind", outcome))
	}
	if e.metrics != nil {
		e.metrics.ObserveToolCall(name, string(op), outcome, tc.DryRun, elapsed)
	}
	e.log(ctx).Debug("tool call finished",
		"tool", name,
		"user_id", tc.UserID,
		"session_id", tc.SessionID,
		"dry_run", tc.DryRun,
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res
}

func (e *ToolExecutor) run(ctx context.Context, name string, args map[string]any, tc toolcall.Context) (res toolcall.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log(ctx).Error("tool call panicked", "tool", name, "panic", r)
			res = toolcall.Failure(&toolcall.Error{Kind: toolcall.KindExecution, Message: "Internal error"})
		}
	}()

	op, resourceID, err := toolschema.ParseName(name)
	if err != nil {
		return toolcall.Failure(toolcall.Invalid("Unknown tool action: %s", name))
	}

	p, err := e.policies.GetByResource(ctx, resourceID)
	switch {
	case errors.Is(err, datasource.ErrPolicyNotFound):
		return toolcall.Failure(toolcall.PolicyViolation(msgResourceUnavailable))
	case err != nil:
		e.log(ctx).Error("failed to load access policy", "resource", resourceID, "error", err)
		return toolcall.Failure(&toolcall.Error{Kind: toolcall.KindExecution, Message: msgPolicyLoadFailed})
	}
	if err := p.Check(); err != nil || !p.Enabled {
		return toolcall.Failure(toolcall.PolicyViolation(msgResourceUnavailable))
	}
	if !p.Permits(op) {
		return toolcall.Failure(toolcall.PolicyViolation(msgOperationDenied))
	}

	if p.Guard != "" {
		if err := e.checkGuard(ctx, p, op, args, tc); err != nil {
			return toolcall.Failure(err)
		}
	}

	planner := toolcall.NewPlanner(p)
	switch op {
	case datasource.OpQuery:
		return e.query(ctx, p, planner, args)
	case datasource.OpInsert:
		return e.insert(ctx, p, planner, args, tc)
	case datasource.OpUpdate:
		return e.update(ctx, p, planner, args, tc)
	case datasource.OpDelete:
		return e.delete(ctx, p, planner, args, tc)
	default:
		return toolcall.Failure(toolcall.Invalid("Unknown tool action: %s", name))
	}
}

// checkGuard fails closed: evaluation errors deny the call.
func (e *ToolExecutor) checkGuard(ctx context.Context, p *datasource.AccessPolicy, op datasource.Operation, args map[string]any, tc toolcall.Context) error {
	if e.guards == nil {
		e.log(ctx).Warn("guard configured but no evaluator available", "resource", p.ResourceID())
		return toolcall.PolicyViolation(msgGuardDenied)
	}
	ok, err := e.guards.Evaluate(ctx, p.Guard, outbound.GuardInput{
		Operation: string(op),
		Resource:  p.ResourceID(),
		UserID:    tc.UserID,
		DryRun:    tc.DryRun,
		Args:      args,
	})
	if err != nil {
		e.log(ctx).Warn("guard evaluation failed", "resource", p.ResourceID(), "error", err)
		return toolcall.PolicyViolation(msgGuardDenied)
	}
	if !ok {
		return toolcall.PolicyViolation(msgGuardDenied)
	}
	return nil
}

// validateSchema checks args against the definition regenerated from the
// current policy.
func (e *ToolExecutor) validateSchema(ctx context.Context, p *datasource.AccessPolicy, op datasource.Operation, args map[string]any) error {
	if e.schemas == nil {
		return nil
	}
	_, span := e.tracer.Start(ctx, "toolcall.validate")
	defer span.End()
	def, err := toolschema.Definition(p, op)
	if err != nil {
		return toolcall.Invalid("%v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.schemas.Validate(def.Parameters, args); err != nil {
		return toolcall.Invalid("Invalid arguments: %v", err)
	}
	return nil
}

func (e *ToolExecutor) query(ctx context.Context, p *datasource.AccessPolicy, pl *toolcall.Planner, args map[string]any) toolcall.Result {
	qa, err := toolcall.Decode[toolcall.QueryArgs](args)
	if err != nil {
		return toolcall.Failure(err)
	}
	q, ignored, err := pl.Query(qa, toolcall.QueryOptions{DefaultLimit: e.defaultLimit, StrictFilters: e.strictFilters})
	if err != nil {
		return toolcall.Failure(err)
	}
	for _, col := range ignored {
		e.log(ctx).Warn("ignoring filter on hidden column", "resource", p.ResourceID(), "column", col)
	}
	if err := e.validateSchema(ctx, p, datasource.OpQuery, args); err != nil {
		return toolcall.Failure(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	rows, err := e.data.Select(callCtx, q)
	if err != nil {
		return e.storeFailure(ctx, p, datasource.OpQuery, err)
	}
	rows = pl.Project(rows)
	if rows == nil {
		rows = []toolcall.Row{}
	}
	n := len(rows)
	return toolcall.Result{Success: true, Data: rows, RowCount: &n}
}

func (e *ToolExecutor) insert(ctx context.Context, p *datasource.AccessPolicy, pl *toolcall.Planner, args map[string]any, tc toolcall.Context) toolcall.Result {
	ia, err := toolcall.Decode[toolcall.InsertArgs](args)
	if err != nil {
		return toolcall.Failure(err)
	}
	m, err := pl.Insert(ia)
	if err != nil {
		return toolcall.Failure(err)
	}
	if err := e.validateSchema(ctx, p, datasource.OpInsert, args); err != nil {
		return toolcall.Failure(err)
	}
	if tc.DryRun {
		return dryRun(toolcall.RenderInsert(m))
	}

	callCtx, cancel, err := e.mutationContext(ctx)
	if err != nil {
		return toolcall.Failure(err)
	}
	defer cancel()
	row, err := e.data.Insert(callCtx, m)
	if err != nil {
		return e.storeFailure(ctx, p, datasource.OpInsert, err)
	}
	one := 1
	return toolcall.Result{Success: true, Data: pl.Project([]toolcall.Row{row}), RowCount: &one}
}

func (e *ToolExecutor) update(ctx context.Context, p *datasource.AccessPolicy, pl *toolcall.Planner, args map[string]any, tc toolcall.Context) toolcall.Result {
	ua, err := toolcall.Decode[toolcall.UpdateArgs](args)
	if err != nil {
		return toolcall.Failure(err)
	}
	m, err := pl.Update(ua)
	if err != nil {
		return toolcall.Failure(err)
	}
	if err := e.validateSchema(ctx, p, datasource.OpUpdate, args); err != nil {
		return toolcall.Failure(err)
	}
	if tc.DryRun {
		return dryRun(toolcall.RenderUpdate(m))
	}

	callCtx, cancel, err := e.mutationContext(ctx)
	if err != nil {
		return toolcall.Failure(err)
	}
	defer cancel()
	rows, err := e.data.Update(callCtx, m)
	if err != nil {
		return e.storeFailure(ctx, p, datasource.OpUpdate, err)
	}
	rows = pl.Project(rows)
	if rows == nil {
		rows = []toolcall.Row{}
	}
	n := len(rows)
	return toolcall.Result{Success: true, Data: rows, RowCount: &n}
}

func (e *ToolExecutor) delete(ctx context.Context, p *datasource.AccessPolicy, pl *toolcall.Planner, args map[string]any, tc toolcall.Context) toolcall.Result {
	da, err := toolcall.Decode[toolcall.DeleteArgs](args)
	if err != nil {
		return toolcall.Failure(err)
	}
	m, err := pl.Delete(da)
	if err != nil {
		return toolcall.Failure(err)
	}
	if err := e.validateSchema(ctx, p, datasource.OpDelete, args); err != nil {
		return toolcall.Failure(err)
	}
	if tc.DryRun {
		return dryRun(toolcall.RenderDelete(m))
	}

	callCtx, cancel, err := e.mutationContext(ctx)
	if err != nil {
		return toolcall.Failure(err)
	}
	defer cancel()
	count, err := e.data.Delete(callCtx, m)
	if err != nil {
		return e.storeFailure(ctx, p, datasource.OpDelete, err)
	}
	n := int(count)
	return toolcall.Result{Success: true, RowCount: &n}
}

// mutationContext refuses to start after cancellation. A started mutation
// runs detached from the caller and is bounded by the call timeout only.
func (e *ToolExecutor) mutationContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if ctx.Err() != nil {
		return nil, nil, &toolcall.Error{Kind: toolcall.KindExecution, Message: msgCancelled}
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	return callCtx, cancel, nil
}

func (e *ToolExecutor) storeFailure(ctx context.Context, p *datasource.AccessPolicy, op datasource.Operation, err error) toolcall.Result {
	e.log(ctx).Error("data store operation failed",
		"resource", p.ResourceID(),
		"operation", op,
		"error", err,
	)
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("Operation timed out after %s", e.callTimeout)
	}
	return toolcall.Failure(&toolcall.Error{Kind: toolcall.KindExecution, Message: msg})
}

// dryRun reports the statement a mutation would have run. The store is not touched.
func dryRun(query string) toolcall.Result {
	return toolcall.Result{Success: true, DryRunQuery: query}
}

// writeAudit persists the record on a detached context. Failures are
// logged and never change the result.
func (e *ToolExecutor) writeAudit(ctx context.Context, name string, args map[string]any, tc toolcall.Context, res toolcall.Result, elapsed time.Duration) {
	if e.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log(ctx).Error("audit write panicked", "tool", name, "panic", r)
		}
	}()

	record := audit.ToolCallRecord{
		ID:           uuid.NewString(),
		Timestamp:    e.now().UTC(),
		RequestID:    tc.RequestID,
		UserID:       tc.UserID,
		SessionID:    tc.SessionID,
		ToolName:     name,
		ToolArgs:     audit.RedactSensitiveArgs(args),
		Success:      res.Success,
		Result:       res.AuditPayload(),
		ErrorMessage: res.Error,
		IsDryRun:     tc.DryRun,
		DurationMs:   elapsed.Milliseconds(),
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	actx, span := e.tracer.Start(actx, "toolcall.audit")
	defer span.End()
	if err := e.audit.Append(actx, record); err != nil {
		e.log(ctx).Error("failed to write tool call audit record", "tool", name, "error", err)
	}
}

var _ inbound.ToolExecutor = (*ToolExecutor)(nil)
