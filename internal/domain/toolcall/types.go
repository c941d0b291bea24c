// Package toolcall holds the request, result and planning types for
// executing generated data tools.
package toolcall

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	// KindPolicyViolation means the policy forbids the call.
	KindPolicyViolation ErrorKind = "policy_violation"
	// KindValidation means the arguments are unusable.
	KindValidation ErrorKind = "validation"
	// KindExecution means the store or its transport failed.
	KindExecution ErrorKind = "execution"
)

// Error is a classified tool call failure. Message is safe to show to the
// model and the end user.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// PolicyViolation returns a policy violation error.
func PolicyViolation(format string, args ...any) error {
	return &Error{Kind: KindPolicyViolation, Message: fmt.Sprintf(format, args...)}
}

// Invalid returns a validation error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, defaulting to KindExecution.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindExecution
}

// Context carries the caller identity and mode of one tool call.
type Context struct {
	UserID    string
	SessionID string
	RequestID string
	DryRun    bool
}

// Row is one record keyed by column name.
type Row = map[string]any

// Result is the uniform outcome returned to the model.
type Result struct {
	Success     bool   `json:"success"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
	RowCount    *int   `json:"rowCount,omitempty"`
	DryRunQuery string `json:"dryRunQuery,omitempty"`
	// Kind is set on failures.
	Kind ErrorKind `json:"errorKind,omitempty"`
}

// Failure builds a failed result from err.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error(), Kind: KindOf(err)}
}

// AuditPayload returns the result fields persisted with the audit record,
// or nil for failures.
func (r Result) AuditPayload() map[string]any {
	if !r.Success {
		return nil
	}
	payload := map[string]any{"data": r.Data}
	if r.RowCount != nil {
		payload["rowCount"] = *r.RowCount
	} else {
		payload["rowCount"] = nil
	}
	if r.DryRunQuery != "" {
		payload["dryRunQuery"] = r.DryRunQuery
	} else {
		payload["dryRunQuery"] = nil
	}
	return payload
}

// Target names the table a call operates on.
type Target struct {
	Schema string
	Table  string
}

// QualifiedName returns schema.table.
func (t Target) QualifiedName() string {
	return t.Schema + "." + t.Table
}

// Order is a single sort key.
type Order struct {
	Column string
	Desc   bool
}

// SelectQuery is a planned read against one table.
type SelectQuery struct {
	Target Target
	// Columns to return. Empty means all columns.
	Columns []string
	// Filters are equality conditions joined with AND.
	Filters map[string]any
	Limit   int
	Order   *Order
}

// Mutation is a planned write against one table.
type Mutation struct {
	Target  Target
	Filters map[string]any
	Data    Row
}
