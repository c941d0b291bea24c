package outbound

import "context"

// SchemaValidator checks tool arguments against a JSON Schema document.
type SchemaValidator interface {
	Validate(schema map[string]any, args map[string]any) error
}

// GuardInput is the variable set a guard expression sees.
type GuardInput struct {
	Operation string
	Resource  string
	UserID    string
	DryRun    bool
	Args      map[string]any
}

// GuardEvaluator evaluates per-resource guard expressions.
type GuardEvaluator interface {
	// Validate checks that expr compiles and respects the complexity limits.
	Validate(expr string) error
	// Evaluate reports whether expr allows the call.
	Evaluate(ctx context.Context, expr string, in GuardInput) (bool, error)
}
