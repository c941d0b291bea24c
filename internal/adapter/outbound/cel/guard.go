// Package cel evaluates per-resource guard expressions written in CEL.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth     = 50
	evalTimeout         = 5 * time.Second
	interruptCheckFreq  = 100
	maxCachedPrograms   = 512
)

// GuardEvaluator compiles and evaluates guard expressions. Compiled
// programs are cached by expression text.
//
// Variables: operation, resource, user_id (string), dry_run (bool),
// args (map), now (timestamp). Functions: glob(pattern, s).
type GuardEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewGuardEnvironment returns the CEL environment guards are checked against.
func NewGuardEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.Variable("operation", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("dry_run", cel.BoolType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					v, ok2 := s.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// NewGuardEvaluator creates a GuardEvaluator.
func NewGuardEvaluator() (*GuardEvaluator, error) {
	env, err := NewGuardEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create guard environment: %w", err)
	}
	return &GuardEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Validate checks length, nesting depth and that expr compiles to a boolean.
func (g *GuardEvaluator) Validate(expr string) error {
	_, err := g.program(expr)
	return err
}

// Evaluate runs expr against in. Non-boolean results are errors.
func (g *GuardEvaluator) Evaluate(ctx context.Context, expr string, in outbound.GuardInput) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	activation := map[string]any{
		"operation": in.Operation,
		"resource":  in.Resource,
		"user_id":   in.UserID,
		"dry_run":   in.DryRun,
		"args":      args,
		"now":       time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluate guard: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard returned %T, want bool", out.Value())
	}
	return b, nil
}

func (g *GuardEvaluator) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.programs[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	if err := checkShape(expr); err != nil {
		return nil, err
	}
	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid guard expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("guard expression must return bool, got %s", ast.OutputType())
	}
	prg, err := g.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build guard program: %w", err)
	}

	g.mu.Lock()
	if len(g.programs) >= maxCachedPrograms {
		clear(g.programs)
	}
	g.programs[expr] = prg
	g.mu.Unlock()
	return prg, nil
}

func checkShape(expr string) error {
	if expr == "" {
		return errors.New("guard expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("guard expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	depth, deepest := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if deepest > maxNestingDepth {
		return fmt.Errorf("guard expression nesting too deep: %d levels (max %d)", deepest, maxNestingDepth)
	}
	return nil
}

var _ outbound.GuardEvaluator = (*GuardEvaluator)(nil)
