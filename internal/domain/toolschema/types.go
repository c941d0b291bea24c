// Package toolschema derives callable tool definitions from access policies.
//
// Generation is a pure function of the policy list. Nothing here reads a
// store or keeps state between calls, so the advertised tool surface always
// reflects the policies passed in.
package toolschema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// ErrMalformedName is returned when a tool name is not {operation}_{resource}.
var ErrMalformedName = errors.New("malformed tool name")

// ToolDefinition is one callable tool advertised to the model.
type ToolDefinition struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Operation   datasource.Operation `json:"operation"`
	ResourceID  string               `json:"resource"`
	// Parameters is the JSON Schema of the argument object.
	Parameters map[string]any `json:"parameters"`
}

// Set maps tool names to definitions.
type Set map[string]ToolDefinition

// Names returns the tool names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the definitions ordered by name.
func (s Set) Sorted() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(s))
	for _, name := range s.Names() {
		defs = append(defs, s[name])
	}
	return defs
}

// Name builds the model-facing tool name for an operation on a resource.
func Name(op datasource.Operation, resourceID string) string {
	return strings.ToLower(string(op) + "_" + resourceID)
}

// ParseName splits a tool name into its operation and resource id.
func ParseName(name string) (datasource.Operation, string, error) {
	prefix, resource, ok := strings.Cut(name, "_")
	if !ok || resource == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	op := datasource.Operation(prefix)
	if !op.IsValid() {
		return "", "", fmt.Errorf("%w: unknown operation %q", ErrMalformedName, prefix)
	}
	return op, resource, nil
}

// Skipped describes a policy row that produced no tools because it was malformed.
type Skipped struct {
	ResourceID string
	Err        error
}
