// Package audit contains domain types for tool call audit logging.
package audit

import (
	"strings"
	"time"
)

// RedactedValue replaces the value of a sensitive argument.
const RedactedValue = "***REDACTED***"

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// Nested objects such as filters and data are walked recursively.
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		switch {
		case isSensitiveKey(k):
			redacted[k] = RedactedValue
		default:
			if nested, ok := v.(map[string]any); ok {
				redacted[k] = RedactSensitiveArgs(nested)
			} else {
				redacted[k] = v
			}
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ToolCallRecord is the append-only audit entry written for every tool
// invocation, successful or not.
type ToolCallRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"created_at"`
	// RequestID correlates the record with the inbound HTTP request.
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	// ToolArgs holds the call arguments with sensitive keys redacted.
	ToolArgs map[string]any `json:"tool_args"`
	Success  bool           `json:"success"`
	// Result is {data, rowCount, dryRunQuery} on success and nil on failure.
	Result       map[string]any `json:"result"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IsDryRun     bool           `json:"is_dry_run"`
	DurationMs   int64          `json:"duration_ms"`
}
