package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Fields flow through context enrichment, so a query's
// identifiers are stamped on every log line without threading them through
// every call site.
type LogFields struct {
	QueryID   *string // snowflake-derived id for the current query
	Iteration *int    // current loop iteration, if any
	Component string  // component name, e.g. "agent.orchestrator"
}

// WithLogFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context, or an empty LogFields.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing
	if new.QueryID != nil {
		result.QueryID = new.QueryID
	}
	if new.Iteration != nil {
		result.Iteration = new.Iteration
	}
	if new.Component != "" {
		result.Component = new.Component
	}
	return result
}

// Ptr creates a pointer from a value, for inline LogFields construction.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging long questions or LLM responses.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
