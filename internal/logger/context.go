package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
type LogFields struct {
	Component string // e.g. "rover.engine.dispatcher"
	Handler   string
	ItemID    string
	Stream    string
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing
	if new.Component != "" {
		result.Component = new.Component
	}
	if new.Handler != "" {
		result.Handler = new.Handler
	}
	if new.ItemID != "" {
		result.ItemID = new.ItemID
	}
	if new.Stream != "" {
		result.Stream = new.Stream
	}
	return result
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
