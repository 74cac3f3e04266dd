package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event represents an audit entry for a tool call.
type Event struct {
	// Type describes the event kind.
	Type string
	// Tool is the tool name.
	Tool string
	// RequestID links log lines and error envelopes of one call.
	RequestID string
	// Outcome is "ok" or an error kind.
	Outcome string
	// Arguments are the redacted tool arguments.
	Arguments map[string]any
	// Duration is the wall time of the call.
	Duration time.Duration
	// Reason provides additional context.
	Reason string
}

// Event types.
const (
	TypeToolCall = "tool_call"
	TypeCacheHit = "cache_hit"
	// TypeRejected marks calls refused before reaching the engine.
	TypeRejected = "rejected"
)

// Logger records audit events.
type Logger interface {
	// Record stores an audit event.
	Record(ctx context.Context, event Event)
}

// StdLogger writes audit events to slog.
type StdLogger struct {
	logger *slog.Logger
}

// New returns a StdLogger.
func New(logger *slog.Logger) *StdLogger {
	return &StdLogger{logger: logger}
}

// Record logs an audit event.
func (l *StdLogger) Record(ctx context.Context, event Event) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.InfoContext(ctx, "audit",
		"type", event.Type,
		"tool", event.Tool,
		"request_id", event.RequestID,
		"outcome", event.Outcome,
		"arguments", event.Arguments,
		"duration_ms", event.Duration.Milliseconds(),
		"reason", event.Reason,
	)
}
