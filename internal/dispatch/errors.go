package dispatch

import (
	"fmt"

	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

// ValidationError reports arguments rejected before any engine process starts.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrorKind implements protocol.KindedError.
func (e *ValidationError) ErrorKind() protocol.ErrorKind { return protocol.KindValidation }

// Details implements protocol.DetailedError.
func (e *ValidationError) Details() map[string]any {
	if e.Field == "" {
		return nil
	}
	return map[string]any{"field": e.Field}
}

// MethodNotFoundError reports a tool name outside the closed tool set.
type MethodNotFoundError struct {
	Tool      string
	Available []string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// ErrorKind implements protocol.KindedError.
func (e *MethodNotFoundError) ErrorKind() protocol.ErrorKind { return protocol.KindMethodNotFound }

// Details implements protocol.DetailedError.
func (e *MethodNotFoundError) Details() map[string]any {
	return map[string]any{"tool": e.Tool, "availableTools": e.Available}
}

// RateLimitedError reports a call rejected by the global rate limit.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string { return "rate limit exceeded, retry later" }

// ErrorKind implements protocol.KindedError.
func (e *RateLimitedError) ErrorKind() protocol.ErrorKind { return protocol.KindRateLimited }
