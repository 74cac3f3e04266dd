package engine

import (
	"fmt"

	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

// TimeoutError reports an engine process killed after exceeding its timeout.
type TimeoutError struct {
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine execution timed out after %d seconds", e.Seconds)
}

// ErrorKind implements protocol.KindedError.
func (e *TimeoutError) ErrorKind() protocol.ErrorKind { return protocol.KindTimeout }

// Details implements protocol.DetailedError.
func (e *TimeoutError) Details() map[string]any {
	return map[string]any{"timeoutSeconds": e.Seconds}
}

// NotFoundError reports an engine binary that is missing or not executable.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine not found at %q", e.Path)
	}
	return fmt.Sprintf("engine not found at %q: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ErrorKind implements protocol.KindedError.
func (e *NotFoundError) ErrorKind() protocol.ErrorKind { return protocol.KindEngineNotFound }

// Details implements protocol.DetailedError.
func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"path": e.Path}
}

// ExecutionError reports a failed computation: non-zero exit, explicit error
// text on stderr, or a process that could not be run in its directory.
type ExecutionError struct {
	Message string
	// Raw is the combined stdout and stderr of the process.
	Raw string
	// ExitCode is -1 when the process never exited normally.
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("engine execution failed (exit code %d): %s", e.ExitCode, e.Message)
	}
	return "engine execution failed: " + e.Message
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrorKind implements protocol.KindedError.
func (e *ExecutionError) ErrorKind() protocol.ErrorKind { return protocol.KindEngineExecution }

// Details implements protocol.DetailedError.
func (e *ExecutionError) Details() map[string]any {
	details := map[string]any{"exitCode": e.ExitCode}
	if e.Raw != "" {
		details["raw"] = e.Raw
	}
	return details
}
