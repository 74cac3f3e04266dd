package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Format selects the presentation encoding of engine output.
type Format string

// Supported output formats.
const (
	FormatText   Format = "text"
	FormatLatex  Format = "latex"
	FormatNative Format = "native"
)

// Formats lists every supported format in declaration order.
var Formats = []Format{FormatText, FormatLatex, FormatNative}

// ParseFormat validates a wire format name. Empty means text.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatText:
		return FormatText, nil
	case FormatLatex:
		return FormatLatex, nil
	case FormatNative:
		return FormatNative, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// ExecutionRequest is a single engine invocation built from a tool call.
type ExecutionRequest struct {
	// Code is the engine source to evaluate.
	Code string
	// Format selects output encoding.
	Format Format
	// TimeoutSeconds is the effective (already clamped) timeout.
	TimeoutSeconds int
	// WorkingDirectory optionally sets the engine process directory.
	WorkingDirectory string
}

// ExecutionResult is the normalized outcome of an engine invocation.
type ExecutionResult struct {
	// Format echoes the requested format.
	Format Format `json:"format"`
	// Content is the cleaned engine output.
	Content string `json:"content"`
	// ExecutionTimeMillis is the wall time spent in the engine process.
	ExecutionTimeMillis *int64 `json:"executionTimeMillis,omitempty"`
	// Truncated reports that Content was cut to the output limit.
	Truncated bool `json:"truncated,omitempty"`
	// PossibleError is set when the output looks like an engine error message.
	PossibleError bool `json:"possibleError,omitempty"`
}

// ErrorKind names an entry of the error taxonomy.
type ErrorKind string

// Error kinds returned in the structured envelope.
const (
	KindValidation      ErrorKind = "ValidationError"
	KindTimeout         ErrorKind = "TimeoutError"
	KindEngineNotFound  ErrorKind = "EngineNotFoundError"
	KindEngineExecution ErrorKind = "EngineExecutionError"
	KindAuthentication  ErrorKind = "AuthenticationError"
	KindInvalidToken    ErrorKind = "InvalidTokenError"
	KindMethodNotFound  ErrorKind = "MethodNotFound"
	KindRateLimited     ErrorKind = "RateLimited"
	KindInternal        ErrorKind = "InternalError"
)

// KindedError is implemented by domain errors that map onto the envelope.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// DetailedError carries machine-readable context for the envelope.
type DetailedError interface {
	error
	Details() map[string]any
}

// ErrorEnvelope is the structured error payload returned to clients.
type ErrorEnvelope struct {
	// Error is the error kind.
	Error ErrorKind `json:"error"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Timestamp is when the error was produced (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Details carries optional machine-readable context.
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorEnvelope builds an envelope stamped with the current UTC time.
func NewErrorEnvelope(kind ErrorKind, message string, details map[string]any) *ErrorEnvelope {
	return &ErrorEnvelope{
		Error:     kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

// ToolResult is what the dispatch layer hands back to a transport.
type ToolResult struct {
	// IsError marks a failed tool call.
	IsError bool
	// Text is the human-readable content block.
	Text string
	// Structured is the machine-readable payload (result or envelope).
	Structured any
	// Error is set when IsError is true.
	Error *ErrorEnvelope
}
