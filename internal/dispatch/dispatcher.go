// Package dispatch maps tool calls onto the engine with validation,
// timeout clamping and a structured error envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codex-k8s/compute-mcp-server/internal/audit"
	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/format"
	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/idempotency"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
	"github.com/codex-k8s/compute-mcp-server/internal/security"
	"github.com/codex-k8s/compute-mcp-server/internal/telemetry"
	"github.com/codex-k8s/compute-mcp-server/internal/timeutil"
)

// auditArgumentLength caps string arguments in audit events.
const auditArgumentLength = 200

// Executor runs one engine invocation.
type Executor interface {
	Execute(ctx context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error)
}

// StatusSource provides the health report for engine_status.
type StatusSource interface {
	Snapshot() health.Report
}

// Limits bounds tool arguments and results.
type Limits struct {
	DefaultTimeout  int `json:"defaultTimeoutSeconds"`
	MaxTimeout      int `json:"maxTimeoutSeconds"`
	MaxOutputLength int `json:"maxOutputLength"`
	MaxCodeLength   int `json:"maxCodeLength"`
}

// EngineInfo is static engine metadata reported by engine_status.
type EngineInfo struct {
	Path    string `json:"path"`
	Profile string `json:"profile"`
}

// Options wires a Dispatcher. Executor and Status are required.
type Options struct {
	Executor     Executor
	Status       StatusSource
	Limits       Limits
	Engine       EngineInfo
	PackagesCode string
	Logger       *slog.Logger
	Audit        audit.Logger
	Metrics      *telemetry.Metrics
	Cache        *idempotency.Cache
	// Limiter throttles every tool call when set.
	Limiter *rate.Limiter
}

// Dispatcher resolves tool names to handlers. It never returns a Go error or
// panics across Dispatch: every failure becomes an error envelope.
type Dispatcher struct {
	opts  Options
	order []Tool
	tools map[string]Tool
}

// New validates opts and prepares tool schemas.
func New(opts Options) (*Dispatcher, error) {
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Status == nil {
		return nil, errors.New("status source is required")
	}
	if opts.Limits.DefaultTimeout < 1 || opts.Limits.MaxTimeout < 1 {
		return nil, errors.New("timeouts must be positive")
	}
	if opts.Limits.DefaultTimeout > opts.Limits.MaxTimeout {
		return nil, fmt.Errorf("default timeout %d exceeds max timeout %d", opts.Limits.DefaultTimeout, opts.Limits.MaxTimeout)
	}
	if opts.Limits.MaxOutputLength <= 0 {
		opts.Limits.MaxOutputLength = constants.DefaultMaxOutputLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tools, err := buildTools(opts.Limits, strings.TrimSpace(opts.PackagesCode) != "")
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	return &Dispatcher{opts: opts, order: tools, tools: byName}, nil
}

// Tools returns the tool set in registration order.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, len(d.order))
	copy(out, d.order)
	return out
}

// Has reports whether name is part of the tool set.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// ToolNames returns the names of every tool.
func (d *Dispatcher) ToolNames() []string {
	names := make([]string, 0, len(d.order))
	for _, tool := range d.order {
		names = append(names, tool.Name)
	}
	return names
}

// Dispatch handles one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, raw json.RawMessage) (result protocol.ToolResult) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := d.opts.Logger.With("tool", toolName, "request_id", requestID)
	var auditArgs map[string]any
	eventType := audit.TypeToolCall

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool handler panic", "panic", rec, "stack", string(debug.Stack()))
			result = d.failure(logger, requestID, fmt.Errorf("panic: %v", rec))
		}
		outcome := "ok"
		if result.Error != nil {
			outcome = string(result.Error.Error)
		}
		metricTool := toolName
		if !d.Has(toolName) {
			metricTool = "unknown"
		}
		d.opts.Metrics.RecordToolCall(metricTool, outcome, time.Since(start))
		if d.opts.Audit != nil {
			d.opts.Audit.Record(ctx, audit.Event{
				Type:      eventType,
				Tool:      toolName,
				RequestID: requestID,
				Outcome:   outcome,
				Arguments: auditArgs,
				Duration:  time.Since(start),
			})
		}
	}()

	auditArgs = redactedArguments(raw)
	call, err := d.decode(toolName, raw)
	if err != nil {
		eventType = audit.TypeRejected
		return d.failure(logger, requestID, err)
	}
	if d.opts.Limiter != nil && !d.opts.Limiter.Allow() {
		eventType = audit.TypeRejected
		return d.failure(logger, requestID, &RateLimitedError{})
	}

	switch c := call.(type) {
	case ExecuteCall:
		res, cached := d.execute(ctx, logger, requestID, c)
		if cached {
			eventType = audit.TypeCacheHit
		}
		return res
	case StatusCall:
		return d.status()
	case PackagesCall:
		return d.packages(ctx, logger, requestID, c)
	default:
		return d.failure(logger, requestID, &MethodNotFoundError{Tool: toolName, Available: d.ToolNames()})
	}
}

// execute runs code and reports whether the result came from the cache.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, requestID string, call ExecuteCall) (protocol.ToolResult, bool) {
	timeout := d.effectiveTimeout(logger, call.TimeoutSeconds)
	req := protocol.ExecutionRequest{
		Code:             call.Code,
		Format:           call.Format,
		TimeoutSeconds:   timeout,
		WorkingDirectory: call.WorkingDirectory,
	}

	key := ""
	if d.opts.Cache != nil {
		var err error
		key, err = idempotency.Key(constants.ToolExecuteCode, map[string]any{
			"code":             req.Code,
			"format":           string(req.Format),
			"timeoutSeconds":   req.TimeoutSeconds,
			"workingDirectory": req.WorkingDirectory,
		})
		if err != nil {
			logger.Warn("cache key failed", "error", err)
		} else if cached, ok := d.opts.Cache.Get(key); ok {
			d.opts.Metrics.RecordCacheHit()
			logger.Debug("result served from cache")
			return success(cached), true
		}
	}

	res, err := d.opts.Executor.Execute(ctx, req)
	if err != nil {
		return d.failure(logger, requestID, err), false
	}
	var truncated bool
	res.Content, truncated = format.Truncate(res.Content, d.opts.Limits.MaxOutputLength)
	res.Truncated = res.Truncated || truncated
	if key != "" {
		d.opts.Cache.Set(key, res)
	}
	logger.Info("code executed", "format", string(res.Format), "timeout_seconds", timeout, "truncated", res.Truncated)
	return success(res), false
}

// StatusReport is the engine_status payload.
type StatusReport struct {
	Health health.Report `json:"health"`
	Engine EngineInfo    `json:"engine"`
	Limits Limits        `json:"limits"`
	Tools  []string      `json:"tools"`
}

func (d *Dispatcher) status() protocol.ToolResult {
	report := StatusReport{
		Health: d.opts.Status.Snapshot(),
		Engine: d.opts.Engine,
		Limits: d.opts.Limits,
		Tools:  d.ToolNames(),
	}
	text, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		text = []byte(string(report.Health.Status))
	}
	return protocol.ToolResult{Text: string(text), Structured: report}
}

// PackagesReport is the list_packages payload.
type PackagesReport struct {
	Packages  []string `json:"packages"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
}

func (d *Dispatcher) packages(ctx context.Context, logger *slog.Logger, requestID string, call PackagesCall) protocol.ToolResult {
	timeout := d.effectiveTimeout(logger, call.TimeoutSeconds)
	res, err := d.opts.Executor.Execute(ctx, protocol.ExecutionRequest{
		Code:           d.opts.PackagesCode,
		Format:         protocol.FormatText,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return d.failure(logger, requestID, err)
	}

	var names []string
	for _, line := range strings.Split(res.Content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	text, truncated := format.Truncate(strings.Join(names, "\n"), d.opts.Limits.MaxOutputLength)
	report := PackagesReport{Packages: names, Count: len(names), Truncated: truncated}
	if report.Packages == nil {
		report.Packages = []string{}
	}
	return protocol.ToolResult{Text: text, Structured: report}
}

func (d *Dispatcher) effectiveTimeout(logger *slog.Logger, requested *int) int {
	timeout, clamped := timeutil.ClampSeconds(requested, d.opts.Limits.DefaultTimeout, d.opts.Limits.MaxTimeout)
	if clamped {
		logger.Warn("timeout clamped to maximum", "requested_seconds", *requested, "max_seconds", d.opts.Limits.MaxTimeout)
		d.opts.Metrics.RecordTimeoutClamp()
	}
	return timeout
}

func success(res protocol.ExecutionResult) protocol.ToolResult {
	return protocol.ToolResult{Text: res.Content, Structured: res}
}

// failure maps err onto the error envelope. Errors without a kind are
// reported as InternalError without exposing their text.
func (d *Dispatcher) failure(logger *slog.Logger, requestID string, err error) protocol.ToolResult {
	kind := protocol.KindInternal
	message := "internal error"
	var kinded protocol.KindedError
	if errors.As(err, &kinded) {
		kind = kinded.ErrorKind()
		message = err.Error()
	}

	details := map[string]any{"requestId": requestID}
	var detailed protocol.DetailedError
	if errors.As(err, &detailed) {
		for k, v := range detailed.Details() {
			details[k] = v
		}
	}
	if raw, ok := details["raw"].(string); ok {
		details["raw"], _ = format.Truncate(raw, d.opts.Limits.MaxOutputLength)
	}

	if kind == protocol.KindInternal {
		logger.Error("tool call failed", "error", err)
	} else {
		logger.Warn("tool call failed", "kind", string(kind), "error", err)
	}

	envelope := protocol.NewErrorEnvelope(kind, message, details)
	return protocol.ToolResult{
		IsError:    true,
		Text:       fmt.Sprintf("%s: %s", kind, message),
		Structured: envelope,
		Error:      envelope,
	}
}

func redactedArguments(raw json.RawMessage) map[string]any {
	var args map[string]any
	if err := json.Unmarshal(normalizeRaw(raw), &args); err != nil {
		return nil
	}
	return security.RedactArguments(args, auditArgumentLength)
}
