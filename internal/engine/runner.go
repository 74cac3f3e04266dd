// Package engine runs the computation engine as a subprocess.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/executil"
	"github.com/codex-k8s/compute-mcp-server/internal/format"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
	"github.com/codex-k8s/compute-mcp-server/internal/telemetry"
	"github.com/codex-k8s/compute-mcp-server/internal/timeutil"
)

const (
	defaultKillGrace = 2 * time.Second
	// reapTimeout bounds the wait for a SIGKILLed process to be collected.
	reapTimeout = 5 * time.Second
)

// DefaultWrappers render latex and native output inside the engine.
var DefaultWrappers = map[protocol.Format]string{
	protocol.FormatLatex:  "ToString[TeXForm[" + constants.CodePlaceholder + "]]",
	protocol.FormatNative: "ToString[InputForm[" + constants.CodePlaceholder + "]]",
}

// Config describes how the engine is invoked.
type Config struct {
	// Path is the engine executable.
	Path string
	// ExtraArgs precede the timeout and code flags.
	ExtraArgs []string
	// TimeoutFlag passes the timeout in seconds; empty omits it.
	TimeoutFlag string
	// CodeFlag precedes the code argument.
	CodeFlag string
	// Env adds variables to the inherited environment.
	Env map[string]string
	// Wrappers map non-text formats to a template containing @CODE@.
	Wrappers map[protocol.Format]string
	// BenignStderr lists substrings of harmless stderr lines.
	BenignStderr []string
	// FatalStderrPrefixes fail the call when a stderr line starts with one.
	FatalStderrPrefixes []string
	// ErrorPatterns feed the possibleError heuristic.
	ErrorPatterns []string
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// MaxConcurrent bounds simultaneously running engine processes.
	MaxConcurrent int
}

// Runner executes engine invocations. It is safe for concurrent use.
type Runner struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	detector *format.ErrorDetector
	slots    *semaphore.Weighted
}

// NewRunner validates cfg and builds a runner. metrics and tracer may be nil.
func NewRunner(cfg Config, logger *slog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) (*Runner, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("engine path is required")
	}
	if cfg.CodeFlag == "" {
		return nil, errors.New("engine code flag is required")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	wrappers := make(map[protocol.Format]string, len(DefaultWrappers))
	for kind, tmpl := range DefaultWrappers {
		wrappers[kind] = tmpl
	}
	for kind, tmpl := range cfg.Wrappers {
		if !strings.Contains(tmpl, constants.CodePlaceholder) {
			return nil, fmt.Errorf("wrapper for %s must contain %s", kind, constants.CodePlaceholder)
		}
		wrappers[kind] = tmpl
	}
	cfg.Wrappers = wrappers

	detector, err := format.NewErrorDetector(cfg.ErrorPatterns)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		detector: detector,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

// Path returns the configured engine path.
func (r *Runner) Path() string {
	return r.cfg.Path
}

// CheckAvailable verifies that the engine binary exists and is executable.
func (r *Runner) CheckAvailable() error {
	if _, err := executil.ResolveExecutable(r.cfg.Path); err != nil {
		return &NotFoundError{Path: r.cfg.Path, Err: err}
	}
	return nil
}

// Args builds the engine argv (without argv[0]) for a request.
func (r *Runner) Args(req protocol.ExecutionRequest) ([]string, error) {
	code, err := r.wrap(req.Code, req.Format)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, len(r.cfg.ExtraArgs)+4)
	args = append(args, r.cfg.ExtraArgs...)
	if r.cfg.TimeoutFlag != "" {
		args = append(args, r.cfg.TimeoutFlag, strconv.Itoa(req.TimeoutSeconds))
	}
	args = append(args, r.cfg.CodeFlag, code)
	return args, nil
}

func (r *Runner) wrap(code string, kind protocol.Format) (string, error) {
	if kind == "" || kind == protocol.FormatText {
		return code, nil
	}
	tmpl, ok := r.cfg.Wrappers[kind]
	if !ok {
		return "", fmt.Errorf("no wrapper configured for format %q", kind)
	}
	return strings.ReplaceAll(tmpl, constants.CodePlaceholder, code), nil
}

// Execute runs one engine process for req and formats its output. The
// process is killed when req.TimeoutSeconds elapse or ctx is done.
// Truncation is left to the caller.
func (r *Runner) Execute(ctx context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error) {
	if req.TimeoutSeconds < 1 {
		req.TimeoutSeconds = 1
	}
	if req.Format == "" {
		req.Format = protocol.FormatText
	}
	if req.WorkingDirectory != "" {
		if err := checkDirectory(req.WorkingDirectory); err != nil {
			return protocol.ExecutionResult{}, &ExecutionError{Message: err.Error(), ExitCode: -1, Err: err}
		}
	}
	args, err := r.Args(req)
	if err != nil {
		return protocol.ExecutionResult{}, &ExecutionError{Message: err.Error(), ExitCode: -1, Err: err}
	}

	// Waiting for a slot counts against the request timeout.
	slotCtx, cancelSlot := context.WithTimeout(ctx, timeutil.Seconds(req.TimeoutSeconds))
	err = r.slots.Acquire(slotCtx, 1)
	cancelSlot()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("no engine slot within timeout", "timeout_seconds", req.TimeoutSeconds, "max_concurrent", r.cfg.MaxConcurrent)
			return protocol.ExecutionResult{}, &TimeoutError{Seconds: req.TimeoutSeconds}
		}
		return protocol.ExecutionResult{}, &ExecutionError{Message: "canceled while waiting for an engine slot", ExitCode: -1, Err: ctx.Err()}
	}
	defer r.slots.Release(1)

	ctx, span := r.tracer.StartSpan(ctx, "engine.execute",
		attribute.String("engine.format", string(req.Format)),
		attribute.Int("engine.timeout_seconds", req.TimeoutSeconds),
	)
	result, err := r.run(ctx, req, args)
	telemetry.EndSpan(span, err)
	return result, err
}

func (r *Runner) run(ctx context.Context, req protocol.ExecutionRequest, args []string) (protocol.ExecutionResult, error) {
	env := executil.MergeEnv(os.Environ(), r.cfg.Env)
	cmd := executil.BuildCommand(executil.Invocation{
		Path: r.cfg.Path,
		Args: args,
		Dir:  req.WorkingDirectory,
		Env:  r.tracer.InjectProcessEnv(ctx, env),
	})
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.cfg.KillGrace
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return protocol.ExecutionResult{}, r.classifyStart(err)
	}
	r.metrics.EngineStarted()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeutil.Seconds(req.TimeoutSeconds))
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
		// Helpers left in the group would outlive the call.
		if err := killGroup(cmd); err != nil {
			r.logger.Warn("engine group cleanup failed", "error", err)
		}
		if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			r.logger.Debug("engine helper held output open after exit", "pid", cmd.Process.Pid)
			waitErr = nil
		}
	case <-timer.C:
		r.terminate(cmd, done)
		r.metrics.EngineFinished("timeout", time.Since(start))
		r.logger.Warn("engine timed out", "pid", cmd.Process.Pid, "timeout_seconds", req.TimeoutSeconds)
		return protocol.ExecutionResult{}, &TimeoutError{Seconds: req.TimeoutSeconds}
	case <-ctx.Done():
		r.terminate(cmd, done)
		r.metrics.EngineFinished("canceled", time.Since(start))
		return protocol.ExecutionResult{}, &ExecutionError{Message: "execution canceled", ExitCode: -1, Err: ctx.Err()}
	}
	elapsed := time.Since(start)

	raw := combine(stdout.String(), stderr.String())
	fatal := r.inspectStderr(stderr.String())
	if waitErr != nil {
		r.metrics.EngineFinished("error", elapsed)
		code := executil.ExitCode(waitErr)
		message := firstLine(stderr.String())
		if message == "" {
			message = waitErr.Error()
		}
		return protocol.ExecutionResult{}, &ExecutionError{Message: message, Raw: raw, ExitCode: code, Err: waitErr}
	}
	if fatal != "" {
		r.metrics.EngineFinished("error", elapsed)
		return protocol.ExecutionResult{}, &ExecutionError{Message: fatal, Raw: raw, ExitCode: 0}
	}
	r.metrics.EngineFinished("ok", elapsed)

	content := format.Format(stdout.String(), req.Format)
	millis := elapsed.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	return protocol.ExecutionResult{
		Format:              req.Format,
		Content:             content,
		ExecutionTimeMillis: &millis,
		PossibleError:       r.detector.IsErrorOutput(content),
	}, nil
}

// terminate sends SIGTERM to the process group, waits KillGrace, then sends
// SIGKILL and waits for the process to be reaped.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) {
	if err := interruptGroup(cmd); err != nil {
		r.logger.Warn("engine interrupt failed", "error", err)
	}
	grace := time.NewTimer(r.cfg.KillGrace)
	defer grace.Stop()
	select {
	case <-done:
		return
	case <-grace.C:
	}

	if err := killGroup(cmd); err != nil {
		r.logger.Warn("engine kill failed", "error", err)
	}
	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-done:
	case <-reap.C:
		r.logger.Error("engine process not reaped after kill", "pid", cmd.Process.Pid)
	}
}

func (r *Runner) classifyStart(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && pathErr.Op == "chdir" {
		return &ExecutionError{Message: err.Error(), ExitCode: -1, Err: err}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return &NotFoundError{Path: r.cfg.Path, Err: err}
	}
	return &ExecutionError{Message: "start engine: " + err.Error(), ExitCode: -1, Err: err}
}

// inspectStderr logs non-benign stderr lines and returns the first line that
// starts with a fatal prefix.
func (r *Runner) inspectStderr(stderr string) string {
	fatal := ""
	for _, line := range strings.Split(format.StripControl(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if fatal == "" && hasAnyPrefix(line, r.cfg.FatalStderrPrefixes) {
			fatal = line
			continue
		}
		if containsAny(line, r.cfg.BenignStderr) {
			r.logger.Debug("engine diagnostic", "line", line)
			continue
		}
		r.logger.Warn("engine stderr", "line", line)
	}
	return fatal
}

func checkDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("working directory %q does not exist", dir)
		}
		return fmt.Errorf("working directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %q is not a directory", dir)
	}
	return nil
}

func combine(stdout, stderr string) string {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(format.StripControl(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func hasAnyPrefix(line string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func containsAny(line string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(line, needle) {
			return true
		}
	}
	return false
}
