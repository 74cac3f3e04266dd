// Package startup runs the engine checks that precede serving requests.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codex-k8s/compute-mcp-server/internal/executil"
	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
	"github.com/codex-k8s/compute-mcp-server/internal/security"
)

// Engine is the part of the runner used during startup.
type Engine interface {
	Path() string
	CheckAvailable() error
	Execute(ctx context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error)
}

// Sequence checks the engine binary and warms it up, recording progress in
// State.
type Sequence struct {
	Engine Engine
	State  *health.State
	Logger *slog.Logger
	// WarmupCode is evaluated once; empty skips warmup.
	WarmupCode string
	// WarmupTimeout is in seconds.
	WarmupTimeout int
	// EngineEnv is logged with sensitive values masked.
	EngineEnv map[string]string
}

// Run returns an error only when the engine is unavailable. A failed warmup
// is recorded in State and logged.
func (s Sequence) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("checking engine", "path", s.Engine.Path(), "env", security.RedactEnv(executil.MergeEnv(nil, s.EngineEnv)))

	if err := s.Engine.CheckAvailable(); err != nil {
		s.State.Fail(err)
		return fmt.Errorf("engine check failed: %w", err)
	}
	s.State.MarkEngineAvailable()

	if strings.TrimSpace(s.WarmupCode) == "" {
		logger.Info("engine warmup skipped")
		s.State.MarkEngineWarmedUp()
		return nil
	}

	start := time.Now()
	_, err := s.Engine.Execute(ctx, protocol.ExecutionRequest{
		Code:           s.WarmupCode,
		Format:         protocol.FormatText,
		TimeoutSeconds: s.WarmupTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.State.Fail(fmt.Errorf("engine warmup failed: %w", err))
		logger.Error("engine warmup failed", "error", err)
		return nil
	}
	s.State.MarkEngineWarmedUp()
	logger.Info("engine warmed up", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
