package startup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/compute-mcp-server/internal/engine"
	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

type fakeEngine struct {
	availErr error
	execErr  error
	requests []protocol.ExecutionRequest
}

func (f *fakeEngine) Path() string { return "/opt/engine" }

func (f *fakeEngine) CheckAvailable() error { return f.availErr }

func (f *fakeEngine) Execute(_ context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error) {
	f.requests = append(f.requests, req)
	if f.execErr != nil {
		return protocol.ExecutionResult{}, f.execErr
	}
	return protocol.ExecutionResult{Content: "2"}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSuccess(t *testing.T) {
	eng := &fakeEngine{}
	state := health.New(nil)
	seq := Sequence{Engine: eng, State: state, Logger: discard(), WarmupCode: "1+1", WarmupTimeout: 60}

	require.NoError(t, seq.Run(context.Background()))
	report := state.Snapshot()
	assert.True(t, report.Checks[health.CheckEngineAvailable])
	assert.True(t, report.Checks[health.CheckEngineWarmedUp])
	assert.Nil(t, report.Error)
	require.Len(t, eng.requests, 1)
	assert.Equal(t, protocol.ExecutionRequest{Code: "1+1", Format: protocol.FormatText, TimeoutSeconds: 60}, eng.requests[0])
}

func TestRunEngineMissingIsFatal(t *testing.T) {
	eng := &fakeEngine{availErr: &engine.NotFoundError{Path: "/opt/engine"}}
	state := health.New(nil)
	state.MarkStarted()

	err := Sequence{Engine: eng, State: state, Logger: discard(), WarmupCode: "1+1", WarmupTimeout: 1}.Run(context.Background())
	require.Error(t, err)
	var notFound *engine.NotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Empty(t, eng.requests)

	report := state.Snapshot()
	assert.Equal(t, health.StatusError, report.Status)
	require.NotNil(t, report.Error)
	assert.Contains(t, *report.Error, "engine not found")
}

func TestRunWarmupFailureIsRecorded(t *testing.T) {
	eng := &fakeEngine{execErr: &engine.TimeoutError{Seconds: 1}}
	state := health.New(nil)

	require.NoError(t, Sequence{Engine: eng, State: state, Logger: discard(), WarmupCode: "1+1", WarmupTimeout: 1}.Run(context.Background()))
	report := state.Snapshot()
	assert.True(t, report.Checks[health.CheckEngineAvailable])
	assert.False(t, report.Checks[health.CheckEngineWarmedUp])
	require.NotNil(t, report.Error)
	assert.Contains(t, *report.Error, "engine warmup failed")
	assert.Equal(t, health.StatusError, report.Status)
}

func TestRunWarmupSkipped(t *testing.T) {
	eng := &fakeEngine{}
	state := health.New(nil)
	require.NoError(t, Sequence{Engine: eng, State: state, Logger: discard()}.Run(context.Background()))
	assert.True(t, state.Snapshot().Checks[health.CheckEngineWarmedUp])
	assert.Empty(t, eng.requests)
}

func TestRunCanceledDuringWarmup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{execErr: &engine.ExecutionError{Message: "canceled", ExitCode: -1, Err: context.Canceled}}
	state := health.New(nil)

	err := Sequence{Engine: eng, State: state, Logger: discard(), WarmupCode: "1+1", WarmupTimeout: 1}.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, state.Snapshot().Error)
}

func TestRunRedactsEngineEnv(t *testing.T) {
	var buf bytes.Buffer
	seq := Sequence{
		Engine:    &fakeEngine{},
		State:     health.New(nil),
		Logger:    slog.New(slog.NewJSONHandler(&buf, nil)),
		EngineEnv: map[string]string{"LICENSE_TOKEN": "s3cr3t", "MODE": "batch"},
	}
	require.NoError(t, seq.Run(context.Background()))
	assert.NotContains(t, buf.String(), "s3cr3t")
	assert.Contains(t, buf.String(), "MODE=batch")
	assert.Contains(t, buf.String(), "LICENSE_TOKEN=***")
}
