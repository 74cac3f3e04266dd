package profile

import (
	"bytes"
	"fmt"
	"time"

	"go.yaml.in/yaml/v4"

	"github.com/codex-k8s/compute-mcp-server/internal/engine"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

// Load parses rendered YAML into a Profile and validates it.
func Load(data []byte) (*Profile, error) {
	var p Profile
	// An empty profile falls through to validation for a clearer error.
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Load(data, &p, yaml.WithKnownFields()); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RunnerConfig converts the engine section into an engine.Config for path.
func (e EngineConfig) RunnerConfig(path string, killGrace time.Duration, maxConcurrent int) engine.Config {
	wrappers := map[protocol.Format]string{}
	if e.Wrappers.Latex != "" {
		wrappers[protocol.FormatLatex] = e.Wrappers.Latex
	}
	if e.Wrappers.Native != "" {
		wrappers[protocol.FormatNative] = e.Wrappers.Native
	}
	return engine.Config{
		Path:                path,
		ExtraArgs:           e.ExtraArgs,
		TimeoutFlag:         e.TimeoutFlag,
		CodeFlag:            e.CodeFlag,
		Env:                 e.Env,
		Wrappers:            wrappers,
		BenignStderr:        e.BenignStderr,
		FatalStderrPrefixes: e.FatalStderrPrefixes,
		ErrorPatterns:       e.ErrorPatterns,
		KillGrace:           killGrace,
		MaxConcurrent:       maxConcurrent,
	}
}
