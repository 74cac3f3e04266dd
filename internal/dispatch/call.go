package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

// Call is a decoded, validated tool invocation. The set of implementations
// is closed: ExecuteCall, StatusCall and PackagesCall.
type Call interface {
	ToolName() string
	isCall()
}

// ExecuteCall evaluates code.
type ExecuteCall struct {
	Code             string
	Format           protocol.Format
	TimeoutSeconds   *int
	WorkingDirectory string
}

// StatusCall reports server health.
type StatusCall struct{}

// PackagesCall lists engine packages.
type PackagesCall struct {
	TimeoutSeconds *int
}

func (ExecuteCall) ToolName() string { return constants.ToolExecuteCode }
func (StatusCall) ToolName() string { return constants.ToolEngineStatus }
func (PackagesCall) ToolName() string { return constants.ToolListPackages }

func (ExecuteCall) isCall() {}
func (StatusCall) isCall() {}
func (PackagesCall) isCall() {}

type executeArgs struct {
	Code             string `json:"code"`
	Format           string `json:"format,omitempty"`
	TimeoutSeconds   *int   `json:"timeoutSeconds,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

type packagesArgs struct {
	TimeoutSeconds *int `json:"timeoutSeconds,omitempty"`
}

// decode validates raw against the tool schema and decodes it into its Call.
func (d *Dispatcher) decode(name string, raw json.RawMessage) (Call, error) {
	tool, ok := d.tools[name]
	if !ok {
		return nil, &MethodNotFoundError{Tool: name, Available: d.ToolNames()}
	}
	raw = normalizeRaw(raw)

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, &ValidationError{Message: "arguments are not valid JSON: " + err.Error()}
	}
	if err := tool.resolved.Validate(instance); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	switch name {
	case constants.ToolExecuteCode:
		var args executeArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		if strings.TrimSpace(args.Code) == "" {
			return nil, &ValidationError{Message: "code must not be blank", Field: "code"}
		}
		kind, err := protocol.ParseFormat(args.Format)
		if err != nil {
			return nil, &ValidationError{Message: err.Error(), Field: "format"}
		}
		return ExecuteCall{
			Code:             args.Code,
			Format:           kind,
			TimeoutSeconds:   args.TimeoutSeconds,
			WorkingDirectory: args.WorkingDirectory,
		}, nil
	case constants.ToolEngineStatus:
		return StatusCall{}, nil
	case constants.ToolListPackages:
		var args packagesArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		return PackagesCall{TimeoutSeconds: args.TimeoutSeconds}, nil
	default:
		return nil, &MethodNotFoundError{Tool: name, Available: d.ToolNames()}
	}
}

func normalizeRaw(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

func decodeStrict(raw json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid arguments: %v", err)}
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "invalid arguments: trailing data"}
	}
	return nil
}
