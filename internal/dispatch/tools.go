package dispatch

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

// Tool describes one entry of the closed tool set.
type Tool struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema
	// ReadOnly marks tools without side effects beyond running the engine.
	ReadOnly bool

	resolved *jsonschema.Resolved
}

func ptr[T any](v T) *T { return &v }

// closedObject rejects properties that are not declared.
func closedObject(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           properties,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func timeoutSchema(def, max int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Minimum:     ptr(1.0),
		Description: fmt.Sprintf("Timeout in seconds (default %d, capped at %d).", def, max),
	}
}

func buildTools(limits Limits, withPackages bool) ([]Tool, error) {
	formats := make([]any, 0, len(protocol.Formats))
	for _, f := range protocol.Formats {
		formats = append(formats, string(f))
	}

	codeSchema := &jsonschema.Schema{
		Type:        "string",
		MinLength:   ptr(1),
		Description: "Engine source code to evaluate.",
	}
	if limits.MaxCodeLength > 0 {
		codeSchema.MaxLength = ptr(limits.MaxCodeLength)
	}

	tools := []Tool{
		{
			Name:  constants.ToolExecuteCode,
			Title: "Execute code",
			Description: "Evaluate code in the computation engine and return the result as plain text, " +
				"LaTeX or native syntax.",
			InputSchema: closedObject(map[string]*jsonschema.Schema{
				"code": codeSchema,
				"format": {
					Type:        "string",
					Enum:        formats,
					Description: "Output format (default text).",
				},
				"timeoutSeconds": timeoutSchema(limits.DefaultTimeout, limits.MaxTimeout),
				"workingDirectory": {
					Type:        "string",
					MinLength:   ptr(1),
					Description: "Working directory of the engine process.",
				},
			}, "code"),
		},
		{
			Name:        constants.ToolEngineStatus,
			Title:       "Engine status",
			Description: "Report server health, startup checks and engine configuration.",
			InputSchema: closedObject(map[string]*jsonschema.Schema{}),
			ReadOnly:    true,
		},
	}
	if withPackages {
		tools = append(tools, Tool{
			Name:        constants.ToolListPackages,
			Title:       "List packages",
			Description: "List packages available to the computation engine.",
			InputSchema: closedObject(map[string]*jsonschema.Schema{
				"timeoutSeconds": timeoutSchema(limits.DefaultTimeout, limits.MaxTimeout),
			}),
			ReadOnly: true,
		})
	}

	for i := range tools {
		resolved, err := tools[i].InputSchema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve schema for %s: %w", tools[i].Name, err)
		}
		tools[i].resolved = resolved
	}
	return tools, nil
}
