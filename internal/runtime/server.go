// Package runtime exposes the dispatcher as an MCP server.
package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/compute-mcp-server/internal/dispatch"
	"github.com/codex-k8s/compute-mcp-server/internal/profile"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
)

const methodCallTool = "tools/call"

// Builder constructs an MCP server from the dispatcher and engine profile.
type Builder struct {
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Dispatcher handles every tool call.
	Dispatcher *dispatch.Dispatcher
	// Server carries the advertised name, version and instructions.
	Server profile.ServerConfig
	// Resources are served as static MCP resources.
	Resources []profile.ResourceConfig
}

// Build creates an MCP server with tools and resources.
func (b Builder) Build() (*mcp.Server, error) {
	if b.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    b.Server.Name,
		Version: b.Server.Version,
	}, &mcp.ServerOptions{
		Instructions: b.Server.Instructions,
	})

	for _, res := range b.Resources {
		resource := res
		server.AddResource(&mcp.Resource{
			Name:        resource.Name,
			URI:         resource.URI,
			Description: resource.Description,
			MIMEType:    resource.MIMEType,
		}, func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: resource.URI, MIMEType: resource.MIMEType, Text: resource.Text},
				},
			}, nil
		})
	}

	for _, tool := range b.Dispatcher.Tools() {
		b.addTool(server, tool)
	}
	server.AddReceivingMiddleware(b.unknownTools)

	if b.Logger != nil {
		b.Logger.Info("mcp server built", "tools", b.Dispatcher.ToolNames(), "resources", len(b.Resources))
	}
	return server, nil
}

func (b Builder) addTool(server *mcp.Server, tool dispatch.Tool) {
	name := tool.Name
	server.AddTool(&mcp.Tool{
		Name:        tool.Name,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
		Annotations: annotations(tool),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw []byte
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		return toCallToolResult(b.Dispatcher.Dispatch(ctx, name, raw)), nil
	})
}

// unknownTools answers tools/call for names outside the tool set with an
// isError result instead of a JSON-RPC error.
func (b Builder) unknownTools(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method != methodCallTool {
			return next(ctx, method, req)
		}
		call, ok := req.(*mcp.CallToolRequest)
		if !ok || call.Params == nil || b.Dispatcher.Has(call.Params.Name) {
			return next(ctx, method, req)
		}
		return toCallToolResult(b.Dispatcher.Dispatch(ctx, call.Params.Name, call.Params.Arguments)), nil
	}
}

func annotations(tool dispatch.Tool) *mcp.ToolAnnotations {
	openWorld := false
	destructive := !tool.ReadOnly
	return &mcp.ToolAnnotations{
		Title:           tool.Title,
		ReadOnlyHint:    tool.ReadOnly,
		DestructiveHint: &destructive,
		IdempotentHint:  tool.ReadOnly,
		OpenWorldHint:   &openWorld,
	}
}

func toCallToolResult(result protocol.ToolResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: result.Text}},
		StructuredContent: result.Structured,
		IsError:           result.IsError,
	}
}
