// Package mcpserver exposes the tool dispatcher over the Model
// Context Protocol: stdio for agent sessions, SSE over HTTP for local
// debugging.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/logger"
	"github.com/ternarybob/serena/internal/tools"
)

// Server adapts the dispatcher to MCP.
type Server struct {
	dispatcher *tools.Dispatcher
	mcp        *server.MCPServer
}

// New builds the MCP server and registers every tool the runtime
// context enables. Disabled tools are not discoverable.
func New(dispatcher *tools.Dispatcher, version string) *Server {
	s := &Server{dispatcher: dispatcher}

	mcpServer := server.NewMCPServer(
		"serena",
		version,
		server.WithToolCapabilities(true),
	)
	for _, info := range dispatcher.EnabledTools() {
		mcpServer.AddTool(buildTool(info), s.handlerFor(info.Name))
	}
	s.mcp = mcpServer
	return s
}

// buildTool translates a ParamSpec list into an MCP tool schema,
// appending the envelope parameters every tool accepts.
func buildTool(info tools.ToolInfo) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(info.Description)}

	for _, p := range info.Params {
		var propOpts []mcp.PropertyOption
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case tools.TypeString:
			if len(p.Enum) > 0 {
				propOpts = append(propOpts, mcp.Enum(p.Enum...))
			}
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		case tools.TypeInt:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case tools.TypeBool:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		case tools.TypeStringList:
			propOpts = append(propOpts, mcp.Items(map[string]any{"type": "string"}))
			opts = append(opts, mcp.WithArray(p.Name, propOpts...))
		}
	}

	// Envelope parameters, shared by every tool.
	opts = append(opts,
		mcp.WithString("verbosity",
			mcp.Description("Response detail level"),
			mcp.Enum("minimal", "normal", "detailed", "auto")),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the response")),
		mcp.WithString("truncation",
			mcp.Description("Behavior when the budget is exceeded"),
			mcp.Enum("error", "summary", "paginate")),
		mcp.WithString("cursor",
			mcp.Description("Opaque pagination cursor from a previous call")),
	)
	return mcp.NewTool(info.Name, opts...)
}

// handlerFor adapts one tool into an MCP handler: arguments in,
// JSON-encoded envelope out. Tool failures become MCP tool errors
// rather than protocol errors, so agents can read them.
func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		envelope, err := s.dispatcher.Call(ctx, name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(renderError(err)), nil
		}

		data, err := json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode response: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// renderError prefixes the taxonomy category so callers can branch on
// error class without parsing free text.
func renderError(err error) string {
	var trunc *errs.TruncationError
	if errors.As(err, &trunc) {
		payload, _ := json.Marshal(map[string]any{
			"error":       "truncation",
			"tokens":      trunc.Tokens,
			"max_tokens":  trunc.MaxTokens,
			"suggestions": trunc.Suggest,
		})
		return string(payload)
	}

	category := "internal"
	switch {
	case errs.IsValidation(err):
		category = "validation"
	case errs.IsNotFound(err):
		category = "not_found"
	case errs.IsTimeout(err):
		category = "timeout"
	case errs.IsTerminated(err):
		category = "terminated"
	case errs.IsIO(err):
		category = "io"
	}
	return fmt.Sprintf("%s: %v", category, err)
}

// ServeStdio blocks serving one session over stdin/stdout.
func (s *Server) ServeStdio() error {
	logger.GetLogger().Info().Msg("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

// ServeHTTP blocks serving the SSE debugging endpoint.
func (s *Server) ServeHTTP(addr string) error {
	logger.GetLogger().Info().Str("addr", addr).Msg("serving MCP over HTTP/SSE")
	sse := server.NewSSEServer(s.mcp)
	return sse.Start(addr)
}
