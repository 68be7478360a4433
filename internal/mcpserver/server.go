// Package mcpserver exposes the catalog and prompt blocks to agents over
// the Model Context Protocol.
package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"transitsql/internal/catalog"
	"transitsql/internal/prompts"
)

// Deps holds everything the server needs. Catalog is required.
type Deps struct {
	Catalog *catalog.Catalog
	Prompts *prompts.Set
	Logger  *zap.Logger
	// SampleRows is the number of example rows per table in the database
	// context. Defaults to 1.
	SampleRows int
	Version    string
}

// Server is the MCP server for one store.
type Server struct {
	mcp     *server.MCPServer
	catalog *catalog.Catalog
	prompts *prompts.Set
	log     *zap.Logger
	samples int
}

// New creates the server and registers its tools and prompts.
func New(deps Deps) *Server {
	s := &Server{
		catalog: deps.Catalog,
		prompts: deps.Prompts,
		log:     deps.Logger,
		samples: deps.SampleRows,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.prompts == nil {
		s.prompts = prompts.FromMap(prompts.Defaults, true)
	}
	if s.samples <= 0 {
		s.samples = 1
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"transitsql",
		version,
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
	)

	s.registerCatalogTools()
	s.registerPrompts()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.log.Info("Starting MCP stdio server")
	return server.ServeStdio(s.mcp)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult reports a failure the agent can act on (bad table name,
// rejected query) as tool output rather than a protocol error.
func errorResult(err error) *mcp.CallToolResult {
	res := textResult(err.Error())
	res.IsError = true
	return res
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
