// Package mcp serves governance checks to MCP hosts over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/gate"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath string
	Version    string
}

// Server wraps the MCP SDK server around a Gate.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *gate.Gate
	cfg       Config
}

// New creates an MCP server. Checks are decided against cfg.PolicyPath.
func New(g *gate.Gate, cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{gate: g, cfg: cfg}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "toolgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on the stdio transport. Blocks until ctx is cancelled or the
// peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_check",
		Description: "Ask whether a tool call may proceed under the active policy. The decision is audited and counts against rate limits.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_validate",
		Description: "Validate a policy document and list every violation. Defaults to the active policy file.",
	}, s.handleValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_explain",
		Description: "Show which rule would match an identity and tool, without deciding or auditing.",
	}, s.handleExplain)
}
