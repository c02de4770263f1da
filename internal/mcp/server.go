// Package mcp exposes the dispatcher to an LLM engine as MCP tools over
// stdio. Every tool call becomes a dispatcher request with actor "llm".
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/admin"
	"github.com/ppiankov/skillgate/internal/dispatch"
)

// Config holds MCP server configuration.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	// Authorizer gates policy_privileged. Nil disables remote toggling.
	Authorizer *admin.Authorizer
	Logger     *zap.Logger
	Version    string
}

// Server wraps the MCP SDK server around a Dispatcher.
type Server struct {
	mcpServer *mcpsdk.Server
	d         *dispatch.Dispatcher
	auth      *admin.Authorizer
	logger    *zap.Logger
}

// New creates an MCP server with all skillgate tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("mcp: dispatcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		d:      cfg.Dispatcher,
		auth:   cfg.Authorizer,
		logger: cfg.Logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "skillgate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves on stdio. Blocks until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", zap.Int("capabilities", s.d.Registry().Len()))
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all skillgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "skill_invoke",
		Description: "Invoke a registered capability through skillgate policy enforcement. Denied or failed invocations return an error result with the reason. Set dry_run to only evaluate policy.",
	}, s.handleInvoke)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "skill_undo",
		Description: "Undo a reversible action by action_id, or the most recent reversible action (optionally of one capability) when action_id is omitted.",
	}, s.handleUndo)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "skill_list",
		Description: "List registered capabilities with their arguments and safety flags.",
	}, s.handleList)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "policy_status",
		Description: "Show the policy in effect: allowed roots, blocked extensions, privileged mode and rate limits.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "policy_privileged",
		Description: "Enable (requires the admin token and a reason) or disable privileged mode.",
	}, s.handlePrivileged)
}
