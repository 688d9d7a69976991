// Package mcpserver exposes WorkRail's five tool verbs (spec.md §6) over
// the Model Context Protocol, grounded on the teacher's
// internal/mcp/server package: an mcp-go server wrapping a rate
// limiter and a handler per tool, serving stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/EtienneBBeaulac/workrail/internal/catalog"
	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/resume"
)

// defaultCallsPerMinute bounds tool calls per the rate limiter. There is
// no separate "run" bucket the way the teacher has one for
// conductor_run: every WorkRail tool call does comparable, cheap,
// durable-log work, not a potentially-long workflow execution.
const defaultCallsPerMinute = 120

// Config wires a Server to its concrete dependencies. Orchestrator,
// Catalog, and Resolver are required; Name defaults to "workrail",
// Version to "dev", and Logger to slog.Default().
type Config struct {
	Name    string
	Version string

	Orchestrator *orchestrator.Orchestrator
	Catalog      *catalog.Catalog
	Resolver     *resume.Resolver
	Logger       *slog.Logger
}

// Server wraps the MCP server and the five tool verbs.
type Server struct {
	mcpServer *server.MCPServer
	name      string
	version   string

	orch     *orchestrator.Orchestrator
	catalog  *catalog.Catalog
	resolver *resume.Resolver

	limiter *rateLimiter
	logger  *slog.Logger
}

// NewServer builds a Server and registers its tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "workrail"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Orchestrator == nil || cfg.Catalog == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("mcpserver: Orchestrator, Catalog, and Resolver are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		name:      cfg.Name,
		version:   cfg.Version,
		orch:      cfg.Orchestrator,
		catalog:   cfg.Catalog,
		resolver:  cfg.Resolver,
		limiter:   newRateLimiter(defaultCallsPerMinute),
		logger:    logger,
	}

	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "start_workflow",
		Description: "Begin a new workflow session, pinning the workflow's compiled definition to the session for its lifetime.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflowId": map[string]interface{}{
					"type":        "string",
					"description": "The id of a workflow registered in the catalog",
				},
				"context": map[string]interface{}{
					"type":        "object",
					"description": "Initial context values available to the workflow's steps",
				},
				"workspacePath": map[string]interface{}{
					"type":        "string",
					"description": "Path to the caller's working tree, used to record git HEAD/branch for later resume ranking",
				},
			},
			Required: []string{"workflowId"},
		},
	}, s.handleStart)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "continue_workflow",
		Description: "Advance a session past its last acknowledged node, or rehydrate its current state without advancing.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"stateToken": map[string]interface{}{
					"type":        "string",
					"description": "The session's current state token",
				},
				"ackToken": map[string]interface{}{
					"type":        "string",
					"description": "Acknowledges the pending step named by stateToken; omit to rehydrate only",
				},
				"context": map[string]interface{}{
					"type":        "object",
					"description": "Context values to merge before advancing",
				},
				"output": map[string]interface{}{
					"type":        "string",
					"description": "Free-text notes recorded against the acknowledged node",
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Accepted for interface symmetry with nextIntent; the engine always derives its own intent and this value is ignored",
				},
			},
			Required: []string{"stateToken"},
		},
	}, s.handleContinue)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "checkpoint_workflow",
		Description: "Record a checkpoint node attached to the session's current node. Idempotent when replayed with the same checkpoint token.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"checkpointToken": map[string]interface{}{
					"type":        "string",
					"description": "The session's current checkpoint token",
				},
			},
			Required: []string{"checkpointToken"},
		},
	}, s.handleCheckpoint)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "resume_session",
		Description: "Rank known sessions against the caller's current git state and a free-text query, returning up to 5 resumable candidates with fresh state tokens.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspacePath": map[string]interface{}{
					"type":        "string",
					"description": "Path to the caller's working tree",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text query matched against session notes and workflow id",
				},
			},
		},
	}, s.handleResume)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_workflows",
		Description: "List every workflow currently registered in the catalog.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleList)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "inspect_workflow",
		Description: "Return a workflow's authored definition.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflowId": map[string]interface{}{
					"type":        "string",
					"description": "The id of a workflow registered in the catalog",
				},
			},
			Required: []string{"workflowId"},
		},
	}, s.handleInspect)
}

// Run starts the MCP server over stdio.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting workrail MCP server", slog.String("version", s.version))
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func errorResponse(te toolError) *mcp.CallToolResult {
	result := mcp.NewToolResultError(te.json())
	return result
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func rateLimitedResponse() *mcp.CallToolResult {
	return errorResponse(toolError{Code: "PRECONDITION_FAILED", Message: "rate limit exceeded, please retry shortly", Retryable: true, AfterMs: 1000})
}
