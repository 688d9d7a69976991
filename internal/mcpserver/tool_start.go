package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
)

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	workflowID, err := request.RequireString("workflowId")
	if err != nil {
		return errorResponse(toolError{Code: "VALIDATION_ERROR", Field: "workflowId", Message: "missing or invalid 'workflowId' argument"}), nil
	}
	workspacePath := request.GetString("workspacePath", "")

	var reqContext map[string]interface{}
	if args := request.GetArguments(); args != nil {
		if c, ok := args["context"].(map[string]interface{}); ok {
			reqContext = c
		}
	}

	result, err := s.orch.Start(ctx, orchestrator.StartRequest{
		WorkflowID:    workflowID,
		Context:       reqContext,
		WorkspacePath: workspacePath,
	})
	if err != nil {
		return errorResponse(mapError(err)), nil
	}

	return jsonResponse(result)
}

func jsonResponse(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(toolError{Code: "INTERNAL_ERROR", Message: "failed to encode tool result"}), nil
	}
	return textResponse(string(data)), nil
}
