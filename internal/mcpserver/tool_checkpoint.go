package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleCheckpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	checkpointToken, err := request.RequireString("checkpointToken")
	if err != nil {
		return errorResponse(toolError{Code: "VALIDATION_ERROR", Field: "checkpointToken", Message: "missing or invalid 'checkpointToken' argument"}), nil
	}

	result, err := s.orch.Checkpoint(ctx, checkpointToken)
	if err != nil {
		return errorResponse(mapError(err)), nil
	}

	return jsonResponse(result)
}
