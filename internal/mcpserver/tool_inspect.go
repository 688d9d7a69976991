package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

func (s *Server) handleInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	workflowID, err := request.RequireString("workflowId")
	if err != nil {
		return errorResponse(toolError{Code: "VALIDATION_ERROR", Field: "workflowId", Message: "missing or invalid 'workflowId' argument"}), nil
	}

	def, ok := s.catalog.Definition(workflowID)
	if !ok {
		return errorResponse(mapError(&wrerrors.NotFoundError{Resource: "workflow", ID: workflowID})), nil
	}

	return jsonResponse(def)
}
