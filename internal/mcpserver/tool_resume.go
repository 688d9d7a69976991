package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	workspacePath := request.GetString("workspacePath", "")
	query := request.GetString("query", "")

	candidates, err := s.resolver.Resume(ctx, workspacePath, query)
	if err != nil {
		return errorResponse(mapError(err)), nil
	}

	return jsonResponse(struct {
		Candidates interface{} `json:"candidates"`
	}{Candidates: candidates})
}
