package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	return jsonResponse(struct {
		Workflows interface{} `json:"workflows"`
	}{Workflows: s.catalog.List()})
}
