package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
)

func (s *Server) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.allow() {
		return rateLimitedResponse(), nil
	}

	stateToken, err := request.RequireString("stateToken")
	if err != nil {
		return errorResponse(toolError{Code: "VALIDATION_ERROR", Field: "stateToken", Message: "missing or invalid 'stateToken' argument"}), nil
	}
	ackToken := request.GetString("ackToken", "")
	output := request.GetString("output", "")
	// intent is accepted in the schema for symmetry with nextIntent but
	// never read: the orchestrator always derives its own intent.

	var reqContext map[string]interface{}
	if args := request.GetArguments(); args != nil {
		if c, ok := args["context"].(map[string]interface{}); ok {
			reqContext = c
		}
	}

	result, err := s.orch.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: stateToken,
		AckToken:   ackToken,
		Context:    reqContext,
		Output:     output,
	})
	if err != nil {
		return errorResponse(mapError(err)), nil
	}

	return jsonResponse(result)
}
