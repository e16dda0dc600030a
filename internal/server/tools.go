package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// connectorInfo describes the connector deployment to MCP clients.
type connectorInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
	AuthRequired bool     `json:"auth_required"`
}

// connectorInfoInput is empty since this tool has no parameters.
type connectorInfoInput struct{}

// registerInfoTool registers the connector_info tool with the MCP server.
func (s *Server) registerInfoTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "connector_info",
		Description: "Get information about this MCP connector, including its " +
			"recognized session capabilities and whether authentication is required.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ connectorInfoInput) (*mcp.CallToolResult, any, error) {
		return s.handleInfoTool(ctx, req)
	})
}

func (s *Server) handleInfoTool(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, any, error) {
	info := connectorInfo{
		Name:         s.cfg.Server.Name,
		Version:      s.cfg.Server.Version,
		Capabilities: s.cfg.Session.Capabilities,
		AuthRequired: s.authn != nil,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling connector info: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// sessionStatsInput is empty since this tool has no parameters.
type sessionStatsInput struct{}

// registerStatsTool registers the session_stats tool with the MCP server.
func (s *Server) registerStatsTool() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "session_stats",
		Description: "Get point-in-time session statistics: active session count, " +
			"counts by state, and the age of the oldest session.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ sessionStatsInput) (*mcp.CallToolResult, any, error) {
		return s.handleStatsTool(ctx, req)
	})
}

func (s *Server) handleStatsTool(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, any, error) {
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("collecting session statistics: %w", err)
	}

	view := map[string]any{
		"total_active":       stats.TotalActive,
		"by_state":           stats.TotalByState,
		"oldest_session_age": stats.OldestSessionAge.String(),
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling session statistics: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
