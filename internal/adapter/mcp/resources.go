package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/DocSync/internal/service"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"docsync://workspaces",
			"Workspaces",
			mcplib.WithResourceDescription("State of the caller's open workspaces"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorkspacesResource,
	)
}

func (s *Server) handleWorkspacesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Workspaces == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"workspaces not configured"}`,
			},
		}, nil
	}
	all := s.deps.Workspaces.List(ctx)
	states := make([]service.WorkspaceState, 0, len(all))
	for _, ws := range all {
		states = append(states, ws.State())
	}
	data, err := json.Marshal(states)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
