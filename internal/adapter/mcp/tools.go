package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.workspaceStatusTool(),
		s.readFileTool(),
		s.writeFileTool(),
		s.enqueueOperationTool(),
		s.commitTool(),
	)
}

func workspaceIDParam() mcplib.ToolOption {
	return mcplib.WithString("workspace_id",
		mcplib.Required(),
		mcplib.Description("The workspace (editing session) ID"),
	)
}

func (s *Server) workspaceStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("workspace_status",
		mcplib.WithDescription("Get the sync status, dirty files and pending operations of a workspace"),
		workspaceIDParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWorkspaceStatus}
}

func (s *Server) readFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("read_file",
		mcplib.WithDescription("Read a file of the workspace, including unpushed local edits"),
		workspaceIDParam(),
		mcplib.WithString("path", mcplib.Required(), mcplib.Description("Repository-relative file path")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReadFile}
}

func (s *Server) writeFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("write_file",
		mcplib.WithDescription("Replace the content of a file; the change is pushed by auto-save or the next commit"),
		workspaceIDParam(),
		mcplib.WithString("path", mcplib.Required(), mcplib.Description("Repository-relative file path")),
		mcplib.WithString("content", mcplib.Required(), mcplib.Description("The complete new file content")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWriteFile}
}

func (s *Server) enqueueOperationTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("enqueue_operation",
		mcplib.WithDescription("Queue a file operation (create, delete, rename, move, duplicate) for the next push"),
		workspaceIDParam(),
		mcplib.WithString("kind",
			mcplib.Required(),
			mcplib.Enum(string(workspace.OpCreate), string(workspace.OpDelete), string(workspace.OpRename), string(workspace.OpMove), string(workspace.OpDuplicate)),
		),
		mcplib.WithString("path", mcplib.Description("Source path (create, delete, rename, move)")),
		mcplib.WithString("new_path", mcplib.Description("Destination path (rename, move, duplicate)")),
		mcplib.WithString("content", mcplib.Description("Initial content (create, duplicate)")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleEnqueueOperation}
}

func (s *Server) commitTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("commit",
		mcplib.WithDescription("Commit every local change of the workspace as a single commit"),
		workspaceIDParam(),
		mcplib.WithString("message", mcplib.Required(), mcplib.Description("Commit title")),
		mcplib.WithString("description", mcplib.Description("Optional commit body")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCommit}
}

// workspaceFor resolves the workspace_id argument. A non-nil result is the
// tool error to return.
func (s *Server) workspaceFor(ctx context.Context, args map[string]any) (*service.Workspace, *mcplib.CallToolResult) {
	if s.deps.Workspaces == nil {
		return nil, mcplib.NewToolResultError("workspaces not configured")
	}
	id, ok := args["workspace_id"].(string)
	if !ok || id == "" {
		return nil, mcplib.NewToolResultError("workspace_id is required")
	}
	ws, err := s.deps.Workspaces.Get(ctx, id)
	if err != nil {
		return nil, mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get workspace %s", id), err)
	}
	return ws, nil
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

func (s *Server) handleWorkspaceStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	ws, errResult := s.workspaceFor(ctx, req.GetArguments())
	if errResult != nil {
		return errResult, nil
	}
	return marshalResult(ws.State(), "workspace state")
}

func (s *Server) handleReadFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	ws, errResult := s.workspaceFor(ctx, args)
	if errResult != nil {
		return errResult, nil
	}
	path := stringArg(args, "path")
	if path == "" {
		return mcplib.NewToolResultError("path is required"), nil
	}
	entry, err := ws.Coordinator.OpenFile(ctx, path)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to read %s", path), err), nil
	}
	return marshalResult(entry, "file")
}

func (s *Server) handleWriteFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	ws, errResult := s.workspaceFor(ctx, args)
	if errResult != nil {
		return errResult, nil
	}
	path := stringArg(args, "path")
	if path == "" {
		return mcplib.NewToolResultError("path is required"), nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return mcplib.NewToolResultError("content is required"), nil
	}
	if err := ws.Coordinator.Edit(ctx, path, content); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to write %s", path), err), nil
	}
	return marshalResult(ws.State(), "workspace state")
}

func (s *Server) handleEnqueueOperation(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	ws, errResult := s.workspaceFor(ctx, args)
	if errResult != nil {
		return errResult, nil
	}
	op := workspace.Operation{
		Kind:    workspace.OpKind(stringArg(args, "kind")),
		Path:    stringArg(args, "path"),
		NewPath: stringArg(args, "new_path"),
		Content: stringArg(args, "content"),
	}
	queued, err := ws.Coordinator.EnqueueOperation(ctx, op)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to queue operation", err), nil
	}
	return marshalResult(queued, "operation")
}

func (s *Server) handleCommit(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	ws, errResult := s.workspaceFor(ctx, args)
	if errResult != nil {
		return errResult, nil
	}
	if err := ws.Coordinator.Commit(ctx, stringArg(args, "message"), stringArg(args, "description")); err != nil {
		return mcplib.NewToolResultErrorFromErr("commit failed", err), nil
	}
	return marshalResult(ws.State(), "workspace state")
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
