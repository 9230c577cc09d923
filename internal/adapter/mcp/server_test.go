package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/DocSync/internal/adapter/mcp"
	"github.com/Strob0t/DocSync/internal/adapter/memremote"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/user"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
	"github.com/Strob0t/DocSync/internal/service"
)

type fixture struct {
	server *cfmcp.Server
	repo   *memremote.Repository
	ws     *service.Workspace
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := memremote.NewRepository(repo.Ref{Owner: "acme", Name: "docs", DefaultBranch: "main"}, map[string]string{
		"README.md": "# Docs\n",
		"guide.md":  "Guide\n",
	})
	provider := memremote.NewProvider("main")
	provider.Add(r)
	mgr := service.NewManager(service.ManagerOptions{Provider: provider})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	ctx := user.WithIdentity(context.Background(), user.Identity{ID: "bot"}, user.NewCredential("ghp_bot"))
	ws, err := mgr.Start(ctx, service.StartRequest{Owner: "acme", Repo: "docs"})
	if err != nil {
		t.Fatal(err)
	}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{Workspaces: mgr})
	return &fixture{server: s, repo: r, ws: ws, ctx: ctx}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := f.server.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if _, set := args["workspace_id"]; !set {
		args["workspace_id"] = f.ws.ID
	}
	result, err := tool.Handler(f.ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func decode(t *testing.T, result *mcplib.CallToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	tools := s.MCPServer().ListTools()
	expected := []string{"workspace_status", "read_file", "write_file", "enqueue_operation", "commit"}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestWriteReadCommit(t *testing.T) {
	f := newFixture(t)

	var st service.WorkspaceState
	decode(t, f.call(t, "write_file", map[string]any{"path": "guide.md", "content": "Guide v2\n"}), &st)
	if st.Status != workspace.StatusLocalChanges || len(st.DirtyFiles) != 1 {
		t.Fatalf("state = %+v", st)
	}

	var entry workspace.FileEntry
	decode(t, f.call(t, "read_file", map[string]any{"path": "guide.md"}), &entry)
	if entry.Content != "Guide v2\n" || !entry.IsDirty {
		t.Fatalf("entry = %+v", entry)
	}

	var op workspace.Operation
	decode(t, f.call(t, "enqueue_operation", map[string]any{"kind": "create", "path": "faq.md", "content": "FAQ\n"}), &op)
	if op.Kind != workspace.OpCreate {
		t.Fatalf("op = %+v", op)
	}

	decode(t, f.call(t, "commit", map[string]any{"message": "Update guide", "description": "Adds an FAQ."}), &st)
	if st.Status != workspace.StatusSynced {
		t.Fatalf("state after commit = %+v", st)
	}
	files := f.repo.Files("main")
	if files["guide.md"] != "Guide v2\n" || files["faq.md"] != "FAQ\n" {
		t.Fatalf("remote files = %v", files)
	}
	last, _ := f.repo.LastCommit("main")
	if last.Message != "Update guide\n\nAdds an FAQ." {
		t.Fatalf("message = %q", last.Message)
	}
}

func TestToolErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"unknown workspace", "workspace_status", map[string]any{"workspace_id": "nope"}},
		{"missing path", "read_file", nil},
		{"missing file", "read_file", map[string]any{"path": "missing.md"}},
		{"missing content", "write_file", map[string]any{"path": "guide.md"}},
		{"bad kind", "enqueue_operation", map[string]any{"kind": "chmod", "path": "guide.md"}},
		{"nothing to commit", "commit", map[string]any{"message": "Empty"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if result := f.call(t, tc.tool, tc.args); !result.IsError {
				t.Fatalf("expected error result, got %v", result.Content)
			}
		})
	}
}

func TestOtherUsersWorkspaceIsHidden(t *testing.T) {
	f := newFixture(t)
	f.ctx = user.WithIdentity(context.Background(), user.Identity{ID: "someone-else"}, user.NewCredential("ghp_other"))
	if result := f.call(t, "workspace_status", nil); !result.IsError {
		t.Fatal("another user's workspace was visible")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	tool := s.MCPServer().ListTools()["workspace_status"]
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "workspace_status", Arguments: map[string]any{"workspace_id": "w"}},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := cfmcp.AuthMiddleware("secret", ok)

	tests := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("key %q: status = %d, want %d", tt.key, rec.Code, tt.want)
		}
	}

	if cfmcp.AuthMiddleware("", ok) == nil {
		t.Fatal("disabled middleware returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
