// Package mcptools surfaces the MCP server registry and sandbox session
// tracker as tools, and installs proxy tools for every remote tool the
// configured servers advertise.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/mcp"
	"github.com/modelrelay/relay/internal/runner"
)

const remoteListTimeout = 10 * time.Second

// Tools bridges the MCP registry into the tool registry.
type Tools struct {
	mcp      *mcp.Registry
	sessions *runner.SessionTracker // nil hides sandbox sessions
	logger   *slog.Logger
}

func NewTools(registry *mcp.Registry, sessions *runner.SessionTracker, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{mcp: registry, sessions: sessions, logger: logger}
}

func (t *Tools) Register(reg *agent.Registry) {
	reg.Register(&agent.ToolSpec{
		Name: "workspace_mcp_servers", Category: "mcp",
		Description: "List configured MCP servers; pass refresh:true to reload manifests.",
		Handler:     t.servers,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_mcp_call", Category: "mcp",
		Description: "Call a tool on a named MCP server.",
		Handler:     t.call,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_sandbox_sessions", Category: "mcp",
		Description: "List or release tracked sandbox sessions.",
		Handler:     t.sandboxSessions,
	})
}

// RegisterRemoteTools queries every known server for its tools and
// installs mcp_<server>_<tool> proxies. Unreachable servers are logged
// and skipped.
func (t *Tools) RegisterRemoteTools(ctx context.Context, reg *agent.Registry) int {
	installed := 0
	for _, server := range t.mcp.Servers() {
		listCtx, cancel := context.WithTimeout(ctx, remoteListTimeout)
		tools, err := t.mcp.ListRemoteTools(listCtx, server.ID)
		cancel()
		if err != nil {
			t.logger.Warn("skipping mcp server tools", "server", server.ID, "error", err)
			continue
		}
		for _, remote := range tools {
			serverID, toolName := server.ID, remote.Name
			description := remote.Description
			if description == "" {
				description = fmt.Sprintf("Proxy for %s on MCP server %s.", toolName, serverID)
			}
			reg.Register(&agent.ToolSpec{
				Name:        mcp.ProxyToolName(serverID, toolName),
				Category:    "mcp",
				Description: description,
				Handler: func(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
					return t.invokeRemote(ctx, serverID, toolName, call.Args)
				},
			})
			installed++
		}
	}
	return installed
}

func (t *Tools) invokeRemote(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	raw, err := t.mcp.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw), nil
}

func (t *Tools) servers(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	refreshed := false
	if refresh, _ := call.Args["refresh"].(bool); refresh {
		t.mcp.Refresh()
		refreshed = true
	}
	servers := t.mcp.Servers()
	out := make([]map[string]any, 0, len(servers))
	for _, s := range servers {
		entry := map[string]any{
			"id":      s.ID,
			"command": s.Command,
		}
		if s.Name != "" {
			entry["name"] = s.Name
		}
		if s.Description != "" {
			entry["description"] = s.Description
		}
		out = append(out, entry)
	}
	return map[string]any{"servers": out, "count": len(out), "refreshed": refreshed}, nil
}

func (t *Tools) call(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	serverID, _ := call.Args["server"].(string)
	if serverID == "" {
		if serverID, _ = call.Args["server_id"].(string); serverID == "" {
			return nil, fmt.Errorf("server is required")
		}
	}
	toolName, _ := call.Args["tool"].(string)
	if toolName == "" {
		if toolName, _ = call.Args["tool_name"].(string); toolName == "" {
			return nil, fmt.Errorf("tool is required")
		}
	}
	args, _ := call.Args["arguments"].(map[string]any)
	if args == nil {
		args, _ = call.Args["args"].(map[string]any)
	}
	raw, err := t.mcp.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"server": serverID, "tool": toolName, "result": decodeRaw(raw)}, nil
}

func (t *Tools) sandboxSessions(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	if t.sessions == nil {
		return nil, fmt.Errorf("sandbox session tracking is not enabled")
	}
	if id, _ := call.Args["release"].(string); id != "" {
		released := t.sessions.Release(id)
		return map[string]any{"released": released, "id": id}, nil
	}
	list := t.sessions.List()
	return map[string]any{"sessions": list, "count": len(list)}, nil
}

// decodeRaw keeps JSON results structured, falling back to the raw text.
func decodeRaw(raw json.RawMessage) any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
