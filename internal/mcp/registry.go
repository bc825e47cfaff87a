package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Registry tracks known servers and their lazily spawned clients.
type Registry struct {
	logger *slog.Logger

	manifestFile string
	manifestDirs []string

	mu      sync.Mutex
	servers map[string]ServerConfig
	clients map[string]*Client
}

func NewRegistry(manifestFile string, manifestDirs []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:       logger,
		manifestFile: manifestFile,
		manifestDirs: manifestDirs,
		servers:      make(map[string]ServerConfig),
		clients:      make(map[string]*Client),
	}
}

// Refresh reloads manifests. Existing clients keep running even if their
// server disappears from the manifests; new entries become available for
// lazy spawn.
func (r *Registry) Refresh() []ServerConfig {
	configs := LoadManifests(r.manifestFile, r.manifestDirs, r.logger)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range configs {
		r.servers[cfg.ID] = cfg
	}
	out := make([]ServerConfig, 0, len(configs))
	out = append(out, configs...)
	return out
}

// Servers lists the known server configs.
func (r *Registry) Servers() []ServerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerConfig, 0, len(r.servers))
	for _, cfg := range r.servers {
		out = append(out, cfg)
	}
	return out
}

// Client returns the live client for a server, spawning it on first use.
func (r *Registry) Client(ctx context.Context, serverID string) (*Client, error) {
	r.mu.Lock()
	if client, ok := r.clients[serverID]; ok && !client.Closed() {
		r.mu.Unlock()
		return client, nil
	}
	cfg, ok := r.servers[serverID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("mcp: unknown server %q", serverID)
	}
	client := NewClient(cfg, r.logger)
	r.clients[serverID] = client
	r.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.clients, serverID)
		r.mu.Unlock()
		return nil, err
	}
	return client, nil
}

// Call issues a JSON-RPC request to the named server, spawning its
// client if needed.
func (r *Registry) Call(ctx context.Context, serverID, method string, params any) (json.RawMessage, error) {
	client, err := r.Client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return client.Request(ctx, method, params)
}

// ListRemoteTools calls tools/list on the named server.
func (r *Registry) ListRemoteTools(ctx context.Context, serverID string) ([]RemoteTool, error) {
	result, err := r.Call(ctx, serverID, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []RemoteTool `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		// Some servers reply with a bare array.
		var tools []RemoteTool
		if err2 := json.Unmarshal(result, &tools); err2 != nil {
			return nil, fmt.Errorf("mcp: parse tools/list from %s: %w", serverID, err)
		}
		return tools, nil
	}
	return parsed.Tools, nil
}

// CallTool invokes tools/call on the named server with the full argument
// mapping as params.
func (r *Registry) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (json.RawMessage, error) {
	return r.Call(ctx, serverID, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
}

// CloseAll tears down every live client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// ProxyToolName builds the local registry name for a remote tool:
// mcp_<server>_<tool> with non-alphanumerics mapped to underscores and
// runs collapsed.
func ProxyToolName(serverID, toolName string) string {
	return "mcp_" + sanitizePart(serverID) + "_" + sanitizePart(toolName)
}

func sanitizePart(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
