// Package mcp implements a Model Context Protocol host: manifest
// discovery, a JSON-RPC 2.0 client over subprocess stdio, and a registry
// that proxies remote tools into the agent's tool registry.
package mcp

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version spoken.
const JSONRPCVersion = "2.0"

// Request is an outbound JSON-RPC call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an inbound JSON-RPC reply correlated by id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an inbound message without an id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ServerConfig is a declarative manifest entry for one MCP server.
type ServerConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Transport   string            `json:"transport,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Validate reports whether the entry can back a client.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("mcp: server entry missing id")
	}
	if c.Command == "" {
		return fmt.Errorf("mcp: server %s missing command", c.ID)
	}
	if c.Transport != "" && c.Transport != "stdio" {
		return fmt.Errorf("mcp: server %s: unsupported transport %q", c.ID, c.Transport)
	}
	return nil
}

// RemoteTool is one entry from a server's tools/list reply.
type RemoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}
