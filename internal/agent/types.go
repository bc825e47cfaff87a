// Package agent holds the tool registry and the orchestrator step loop
// behind /v1/messages.
package agent

import (
	"context"
	"net/http"

	"github.com/modelrelay/relay/internal/sessions"
)

// Termination reasons reported to the client.
const (
	TerminationCompletion    = "completion"
	TerminationCacheHit      = "cache_hit"
	TerminationStepLimit     = "step_limit"
	TerminationToolLimit     = "tool_limit_reached"
	TerminationDurationLimit = "duration_limit"
	TerminationProviderError = "provider_error"
)

// ToolCall is one model-emitted tool invocation within a request.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
	// Raw keeps the upstream object for logging and transcripts.
	Raw map[string]any
}

// ToolResult is the normalized outcome of executing a ToolCall.
type ToolResult struct {
	OK       bool           `json:"ok"`
	Status   int            `json:"status"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolContext carries per-request state into handlers.
type ToolContext struct {
	SessionID string
	Session   *sessions.Session
}

// Handler executes one tool call. A returned string becomes a 200 "ok"
// result; a *ToolResult passes through; any other value is JSON-encoded
// into the content. Errors and panics become 500 results, never aborts.
type Handler func(ctx context.Context, call *ToolCall, tc *ToolContext) (any, error)

// ToolSpec registers a handler under a canonical name.
type ToolSpec struct {
	Name        string
	Description string
	Category    string
	// Sandboxed marks tools whose execution goes through the sandbox
	// runtime, which subjects them to sandbox permission policy.
	Sandboxed bool
	Handler   Handler
}

// ProviderResponse is the upstream reply, kept raw so non-2xx bodies can
// be surfaced to the client verbatim.
type ProviderResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Provider adapts one upstream model endpoint.
type Provider interface {
	Name() string
	// Invoke posts the request body and returns the raw reply. The error
	// is non-nil only for transport failures; HTTP-level errors come
	// back as a ProviderResponse with a non-2xx status.
	Invoke(ctx context.Context, body map[string]any) (*ProviderResponse, error)
}
