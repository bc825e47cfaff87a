package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// defaultAliases translate common client synonyms to canonical names.
var defaultAliases = map[string]string{
	"bash":       "shell",
	"sh":         "shell",
	"grep":       "workspace_search",
	"read_file":  "fs_read",
	"file_read":  "fs_read",
	"write_file": "fs_write",
	"file_write": "fs_write",
	"search":     "web_search",
	"fetch":      "web_fetch",
	"python":     "python_exec",
}

// Registry holds named tool handlers. Resolution order for an incoming
// name: exact match, lowercase shadow, alias table.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolSpec // canonical, case-sensitive
	lower   map[string]string    // lowercase -> canonical
	aliases map[string]string
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	aliases := make(map[string]string, len(defaultAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	return &Registry{
		tools:   make(map[string]*ToolSpec),
		lower:   make(map[string]string),
		aliases: aliases,
		logger:  logger,
	}
}

// Register adds a tool. Re-registering a name replaces the handler.
func (r *Registry) Register(spec *ToolSpec) error {
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("agent: tool spec missing name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("agent: tool %s missing handler", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = spec
	r.lower[strings.ToLower(spec.Name)] = spec.Name
	return nil
}

// Alias maps a synonym (case-folded) to a canonical name.
func (r *Registry) Alias(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(from)] = to
}

// Resolve returns the canonical spec for a client-supplied name.
func (r *Registry) Resolve(name string) (*ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec, ok := r.tools[name]; ok {
		return spec, true
	}
	if canonical, ok := r.lower[strings.ToLower(name)]; ok {
		return r.tools[canonical], true
	}
	if canonical, ok := r.aliases[strings.ToLower(name)]; ok {
		if spec, ok := r.tools[canonical]; ok {
			return spec, true
		}
	}
	return nil, false
}

// Names lists registered canonical names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NormalizeCall builds a ToolCall from an upstream tool-call object.
// Arguments may be a JSON string or a structured object; invalid JSON
// yields an empty mapping with a warning. A call id is assigned when the
// upstream provided none.
func (r *Registry) NormalizeCall(id, name string, rawArgs any, raw map[string]any) *ToolCall {
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := map[string]any{}
	switch v := rawArgs.(type) {
	case nil:
	case map[string]any:
		args = v
	case string:
		if v != "" {
			if err := json.Unmarshal([]byte(v), &args); err != nil {
				r.logger.Warn("tool arguments are not valid JSON, using empty mapping",
					"tool", name, "error", err)
				args = map[string]any{}
			}
		}
	case json.RawMessage:
		if len(v) > 0 {
			if err := json.Unmarshal(v, &args); err != nil {
				r.logger.Warn("tool arguments are not valid JSON, using empty mapping",
					"tool", name, "error", err)
				args = map[string]any{}
			}
		}
	default:
		r.logger.Warn("unsupported tool argument shape, using empty mapping",
			"tool", name, "type", fmt.Sprintf("%T", rawArgs))
	}
	return &ToolCall{ID: id, Name: name, Args: args, Raw: raw}
}

// Execute resolves and runs the call, coercing the outcome into a
// ToolResult. Unregistered tools yield 404; handler errors and panics
// yield 500 with kind tool_execution_failed. Execute never returns an
// error to the loop.
func (r *Registry) Execute(ctx context.Context, call *ToolCall, tc *ToolContext) *ToolResult {
	spec, ok := r.Resolve(call.Name)
	if !ok {
		return &ToolResult{
			OK:      false,
			Status:  404,
			Content: fmt.Sprintf(`{"error":"tool_not_found","tool":%q}`, call.Name),
		}
	}

	result, err := r.invoke(ctx, spec, call, tc)
	if err != nil {
		return executionFailure(spec.Name, err)
	}
	return result
}

func (r *Registry) invoke(ctx context.Context, spec *ToolSpec, call *ToolCall, tc *ToolContext) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", spec.Name, "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	out, err := spec.Handler(ctx, call, tc)
	if err != nil {
		return nil, err
	}
	return coerceResult(out), nil
}

func coerceResult(out any) *ToolResult {
	switch v := out.(type) {
	case *ToolResult:
		if v == nil {
			return &ToolResult{OK: true, Status: 200}
		}
		if v.Status == 0 {
			v.Status = 200
		}
		return v
	case ToolResult:
		if v.Status == 0 {
			v.Status = 200
		}
		return &v
	case string:
		return &ToolResult{OK: true, Status: 200, Content: v}
	case nil:
		return &ToolResult{OK: true, Status: 200}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return &ToolResult{OK: true, Status: 200, Content: fmt.Sprint(v)}
		}
		return &ToolResult{OK: true, Status: 200, Content: string(raw)}
	}
}

func executionFailure(tool string, err error) *ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"error":   "tool_execution_failed",
		"tool":    tool,
		"message": err.Error(),
	})
	return &ToolResult{OK: false, Status: 500, Content: string(payload)}
}

// DenialResult renders a policy denial as a tool result.
func DenialResult(code, reason string, status int) *ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"error":  code,
		"reason": reason,
	})
	if status == 0 {
		status = 403
	}
	return &ToolResult{OK: false, Status: status, Content: string(payload)}
}
