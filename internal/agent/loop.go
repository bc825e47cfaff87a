package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelrelay/relay/internal/observability"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/promptcache"
	"github.com/modelrelay/relay/internal/sessions"
)

// Config bounds the orchestrator step loop.
type Config struct {
	MaxSteps     int
	MaxDuration  time.Duration
	CacheEnabled bool
	// WebFallback enables the browsing-refusal heuristic. Set for the
	// Databricks provider only.
	WebFallback bool
}

// Outcome is the terminal result of processing one request.
type Outcome struct {
	Status      int
	Message     map[string]any
	RawBody     []byte // set instead of Message for surfaced provider errors
	Termination string
}

// Orchestrator drives the step loop: cache probe, provider call, parse,
// transcript append, tool dispatch, repeat.
type Orchestrator struct {
	provider Provider
	registry *Registry
	policy   *policy.Engine
	cache    *promptcache.Cache
	store    sessions.Store
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
	cfg      Config

	// runTests executes a pre-commit test command when git policy
	// demands one; non-nil exit fails the gated commit.
	runTests func(ctx context.Context, command string) error
}

func NewOrchestrator(
	provider Provider,
	registry *Registry,
	policyEngine *policy.Engine,
	cache *promptcache.Cache,
	store sessions.Store,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		policy:   policyEngine,
		cache:    cache,
		store:    store,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
		cfg:      cfg,
	}
}

// SetTestRunner installs the pre-commit test hook.
func (o *Orchestrator) SetTestRunner(fn func(ctx context.Context, command string) error) {
	o.runTests = fn
}

// ProcessMessage runs the step loop for one request. Session-store
// failures are fatal; everything else degrades into tool results or a
// synthesized terminal message.
func (o *Orchestrator) ProcessMessage(ctx context.Context, body map[string]any, sess *sessions.Session) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "agent.process_message")
	defer span.End()

	logger := observability.FromContext(ctx, o.logger)

	maxSteps := o.cfg.MaxSteps
	if v, ok := numberArg(body, "max_steps"); ok && v > 0 {
		maxSteps = int(v)
	}
	var deadline time.Time
	if o.cfg.MaxDuration > 0 {
		deadline = time.Now().Add(o.cfg.MaxDuration)
	}
	if v, ok := numberArg(body, "max_duration_ms"); ok && v > 0 {
		deadline = time.Now().Add(time.Duration(v) * time.Millisecond)
	}

	// Exactly one user turn per request, regardless of step count.
	if err := o.appendUserTurn(ctx, sess.ID, body); err != nil {
		return nil, err
	}

	tc := &ToolContext{SessionID: sess.ID, Session: sess}
	toolCallsExecuted := 0

	for step := 0; step < maxSteps; step++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return o.synthesize(ctx, sess.ID, "Request duration limit reached before completion.", TerminationDurationLimit)
		}

		key := promptcache.Key(body)
		if o.cfg.CacheEnabled && o.cache != nil {
			if cached := o.cache.Get(key); cached != nil {
				o.metrics.CacheHits.Inc()
				if err := o.appendAssistantTurn(ctx, sess.ID, cached); err != nil {
					return nil, err
				}
				o.metrics.IncTermination(TerminationCacheHit)
				return &Outcome{Status: 200, Message: cached, Termination: TerminationCacheHit}, nil
			}
			o.metrics.CacheMisses.Inc()
		}

		resp, invokeErr := o.invokeProvider(ctx, body)
		if invokeErr != nil {
			logger.Error("provider transport failure", "error", invokeErr)
			o.metrics.IncTermination(TerminationProviderError)
			raw, _ := json.Marshal(map[string]any{
				"error":   "provider_unreachable",
				"message": invokeErr.Error(),
			})
			return &Outcome{Status: 502, RawBody: raw, Termination: TerminationProviderError}, nil
		}
		if resp.Status < 200 || resp.Status >= 300 {
			logger.Warn("provider returned error status", "status", resp.Status)
			o.metrics.IncTermination(TerminationProviderError)
			return &Outcome{Status: resp.Status, RawBody: resp.Body, Termination: TerminationProviderError}, nil
		}

		parsed, err := ParseResponse(o.registry, resp.Body)
		if err != nil {
			logger.Error("unparseable provider response", "error", err)
			o.metrics.IncTermination(TerminationProviderError)
			raw, _ := json.Marshal(map[string]any{
				"error":   "provider_response_unparseable",
				"message": err.Error(),
			})
			return &Outcome{Status: 502, RawBody: raw, Termination: TerminationProviderError}, nil
		}

		if err := o.appendAssistantTurn(ctx, sess.ID, parsed.Message); err != nil {
			return nil, err
		}

		if len(parsed.ToolCalls) == 0 {
			if o.cfg.WebFallback && NeedsWebFallback(parsed.Text) {
				logger.Info("web fallback triggered")
				call := o.syntheticWebFetch(body)
				result := o.dispatchOne(ctx, call, tc, &toolCallsExecuted)
				if err := o.appendToolTurn(ctx, sess.ID, call, result); err != nil {
					return nil, err
				}
				appendToolExchange(body, parsed.Message, []toolExchange{{call: call, result: result}})
				continue
			}
			// Sanitize before admission: a cache hit replays the stored
			// message verbatim, so secrets must already be redacted here.
			final := policy.SanitizeValue(parsed.Message).(map[string]any)
			if o.cfg.CacheEnabled && o.cache != nil && resp.Status == 200 {
				o.cache.Put(key, final)
			}
			o.metrics.IncTermination(TerminationCompletion)
			return &Outcome{Status: 200, Message: final, Termination: TerminationCompletion}, nil
		}

		var exchanges []toolExchange
		quotaHit := false
		for _, call := range parsed.ToolCalls {
			decision := o.policy.Evaluate(policyCall(o.registry, call), toolCallsExecuted)
			var result *ToolResult
			switch {
			case !decision.Allowed:
				result = DenialResult(decision.Code, decision.Reason, decision.Status)
				if decision.Code == policy.CodeToolLimitReached {
					quotaHit = true
				}
			case decision.RunTests != "":
				result = o.runGatedCall(ctx, decision.RunTests, call, tc, &toolCallsExecuted)
			default:
				result = o.dispatchOne(ctx, call, tc, &toolCallsExecuted)
			}
			if err := o.appendToolTurn(ctx, sess.ID, call, result); err != nil {
				return nil, err
			}
			exchanges = append(exchanges, toolExchange{call: call, result: result})
		}

		if quotaHit {
			return o.synthesize(ctx, sess.ID,
				fmt.Sprintf("Tool call limit (%d) reached for this turn.", o.policy.MaxToolCallsPerTurn()),
				TerminationToolLimit)
		}

		appendToolExchange(body, parsed.Message, exchanges)
	}

	return o.synthesize(ctx, sess.ID, "Step limit reached before the model produced a final answer.", TerminationStepLimit)
}

func (o *Orchestrator) invokeProvider(ctx context.Context, body map[string]any) (*ProviderResponse, error) {
	ctx, span := o.tracer.Start(ctx, "agent.provider_call")
	defer span.End()
	start := time.Now()
	resp, err := o.provider.Invoke(ctx, body)
	o.metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	return resp, err
}

// dispatchOne executes an allowed call and counts it as a real
// execution.
func (o *Orchestrator) dispatchOne(ctx context.Context, call *ToolCall, tc *ToolContext, executed *int) *ToolResult {
	ctx, span := o.tracer.Start(ctx, "agent.tool_execution")
	defer span.End()
	result := o.registry.Execute(ctx, call, tc)
	*executed++
	o.metrics.IncTool(call.Name, result.OK)
	return result
}

// runGatedCall runs the pre-commit test command before the gated git
// commit; a failing command converts the call into a denial.
func (o *Orchestrator) runGatedCall(ctx context.Context, testCommand string, call *ToolCall, tc *ToolContext, executed *int) *ToolResult {
	if o.runTests == nil {
		return DenialResult(policy.CodeGitTestsRequired, "pre-commit tests required but no test runner is wired", 403)
	}
	if err := o.runTests(ctx, testCommand); err != nil {
		return DenialResult(policy.CodeGitTestsRequired,
			fmt.Sprintf("pre-commit tests failed: %v", err), 403)
	}
	return o.dispatchOne(ctx, call, tc, executed)
}

func (o *Orchestrator) syntheticWebFetch(body map[string]any) *ToolCall {
	query := ""
	if messages, ok := body["messages"].([]any); ok {
		query = LastUserQuery(messages)
	}
	return o.registry.NormalizeCall("", "web_fetch", map[string]any{"query": query, "url": query}, nil)
}

func (o *Orchestrator) synthesize(ctx context.Context, sessionID, text, termination string) (*Outcome, error) {
	message := map[string]any{
		"role": "assistant",
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
		"stop_reason": termination,
	}
	if err := o.appendAssistantTurn(ctx, sessionID, message); err != nil {
		return nil, err
	}
	o.metrics.IncTermination(termination)
	return &Outcome{Status: 200, Message: message, Termination: termination}, nil
}

func (o *Orchestrator) appendUserTurn(ctx context.Context, sessionID string, body map[string]any) error {
	var content any
	if messages, ok := body["messages"].([]any); ok && len(messages) > 0 {
		content = messages[len(messages)-1]
	}
	return o.store.AppendTurn(ctx, sessionID, &sessions.Turn{
		Role:    sessions.RoleUser,
		Type:    "message",
		Content: content,
	})
}

func (o *Orchestrator) appendAssistantTurn(ctx context.Context, sessionID string, message map[string]any) error {
	return o.store.AppendTurn(ctx, sessionID, &sessions.Turn{
		Role:    sessions.RoleAssistant,
		Type:    "message",
		Content: message,
	})
}

func (o *Orchestrator) appendToolTurn(ctx context.Context, sessionID string, call *ToolCall, result *ToolResult) error {
	return o.store.AppendTurn(ctx, sessionID, &sessions.Turn{
		Role:   sessions.RoleTool,
		Type:   "tool_result",
		Status: result.Status,
		Content: map[string]any{
			"tool_use_id": call.ID,
			"tool":        call.Name,
			"ok":          result.OK,
			"content":     result.Content,
			"metadata":    result.Metadata,
		},
	})
}

type toolExchange struct {
	call   *ToolCall
	result *ToolResult
}

// appendToolExchange extends the request's message list with the
// assistant message and the tool results so the next provider call sees
// them, preserving call order and ids.
func appendToolExchange(body map[string]any, assistant map[string]any, exchanges []toolExchange) {
	messages, _ := body["messages"].([]any)
	messages = append(messages, assistant)

	blocks := make([]any, 0, len(exchanges))
	for _, ex := range exchanges {
		blocks = append(blocks, map[string]any{
			"type":        "tool_result",
			"tool_use_id": ex.call.ID,
			"content":     ex.result.Content,
			"is_error":    !ex.result.OK,
		})
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": blocks,
	})
	body["messages"] = messages
}

func policyCall(registry *Registry, call *ToolCall) policy.Call {
	name := call.Name
	sandboxed := false
	if spec, ok := registry.Resolve(call.Name); ok {
		name = spec.Name
		sandboxed = spec.Sandboxed
	}
	return policy.Call{Name: name, Args: call.Args, Sandboxed: sandboxed}
}

func numberArg(body map[string]any, key string) (float64, bool) {
	switch v := body[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
