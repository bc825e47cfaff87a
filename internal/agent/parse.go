package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parsed is the assistant message extracted from an upstream reply,
// normalized into the Anthropic-compatible shape the client expects.
type Parsed struct {
	// Message is the full assistant message object returned to the
	// client and appended to the transcript.
	Message map[string]any
	// Text is the concatenated assistant text, used by the web-fallback
	// heuristic.
	Text string
	// ToolCalls lists tool invocations in emission order.
	ToolCalls []*ToolCall
}

// ParseResponse extracts the assistant message from an upstream body.
// Databricks endpoints answer in the OpenAI chat shape
// (choices[0].message with optional tool_calls); Azure Anthropic answers
// in the Anthropic shape (content blocks with optional tool_use). Both
// are tolerated regardless of provider.
func ParseResponse(registry *Registry, body []byte) (*Parsed, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("agent: parse upstream response: %w", err)
	}

	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		return parseOpenAIChoice(registry, choices[0])
	}
	if _, ok := payload["content"]; ok {
		return parseAnthropicMessage(registry, payload)
	}
	return nil, fmt.Errorf("agent: upstream response has neither choices nor content")
}

func parseOpenAIChoice(registry *Registry, choice any) (*Parsed, error) {
	choiceMap, ok := choice.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("agent: malformed choice")
	}
	message, ok := choiceMap["message"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("agent: choice missing message")
	}

	text, _ := message["content"].(string)
	parsed := &Parsed{Text: text}

	var blocks []any
	if text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	if rawCalls, ok := message["tool_calls"].([]any); ok {
		for _, rawCall := range rawCalls {
			callMap, ok := rawCall.(map[string]any)
			if !ok {
				continue
			}
			id, _ := callMap["id"].(string)
			var name string
			var args any
			if fn, ok := callMap["function"].(map[string]any); ok {
				name, _ = fn["name"].(string)
				args = fn["arguments"]
			}
			if name == "" {
				continue
			}
			call := registry.NormalizeCall(id, name, args, callMap)
			parsed.ToolCalls = append(parsed.ToolCalls, call)
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    call.ID,
				"name":  call.Name,
				"input": call.Args,
			})
		}
	}

	stopReason := "end_turn"
	if len(parsed.ToolCalls) > 0 {
		stopReason = "tool_use"
	}
	parsed.Message = map[string]any{
		"role":        "assistant",
		"content":     blocks,
		"stop_reason": stopReason,
	}
	return parsed, nil
}

func parseAnthropicMessage(registry *Registry, payload map[string]any) (*Parsed, error) {
	parsed := &Parsed{}
	var texts []string

	switch content := payload["content"].(type) {
	case string:
		texts = append(texts, content)
	case []any:
		for _, rawBlock := range content {
			block, ok := rawBlock.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if s, ok := block["text"].(string); ok {
					texts = append(texts, s)
				}
			case "tool_use":
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				if name == "" {
					continue
				}
				call := registry.NormalizeCall(id, name, block["input"], block)
				parsed.ToolCalls = append(parsed.ToolCalls, call)
			}
		}
	}

	parsed.Text = strings.Join(texts, "\n")
	parsed.Message = payload
	if _, ok := payload["role"]; !ok {
		payload["role"] = "assistant"
	}
	return parsed, nil
}
