package agent

import (
	"testing"
)

func TestParseOpenAIShape(t *testing.T) {
	r := NewRegistry(nil)
	body := []byte(`{
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "let me check",
				"tool_calls": [{
					"id": "call_1",
					"function": {"name": "shell", "arguments": "{\"command\":\"ls\"}"}
				}]
			}
		}]
	}`)
	parsed, err := ParseResponse(r, body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.Text != "let me check" {
		t.Errorf("text = %q", parsed.Text)
	}
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(parsed.ToolCalls))
	}
	call := parsed.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "shell" || call.Args["command"] != "ls" {
		t.Errorf("call = %+v", call)
	}
	if parsed.Message["stop_reason"] != "tool_use" {
		t.Errorf("stop_reason = %v", parsed.Message["stop_reason"])
	}
}

func TestParseAnthropicShape(t *testing.T) {
	r := NewRegistry(nil)
	body := []byte(`{
		"role": "assistant",
		"content": [
			{"type": "text", "text": "checking the file"},
			{"type": "tool_use", "id": "toolu_1", "name": "fs_read", "input": {"path": "main.go"}}
		],
		"stop_reason": "tool_use"
	}`)
	parsed, err := ParseResponse(r, body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.Text != "checking the file" {
		t.Errorf("text = %q", parsed.Text)
	}
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(parsed.ToolCalls))
	}
	call := parsed.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "fs_read" || call.Args["path"] != "main.go" {
		t.Errorf("call = %+v", call)
	}
}

func TestParseNoToolCalls(t *testing.T) {
	r := NewRegistry(nil)
	body := []byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	parsed, err := ParseResponse(r, body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(parsed.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, want 0", len(parsed.ToolCalls))
	}
	if parsed.Message["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v", parsed.Message["stop_reason"])
	}
}

func TestParseMalformedBody(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := ParseResponse(r, []byte(`not json`)); err == nil {
		t.Error("malformed body accepted")
	}
	if _, err := ParseResponse(r, []byte(`{"neither": true}`)); err == nil {
		t.Error("shapeless body accepted")
	}
}

func TestNeedsWebFallback(t *testing.T) {
	triggers := []string{
		"I don't have browser access to check that.",
		"Unfortunately I cannot look up information in real time.",
		"There is no web browsing capability in this environment.",
		"I can't access the internet from here.",
		"The web_fetch tool is unavailable right now.",
	}
	for _, text := range triggers {
		if !NeedsWebFallback(text) {
			t.Errorf("%q: expected fallback", text)
		}
	}

	// Financial phrasing suppresses the heuristic.
	excluded := "I don't have browser access, but the stock closed at $12.50 with trading volume up."
	if NeedsWebFallback(excluded) {
		t.Errorf("financial exclusion did not suppress fallback")
	}

	plain := "Here is the function you asked about."
	if NeedsWebFallback(plain) {
		t.Errorf("plain answer triggered fallback")
	}
	if NeedsWebFallback("") {
		t.Errorf("empty text triggered fallback")
	}
}

func TestLastUserQuery(t *testing.T) {
	messages := []any{
		map[string]any{"role": "user", "content": "first question"},
		map[string]any{"role": "assistant", "content": "answer"},
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "text", "text": "latest question"},
		}},
	}
	if got := LastUserQuery(messages); got != "latest question" {
		t.Errorf("LastUserQuery = %q", got)
	}
	if got := LastUserQuery(nil); got != "" {
		t.Errorf("LastUserQuery(nil) = %q", got)
	}
}
