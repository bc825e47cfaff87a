package agent

import "regexp"

// Web-fallback heuristic: detect assistant text that declined for lack
// of browsing capability and synthesize a web_fetch instead. Used only
// on the Databricks path; Azure responses are never scanned.

var webFallbackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i (do|don't|cannot) have (browser|browsing|internet) (capability|access)`),
	regexp.MustCompile(`(?i)cannot look up information`),
	regexp.MustCompile(`(?i)no web browsing capability`),
	regexp.MustCompile(`(?i)can'?t (access|reach) the internet`),
	regexp.MustCompile(`(?i)(do not|don't) have access to .*web (?:browsing|browser|internet)`),
	regexp.MustCompile(`(?i)(do not|don't) have .*browser`),
	regexp.MustCompile(`(?i)web(fetch|_fetch| search).*(not available|disabled|unavailable)`),
	regexp.MustCompile(`(?i)tool.*(not available|disabled|unavailable)`),
	regexp.MustCompile(`(?i)don't have access to real-time`),
}

// Concrete financial phrasing suppresses the fallback: the model already
// answered with market data, it is not refusing.
var webFallbackExclusions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)closed at \$`),
	regexp.MustCompile(`(?i)previous close`),
	regexp.MustCompile(`(?i)day's range`),
	regexp.MustCompile(`(?i)trading volume`),
}

// NeedsWebFallback reports whether the assistant text triggers the
// heuristic.
func NeedsWebFallback(text string) bool {
	if text == "" {
		return false
	}
	for _, ex := range webFallbackExclusions {
		if ex.MatchString(text) {
			return false
		}
	}
	for _, re := range webFallbackPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// LastUserQuery pulls the most recent user text from the message list,
// the query the synthetic web_fetch targets.
func LastUserQuery(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []any:
			for _, rawBlock := range content {
				if block, ok := rawBlock.(map[string]any); ok && block["type"] == "text" {
					if s, ok := block["text"].(string); ok {
						return s
					}
				}
			}
		}
	}
	return ""
}
