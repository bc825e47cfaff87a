package policy

import "regexp"

const (
	redactedKeyMarker    = "[REDACTED PRIVATE KEY]"
	potentialSecretMarker = "[POTENTIAL SECRET REDACTED]"
)

var (
	pemKeyRE = regexp.MustCompile(
		`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)
	base64RunRE = regexp.MustCompile(`[A-Za-z0-9+/=_-]{32,}`)
)

// SanitizeContent redacts secret-shaped material from text destined for
// the client: PEM-wrapped private keys, and long opaque base64-like runs
// (>= 32 chars) inside strings of at least 64 chars total.
func SanitizeContent(s string) string {
	s = pemKeyRE.ReplaceAllString(s, redactedKeyMarker)
	if len(s) < 64 {
		return s
	}
	return base64RunRE.ReplaceAllString(s, potentialSecretMarker)
}

// SanitizeValue walks a JSON-shaped value and sanitizes every string.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeContent(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
