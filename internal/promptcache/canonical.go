// Package promptcache memoizes terminal provider responses keyed by the
// semantically relevant fields of a request body.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// keyFields are the request fields that participate in the cache key, in
// the order they are serialized. Anything else (stream flags, metadata,
// client-specific noise) is ignored.
var keyFields = []string{
	"model", "input", "messages", "tools", "tool_choice",
	"temperature", "top_p", "max_tokens",
}

// Key derives the cache key for a request body: SHA-256 over a canonical
// serialization of the key fields. Object keys are sorted recursively;
// array element order is preserved, so reordering tools or messages
// yields a different key. Absent and null fields are skipped.
func Key(body map[string]any) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, field := range keyFields {
		v, ok := body[field]
		if !ok || v == nil {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeString(&b, field)
		b.WriteByte(':')
		writeCanonical(&b, v)
	}
	b.WriteByte('}')
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case string:
		writeString(b, val)
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(val.String())
	case float64:
		// Integral floats print without exponent so 1.0 and 1 collide,
		// matching how JSON round-trips them.
		if val == float64(int64(val)) {
			fmt.Fprintf(b, "%d", int64(val))
		} else {
			fmt.Fprintf(b, "%g", val)
		}
	case int:
		fmt.Fprintf(b, "%d", val)
	case int64:
		fmt.Fprintf(b, "%d", val)
	default:
		// Structs and other types fall back to encoding/json; keys inside
		// are marshaled in struct order, which is stable per type.
		raw, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(raw)
	}
}

func writeString(b *strings.Builder, s string) {
	raw, _ := json.Marshal(s)
	b.Write(raw)
}
