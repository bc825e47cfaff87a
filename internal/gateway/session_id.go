package gateway

import (
	"net/http"

	"github.com/google/uuid"
)

// sessionHeaders are consulted in order before body fields.
var sessionHeaders = []string{
	"x-session-id",
	"x-claude-session-id",
	"x-claude-session",
	"x-claude-conversation-id",
	"anthropic-session-id",
}

// sessionBodyFields are consulted in order after the headers.
var sessionBodyFields = []string{
	"session_id",
	"sessionId",
	"conversation_id",
}

// resolveSessionID finds the client's session id in headers then body
// fields, generating a fresh UUID when none is supplied. The second
// return reports whether the id was generated.
func resolveSessionID(header http.Header, body map[string]any) (string, bool) {
	for _, name := range sessionHeaders {
		if v := header.Get(name); v != "" {
			return v, false
		}
	}
	for _, field := range sessionBodyFields {
		if v, ok := body[field].(string); ok && v != "" {
			return v, false
		}
	}
	return uuid.NewString(), true
}
