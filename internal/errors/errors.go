package apierrors

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	PreviewLimit     = 2000
	TruncationMarker = "... (truncated)"
)

// Envelope is the JSON body of every failed relay response. At most one of
// Body and BodyPreview is set, depending on deployment variant.
type Envelope struct {
	Error       string `json:"error"`
	Body        string `json:"body,omitempty"`
	BodyPreview string `json:"bodyPreview,omitempty"`
}

func Marshal(env Envelope) []byte {
	if strings.TrimSpace(env.Error) == "" {
		env.Error = "request failed"
	}
	body, err := json.Marshal(env)
	if err != nil {
		return []byte(`{"error":"failed to marshal error"}`)
	}
	return body
}

func Write(w http.ResponseWriter, statusCode int, message string) {
	WriteEnvelope(w, statusCode, Envelope{Error: message})
}

func WriteEnvelope(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(Marshal(env))
}

// Preview returns body unchanged when it fits in limit characters, otherwise
// its first limit characters followed by TruncationMarker.
func Preview(body string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return body
	}
	n := 0
	for i := range body {
		if n == limit {
			return body[:i] + TruncationMarker
		}
		n++
	}
	return body
}
