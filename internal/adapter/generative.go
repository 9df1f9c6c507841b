package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const (
	candidatesTextPath = "candidates.0.content.parts.0.text"
	outputsContentPath = "outputs.0.content"
)

type textPart struct {
	Text string `json:"text"`
}

type simpleRequest struct {
	Prompt textPart `json:"prompt"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type structuredRequest struct {
	Contents []content `json:"contents"`
}

// GenerativeLanguageAdapter speaks both generations of the generativelanguage
// REST API.
type GenerativeLanguageAdapter struct{}

func NewGenerativeLanguageAdapter() *GenerativeLanguageAdapter {
	return &GenerativeLanguageAdapter{}
}

func (a *GenerativeLanguageAdapter) BuildUpstreamURL(endpoint string, auth Auth) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint is not absolute: %s", endpoint)
	}
	if auth.Mode != AuthQuery {
		return endpoint, nil
	}

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "key=" + url.QueryEscape(auth.APIKey), nil
}

func (a *GenerativeLanguageAdapter) ApplyAuthHeaders(headers http.Header, auth Auth) {
	headers.Del("Authorization")
	if auth.Mode == AuthBearer {
		headers.Set("Authorization", "Bearer "+auth.APIKey)
	}
}

func (a *GenerativeLanguageAdapter) BuildRequestBody(shape Shape, prompt string) ([]byte, error) {
	var payload any
	switch shape {
	case ShapeStructured:
		payload = structuredRequest{Contents: []content{{Parts: []textPart{{Text: prompt}}}}}
	case ShapeSimple:
		payload = simpleRequest{Prompt: textPart{Text: prompt}}
	default:
		return nil, fmt.Errorf("unknown request shape %d", shape)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", shape, err)
	}
	return body, nil
}

// NormalizeReply never fails: bodies that are empty or not JSON come back as
// their raw text.
func (a *GenerativeLanguageAdapter) NormalizeReply(body []byte) Reply {
	if !isDocument(body) {
		text := string(body)
		return Reply{Text: text, Source: SourceText, RawText: text}
	}

	compact := pretty.Ugly(body)
	doc := gjson.ParseBytes(compact)

	if r := doc.Get(candidatesTextPath); truthy(r) {
		return Reply{Text: resultText(r), Source: SourceCandidates, JSON: compact}
	}
	if r := doc.Get(outputsContentPath); truthy(r) {
		return Reply{Text: resultText(r), Source: SourceOutputs, JSON: compact}
	}
	return Reply{Text: string(compact), Source: SourceDocument, JSON: compact}
}

// isDocument reports whether body parses to a truthy JSON value. Top-level
// null, false, 0 and "" are handled as raw text.
func isDocument(body []byte) bool {
	if len(strings.TrimSpace(string(body))) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	return truthy(gjson.ParseBytes(body))
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

func resultText(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}
