package adapter

import (
	"net/http"
	"strings"
)

type Adapter interface {
	BuildUpstreamURL(endpoint string, auth Auth) (string, error)
	ApplyAuthHeaders(headers http.Header, auth Auth)
	BuildRequestBody(shape Shape, prompt string) ([]byte, error)
	NormalizeReply(body []byte) Reply
}

// Shape is the upstream request/response family.
type Shape int

const (
	ShapeSimple Shape = iota
	ShapeStructured
)

// GenerateContentMarker marks endpoints that speak the contents/parts API.
const GenerateContentMarker = ":generateContent"

func (s Shape) String() string {
	switch s {
	case ShapeStructured:
		return "structured"
	default:
		return "simple"
	}
}

func SelectShape(endpoint string) Shape {
	if strings.Contains(endpoint, GenerateContentMarker) {
		return ShapeStructured
	}
	return ShapeSimple
}

type AuthMode int

const (
	AuthBearer AuthMode = iota
	AuthQuery
)

type Auth struct {
	APIKey string
	Mode   AuthMode
}

// ResolveAuth sends native provider keys as a query parameter when
// keyInQuery is set; every other key goes in a bearer header.
func ResolveAuth(apiKey string, keyInQuery bool, isNative func(string) bool) Auth {
	if keyInQuery && isNative != nil && isNative(apiKey) {
		return Auth{APIKey: apiKey, Mode: AuthQuery}
	}
	return Auth{APIKey: apiKey, Mode: AuthBearer}
}

type ReplySource string

const (
	SourceCandidates ReplySource = "candidates"
	SourceOutputs    ReplySource = "outputs"
	SourceDocument   ReplySource = "document"
	SourceText       ReplySource = "text"
)

// Reply is a normalized upstream answer. JSON holds the compacted document
// when the body parsed; otherwise RawText holds the body verbatim.
type Reply struct {
	Text    string
	Source  ReplySource
	JSON    []byte
	RawText string
}

func (r Reply) Parsed() bool {
	return r.JSON != nil
}
