package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"gemini-relay/internal/adapter"
	"gemini-relay/internal/config"
)

func TestRedactURLErrorDropsQueryKey(t *testing.T) {
	err := &url.Error{
		Op:  "Post",
		URL: "https://example.com/x:generate?key=AIzaSecret",
		Err: errors.New("connection refused"),
	}
	got := redactURLError(err)
	assert.Equal(t, "Post upstream: connection refused", got)
	assert.NotContains(t, got, "AIzaSecret")

	assert.Equal(t, "plain", redactURLError(errors.New("plain")))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", requestIDFromContext(ctx))
	assert.Empty(t, requestIDFromContext(context.Background()))
}

func TestExtractPrompt(t *testing.T) {
	s := NewService(
		&config.Config{PromptFields: []string{"prompt", "text", "message"}},
		adapter.NewGenerativeLanguageAdapter(),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	cases := []struct {
		body   string
		want   string
		wantOK bool
	}{
		{`{"prompt":"a"}`, "a", true},
		{`{"prompt":"","text":"b"}`, "b", true},
		{`{"prompt":1,"message":"c"}`, "c", true},
		{`{"prompt":"  spaced  "}`, "  spaced  ", true},
		{`{"other":"x"}`, "", false},
		{`{"prompt":"a"`, "", false},
		{`"prompt"`, "", false},
	}
	for _, tc := range cases {
		got, ok := s.extractPrompt([]byte(tc.body))
		assert.Equal(t, tc.wantOK, ok, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}
}
