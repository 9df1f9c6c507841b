package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"gemini-relay/internal/adapter"
	"gemini-relay/internal/config"
	"gemini-relay/internal/credential"
	apierrors "gemini-relay/internal/errors"
)

const maxRequestBody = 1 << 20

type requestIDKey struct{}

type Service struct {
	cfg      *config.Config
	adapter  adapter.Adapter
	detector *credential.Detector
	client   *http.Client
	logger   *slog.Logger
}

func NewService(cfg *config.Config, ad adapter.Adapter, detector *credential.Detector, logger *slog.Logger) *Service {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	client := &http.Client{Transport: transport}

	if detector == nil {
		detector = credential.DefaultDetector()
	}
	return &Service{
		cfg:      cfg,
		adapter:  ad,
		detector: detector,
		client:   client,
		logger:   logger,
	}
}

type generateResponse struct {
	Reply   string          `json:"reply"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	RawText *string         `json:"rawText,omitempty"`
}

// HandleGenerate relays one prompt to the upstream model and answers with
// the normalized reply.
func (s *Service) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	requestID := requestIDFromContext(r.Context())
	logger := s.logger.With("request_id", requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.Write(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		apierrors.Write(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	prompt, ok := s.extractPrompt(body)
	if !ok {
		apierrors.Write(w, http.StatusBadRequest, "Missing prompt")
		return
	}

	if err := s.detector.Guard(s.cfg.APIKey, s.cfg.Model); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, credential.ErrMissingKey) {
			status = http.StatusInternalServerError
		}
		logger.Warn("relay misconfigured", "error", err)
		apierrors.Write(w, status, credential.Guidance(err))
		return
	}

	endpoint := s.cfg.ResolvedEndpoint()
	shape := adapter.SelectShape(endpoint)
	if s.cfg.ShapeOverrideAllowed() && gjson.GetBytes(body, "useGenerateContent").Type == gjson.True {
		shape = adapter.ShapeStructured
	}
	auth := adapter.ResolveAuth(s.cfg.APIKey, s.cfg.KeyInQuery(), credential.IsNativeKey)

	upstreamURL, err := s.adapter.BuildUpstreamURL(endpoint, auth)
	if err != nil {
		logger.Error("failed to build upstream URL", "error", err, "endpoint", endpoint)
		apierrors.Write(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	upstreamBody, err := s.adapter.BuildRequestBody(shape, prompt)
	if err != nil {
		logger.Error("failed to build upstream body", "error", err)
		apierrors.Write(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if s.cfg.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
		defer cancel()
	}

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(upstreamBody))
	if err != nil {
		logger.Error("failed to build upstream request", "error", err)
		apierrors.Write(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	s.adapter.ApplyAuthHeaders(upReq.Header, auth)

	logger.Info("calling upstream", "endpoint", endpoint, "shape", shape.String(), "key", credential.Redact(s.cfg.APIKey))

	resp, err := s.client.Do(upReq)
	if err != nil {
		s.handleUpstreamFailure(w, logger, endpoint, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.handleUpstreamFailure(w, logger, endpoint, fmt.Errorf("read upstream response: %w", err))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.writeUpstreamError(w, logger, endpoint, resp.Status, resp.StatusCode, respBody)
		return
	}

	reply := s.adapter.NormalizeReply(respBody)
	out := generateResponse{Reply: reply.Text}
	if reply.Parsed() {
		out.Raw = json.RawMessage(reply.JSON)
	} else {
		if len(respBody) > 0 {
			logger.Warn("upstream JSON parse failed", "endpoint", endpoint, "body", apierrors.Preview(string(respBody), 200))
		}
		out.RawText = &reply.RawText
	}

	logger.Debug("upstream reply normalized", "source", string(reply.Source), "status", resp.StatusCode)
	writeJSON(w, http.StatusOK, out, logger)
}

// extractPrompt returns the first configured field holding a non-empty
// string. Bodies that are not a JSON object carry no prompt.
func (s *Service) extractPrompt(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return "", false
	}
	for _, field := range s.cfg.PromptFields {
		v := doc.Get(field)
		if v.Type == gjson.String && v.Str != "" {
			return v.Str, true
		}
	}
	return "", false
}

func (s *Service) writeUpstreamError(w http.ResponseWriter, logger *slog.Logger, endpoint, status string, statusCode int, body []byte) {
	preview := apierrors.Preview(string(body), apierrors.PreviewLimit)
	logger.Error("upstream returned error", "endpoint", endpoint, "status", statusCode, "body", preview)

	env := apierrors.Envelope{Error: "Upstream returned " + status}
	if s.cfg.Variant == config.VariantLocal {
		env.BodyPreview = preview
	} else {
		env.Body = preview
	}
	apierrors.WriteEnvelope(w, s.cfg.UpstreamErrorStatus, env)
}

func (s *Service) handleUpstreamFailure(w http.ResponseWriter, logger *slog.Logger, endpoint string, err error) {
	message := redactURLError(err)
	logger.Error("upstream request failed", "error", message, "endpoint", endpoint)

	if errors.Is(err, context.DeadlineExceeded) {
		apierrors.Write(w, http.StatusInternalServerError, "upstream timeout: "+message)
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		apierrors.Write(w, http.StatusInternalServerError, "upstream timeout: "+message)
		return
	}

	apierrors.Write(w, http.StatusInternalServerError, message)
}

// redactURLError drops the request URL, which may carry the key as a query
// parameter, from client errors.
func redactURLError(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + " upstream: " + urlErr.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		apierrors.Write(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	apierrors.Write(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}
