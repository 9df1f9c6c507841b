package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const defaultProbeURL = "http://localhost:3000/api/gemini"

// runProbe posts one prompt to a running relay and prints the answer.
func runProbe(args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("gemini-relay probe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	target := fs.String("url", probeDefault(defaultProbeURL, "URL", "LOCAL_PROXY"), "relay endpoint")
	prompt := fs.String("prompt", probeDefault("Hello from local test", "TEST_PROMPT"), "prompt to send")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse probe args: %w", err)
	}
	if strings.TrimSpace(*prompt) == "" {
		return fmt.Errorf("probe requires a non-empty -prompt")
	}

	payload, err := json.Marshal(map[string]string{"prompt": *prompt})
	if err != nil {
		return fmt.Errorf("marshal probe payload: %w", err)
	}

	logger.Info("posting prompt", "url", *target)
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Post(*target, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("call relay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}
	return printProbeResult(out, resp.StatusCode, body)
}

func printProbeResult(out io.Writer, status int, body []byte) error {
	if _, err := fmt.Fprintf(out, "Status: %d\n", status); err != nil {
		return err
	}
	if gjson.ValidBytes(body) && len(bytes.TrimSpace(body)) > 0 {
		_, err := fmt.Fprintf(out, "Response JSON:\n%s", pretty.Pretty(body))
		return err
	}
	_, err := fmt.Fprintf(out, "Response Text: %s\n", body)
	return err
}

func probeDefault(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return fallback
}
