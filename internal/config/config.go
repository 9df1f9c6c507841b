package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	VariantStandard = "standard"
	VariantLocal    = "local"

	DefaultModel = "gemini-mini"

	// PlaceholderAPIKey is the value shipped in example deployments.
	PlaceholderAPIKey = "<PASTE_YOUR_API_KEY_HERE_OR_USE_PROXY>"

	DefaultKeyPattern   = `^AIza[A-Za-z0-9_-]{20,}$`
	DefaultKeyMinLength = 30

	defaultListenStandard = ":3000"
	defaultListenLocal    = ":3001"
	defaultLocalTimeout   = 20 * time.Second
)

type Config struct {
	Listen              string          `yaml:"listen"`
	Variant             string          `yaml:"variant"`
	APIKey              string          `yaml:"api_key"`
	Model               string          `yaml:"model"`
	Endpoint            string          `yaml:"endpoint"`
	UpstreamTimeout     time.Duration   `yaml:"upstream_timeout"`
	UpstreamErrorStatus int             `yaml:"upstream_error_status"`
	PromptFields        []string        `yaml:"prompt_fields"`
	NativeKeyInQuery    *bool           `yaml:"native_key_in_query"`
	AllowShapeOverride  *bool           `yaml:"allow_shape_override"`
	CORS                *bool           `yaml:"cors"`
	CredentialCheck     CredentialCheck `yaml:"credential_check"`
	Log                 Log             `yaml:"log"`
}

// CredentialCheck tunes the misplaced-key heuristic applied to the model field.
type CredentialCheck struct {
	Disabled      bool   `yaml:"disabled"`
	PrefixPattern string `yaml:"prefix_pattern"`
	MinLength     *int   `yaml:"min_length"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadDotEnv loads variables from path into the process environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional yaml file at path, overlays the GEN_* environment
// variables and validates the result. An empty path yields an
// environment-only configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(content))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("RELAY_VARIANT"); ok && strings.TrimSpace(v) != "" {
		c.Variant = v
	}
	if v, ok := lookup("GEN_API_KEY"); ok && v != "" {
		c.APIKey = v
	}
	if v, ok := lookup("GEN_MODEL"); ok && v != "" {
		c.Model = v
	}
	if v, ok := lookup("GEN_ENDPOINT"); ok && v != "" {
		c.Endpoint = v
	}
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.Listen = ":" + strings.TrimSpace(v)
	}
}

func (c *Config) applyDefaults() {
	c.Variant = strings.ToLower(strings.TrimSpace(c.Variant))
	if c.Variant == "" {
		c.Variant = VariantStandard
	}
	local := c.Variant == VariantLocal

	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = defaultListenStandard
		if local {
			c.Listen = defaultListenLocal
		}
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	c.Endpoint = strings.TrimSpace(c.Endpoint)

	if local && c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = defaultLocalTimeout
	}
	if c.UpstreamErrorStatus == 0 {
		c.UpstreamErrorStatus = 500
		if local {
			c.UpstreamErrorStatus = 502
		}
	}
	if len(c.PromptFields) == 0 {
		c.PromptFields = []string{"prompt"}
		if local {
			c.PromptFields = []string{"prompt", "text", "message"}
		}
	}
	if c.NativeKeyInQuery == nil {
		c.NativeKeyInQuery = boolPtr(local)
	}
	if c.AllowShapeOverride == nil {
		c.AllowShapeOverride = boolPtr(local)
	}
	if c.CORS == nil {
		c.CORS = boolPtr(local)
	}

	if strings.TrimSpace(c.CredentialCheck.PrefixPattern) == "" {
		c.CredentialCheck.PrefixPattern = DefaultKeyPattern
	}
	if c.CredentialCheck.MinLength == nil {
		c.CredentialCheck.MinLength = intPtr(DefaultKeyMinLength)
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}

// Validate checks the settings that cannot be fixed per request. The API key
// is deliberately left alone: its absence is reported to callers.
func (c *Config) Validate() error {
	switch c.Variant {
	case VariantStandard, VariantLocal:
	default:
		return fmt.Errorf("variant must be %s or %s, got %q", VariantStandard, VariantLocal, c.Variant)
	}

	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint is invalid: %s", c.Endpoint)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint must use http/https")
		}
	}

	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream_timeout must not be negative")
	}
	if c.UpstreamErrorStatus != 500 && c.UpstreamErrorStatus != 502 {
		return fmt.Errorf("upstream_error_status must be 500 or 502, got %d", c.UpstreamErrorStatus)
	}

	fields := make([]string, 0, len(c.PromptFields))
	for i, f := range c.PromptFields {
		f = strings.TrimSpace(f)
		if f == "" {
			return fmt.Errorf("prompt_fields[%d] is empty", i)
		}
		if strings.ContainsAny(f, `.*?|#@\`) {
			return fmt.Errorf("prompt_fields[%d] must be a plain top-level field name: %s", i, f)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return fmt.Errorf("prompt_fields is required")
	}
	c.PromptFields = fields

	if _, err := regexp.Compile(c.CredentialCheck.PrefixPattern); err != nil {
		return fmt.Errorf("credential_check.prefix_pattern: %w", err)
	}
	if c.CredentialCheck.MinLength != nil && *c.CredentialCheck.MinLength < 0 {
		return fmt.Errorf("credential_check.min_length must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}
	return nil
}

// ResolvedEndpoint returns the override when set, otherwise the templated
// generativelanguage URL for the configured model.
func (c *Config) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return "https://generativelanguage.googleapis.com/v1beta/models/" + escapeModel(c.Model) + ":generate"
}

// escapeModel encodes ':' too; the shape marker must only come from the
// operation suffix.
func escapeModel(model string) string {
	return strings.ReplaceAll(url.PathEscape(model), ":", "%3A")
}

func (c *Config) KeyInQuery() bool {
	return c.NativeKeyInQuery != nil && *c.NativeKeyInQuery
}

func (c *Config) ShapeOverrideAllowed() bool {
	return c.AllowShapeOverride != nil && *c.AllowShapeOverride
}

func (c *Config) CORSEnabled() bool {
	return c.CORS != nil && *c.CORS
}

func boolPtr(v bool) *bool {
	return &v
}

func intPtr(v int) *int {
	return &v
}
