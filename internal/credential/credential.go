package credential

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gemini-relay/internal/config"
)

var (
	ErrMisplacedKey   = errors.New("api key placed in model field")
	ErrMissingKey     = errors.New("api key not configured")
	ErrPlaceholderKey = errors.New("api key is a placeholder")
)

// Guidance returns the operator-facing fix for a Guard error.
func Guidance(err error) string {
	switch {
	case errors.Is(err, ErrMisplacedKey):
		return "Detected API key placed in GEN_MODEL. Set your API key in GEN_API_KEY and set GEN_MODEL to the model name."
	case errors.Is(err, ErrMissingKey):
		return "GEN_API_KEY not set in environment. Set GEN_API_KEY in .env or your environment."
	case errors.Is(err, ErrPlaceholderKey):
		return "GEN_API_KEY appears to be a placeholder. Replace it with your actual API key in the environment variables before deploying."
	case err != nil:
		return err.Error()
	default:
		return ""
	}
}

var keyCharRun = regexp.MustCompile(`[A-Za-z0-9_-]{20,}`)

// Detector decides whether a string looks like a provider API key.
type Detector struct {
	prefix    *regexp.Regexp
	minLength int
	disabled  bool
}

func NewDetector(check config.CredentialCheck) (*Detector, error) {
	pattern := check.PrefixPattern
	if strings.TrimSpace(pattern) == "" {
		pattern = config.DefaultKeyPattern
	}
	prefix, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile prefix pattern: %w", err)
	}
	minLength := config.DefaultKeyMinLength
	if check.MinLength != nil {
		minLength = *check.MinLength
	}
	return &Detector{prefix: prefix, minLength: minLength, disabled: check.Disabled}, nil
}

// DefaultDetector matches AIza-prefixed keys and long strings carrying a
// 20+ character run of key alphabet characters.
func DefaultDetector() *Detector {
	return &Detector{
		prefix:    regexp.MustCompile(config.DefaultKeyPattern),
		minLength: config.DefaultKeyMinLength,
	}
}

func (d *Detector) LooksLikeAPIKey(s string) bool {
	if d == nil || d.disabled {
		return false
	}
	if d.prefix.MatchString(s) {
		return true
	}
	return len(s) > d.minLength && keyCharRun.MatchString(s)
}

// Guard returns nil when apiKey is usable. Otherwise it returns one of
// ErrMisplacedKey, ErrMissingKey or ErrPlaceholderKey, checked in that order.
func (d *Detector) Guard(apiKey, model string) error {
	if strings.TrimSpace(apiKey) == "" {
		if d.LooksLikeAPIKey(model) {
			return ErrMisplacedKey
		}
		return ErrMissingKey
	}
	if apiKey == config.PlaceholderAPIKey {
		return ErrPlaceholderKey
	}
	return nil
}

// IsNativeKey reports whether key carries the provider's native key prefix.
func IsNativeKey(key string) bool {
	return strings.HasPrefix(key, "AIza")
}

// Redact keeps the first four characters of a key for log lines.
func Redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
