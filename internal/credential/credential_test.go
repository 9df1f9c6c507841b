package credential_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-relay/internal/config"
	"gemini-relay/internal/credential"
)

func TestLooksLikeAPIKey(t *testing.T) {
	d := credential.DefaultDetector()

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"native key", "AIzaSyExampleLooksLikeAKey1234567890", true},
		{"short native prefix", "AIzaShort", false},
		{"model name", "gemini-mini", false},
		{"versioned model", "gemini-1.5-flash-latest", false},
		{"long opaque token", "sk-abcdefghijklmnopqrstuvwxyz0123456789", true},
		{"long with spaces", "this is a long sentence that is not a key at all", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, d.LooksLikeAPIKey(tc.in))
		})
	}
}

func TestDetectorOverrides(t *testing.T) {
	disabled, err := credential.NewDetector(config.CredentialCheck{Disabled: true})
	require.NoError(t, err)
	assert.False(t, disabled.LooksLikeAPIKey("AIzaSyExampleLooksLikeAKey1234567890"))

	longMin := 200
	custom, err := credential.NewDetector(config.CredentialCheck{PrefixPattern: `^key-[0-9]{4}$`, MinLength: &longMin})
	require.NoError(t, err)
	assert.True(t, custom.LooksLikeAPIKey("key-1234"))
	assert.False(t, custom.LooksLikeAPIKey("sk-abcdefghijklmnopqrstuvwxyz0123456789"))

	_, err = credential.NewDetector(config.CredentialCheck{PrefixPattern: "(["})
	require.Error(t, err)
}

func TestDetectorZeroMinLengthIsHonoured(t *testing.T) {
	zero := 0
	d, err := credential.NewDetector(config.CredentialCheck{MinLength: &zero})
	require.NoError(t, err)
	// 20-character run, well under the default 30-character length floor
	assert.True(t, d.LooksLikeAPIKey("abcdefghijklmnopqrst"))
	assert.False(t, credential.DefaultDetector().LooksLikeAPIKey("abcdefghijklmnopqrst"))

	unset, err := credential.NewDetector(config.CredentialCheck{})
	require.NoError(t, err)
	assert.False(t, unset.LooksLikeAPIKey("abcdefghijklmnopqrst"))
}

func TestGuardOrder(t *testing.T) {
	d := credential.DefaultDetector()

	assert.ErrorIs(t, d.Guard("", "AIzaSyExampleLooksLikeAKey1234567890"), credential.ErrMisplacedKey)
	assert.ErrorIs(t, d.Guard("   ", "AIzaSyExampleLooksLikeAKey1234567890"), credential.ErrMisplacedKey)
	assert.ErrorIs(t, d.Guard("", "gemini-mini"), credential.ErrMissingKey)
	assert.ErrorIs(t, d.Guard(config.PlaceholderAPIKey, "gemini-mini"), credential.ErrPlaceholderKey)
	assert.NoError(t, d.Guard("real-key", "AIzaSyExampleLooksLikeAKey1234567890"))
}

func TestGuidanceNamesTheFix(t *testing.T) {
	assert.Contains(t, credential.Guidance(credential.ErrMisplacedKey), "GEN_MODEL")
	assert.Contains(t, credential.Guidance(credential.ErrMissingKey), "GEN_API_KEY not set")
	assert.Contains(t, credential.Guidance(credential.ErrPlaceholderKey), "placeholder")
	assert.Empty(t, credential.Guidance(nil))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "AIza****", credential.Redact("AIzaSyExample"))
	assert.Equal(t, "****", credential.Redact("abc"))
}

func TestProperty_NativeKeysAlwaysDetected(t *testing.T) {
	d := credential.DefaultDetector()
	properties := gopter.NewProperties(nil)

	keyAlphabet := gen.AlphaNumChar()
	properties.Property("AIza followed by 20+ key characters is credential-shaped", prop.ForAll(
		func(tail []rune) bool {
			return d.LooksLikeAPIKey("AIza" + string(tail))
		},
		gen.SliceOfN(24, keyAlphabet),
	))

	properties.Property("missing key with credential-shaped model is a misplaced key", prop.ForAll(
		func(tail []rune) bool {
			return d.Guard("", "AIza"+string(tail)) == credential.ErrMisplacedKey
		},
		gen.SliceOfN(24, keyAlphabet),
	))

	properties.Property("short strings are never credential-shaped by the length rule", prop.ForAll(
		func(s string) bool {
			if len(s) > config.DefaultKeyMinLength {
				s = s[:config.DefaultKeyMinLength]
			}
			if strings.HasPrefix(s, "AIza") {
				return true
			}
			return !d.LooksLikeAPIKey(s)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
