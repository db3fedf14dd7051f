package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"log/slog"
	"sort"
	"strings"
)

// SignatureVerifier authenticates webhook requests against the SMS
// gateway's shared secret. The gateway signs the callback URL plus the
// request parameters (sorted by key, keys and values concatenated with no
// separators) with HMAC-SHA1 and sends the base64 digest alongside the
// request.
type SignatureVerifier struct {
	authToken []byte
	enabled   bool
}

// NewSignatureVerifier creates a verifier. The auth token is required
// whenever validation is enabled.
func NewSignatureVerifier(authToken string, enabled bool) (*SignatureVerifier, error) {
	if enabled && strings.TrimSpace(authToken) == "" {
		return nil, errors.New("security: auth token must not be empty when validation is enabled")
	}
	return &SignatureVerifier{authToken: []byte(authToken), enabled: enabled}, nil
}

// Enabled reports whether signature validation is active.
func (v *SignatureVerifier) Enabled() bool {
	return v.enabled
}

// Verify reports whether signature is the expected digest for url and
// params. Malformed input yields false, never an error; verification
// failure is data. With validation disabled every request is admitted and
// a warning is logged so the bypass stays observable.
func (v *SignatureVerifier) Verify(url string, params map[string]string, signature string) bool {
	if !v.enabled {
		slog.Warn("webhook signature validation disabled, admitting unchecked request")
		return true
	}
	if url == "" || signature == "" {
		return false
	}
	expected := v.Sign(url, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the base64 HMAC-SHA1 digest the gateway would produce for
// the given url and parameters.
func (v *SignatureVerifier) Sign(url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
