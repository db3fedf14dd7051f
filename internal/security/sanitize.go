package security

import (
	"strings"
	"unicode"
)

// Sanitizer cleans inbound message text before it reaches any downstream
// component. Sanitization is pure and never fails; an empty string is a
// valid output for all-control-character input.
type Sanitizer struct {
	maxLen int
	suffix string
}

// NewSanitizer creates a sanitizer capping messages at maxLen runes, with
// suffix appended when text is dropped.
func NewSanitizer(maxLen int, suffix string) *Sanitizer {
	if maxLen <= 0 {
		maxLen = 2000
	}
	return &Sanitizer{maxLen: maxLen, suffix: suffix}
}

// CleanMessage strips control characters (newlines and tabs survive),
// trims surrounding whitespace, and caps the result at the configured
// maximum length.
func (s *Sanitizer) CleanMessage(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return Truncate(strings.TrimSpace(b.String()), s.maxLen, s.suffix)
}

// CleanPhoneNumber keeps only characters meaningful in a phone number.
// The result is the partition identity for all per-user state.
func CleanPhoneNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' || r == '+' || r == '-' || r == '(' || r == ')' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Truncate caps s at max runes, replacing the tail with suffix when text
// is dropped.
func Truncate(s string, max int, suffix string) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	keep := max - len([]rune(suffix))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + suffix
}
