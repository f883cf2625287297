// Package sanitize normalizes caller-supplied identifiers into event
// subject tokens.
//
// Workflow IDs arrive from remediation systems and CLI flags and end up
// as one token of a NATS subject. Dots split subjects into levels, spaces
// and the * and > wildcards are not publishable, so a raw ID cannot be
// interpolated as-is.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxTokenLength caps one subject token. Subjects stay greppable and
	// well under server subject limits.
	MaxTokenLength = 64

	// HashSuffixLength is the length of the suffix added to truncated
	// tokens. Format: _<8-char-hash> = 9 characters total.
	HashSuffixLength = 9

	// DefaultToken is used when sanitization produces an empty result.
	DefaultToken = "unknown"
)

// Token sanitizes a string for use as one subject token.
//
// Rules applied:
//   - Keeps ASCII letters, digits, '-' and '_'
//   - Replaces everything else with underscores
//   - Collapses runs of underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxTokenLength with a hash suffix if too long
//   - Returns DefaultToken if the result would be empty
//
// Distinct inputs that differ only in replaced characters can collide
// ("wf.1" and "wf_1" both become "wf_1"); the raw ID travels in the event
// payload, the token is for routing.
//
// Examples:
//
//	"wf-42"        -> "wf-42"
//	"run 7.final"  -> "run_7_final"
//	"" or "..."    -> "unknown"
func Token(s string) string {
	if s == "" {
		return DefaultToken
	}

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultToken
	}

	if len(sanitized) > MaxTokenLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a token to fit within MaxTokenLength,
// appending a hash suffix so distinct long IDs keep distinct tokens.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:MaxTokenLength-HashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}
