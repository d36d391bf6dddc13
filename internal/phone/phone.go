// Package phone turns free-text input into canonical phone identifiers.
//
// Only Brazilian numbers are accepted: digits already carrying the 55 calling
// code pass through, ten or eleven digit local numbers (area code plus
// subscriber) get the prefix prepended, and anything else is rejected. Numbers
// from other countries are rejected rather than guessed at.
package phone

import (
	"strings"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

const (
	// CallingCode is the country prefix every canonical identifier carries.
	CallingCode = "55"
	// MinLength and MaxLength bound the canonical identifier length.
	MinLength = 12
	MaxLength = 13

	minLocalLength = 10
	maxLocalLength = 11
)

// Normalize strips every non-digit from raw and returns the canonical form.
// The boolean is false when raw cannot be turned into a valid identifier.
func Normalize(raw string) (verify.Identifier, bool) {
	digits := onlyDigits(raw)
	if digits == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(digits, CallingCode):
	case len(digits) >= minLocalLength && len(digits) <= maxLocalLength:
		digits = CallingCode + digits
	default:
		return "", false
	}
	if len(digits) < MinLength || len(digits) > MaxLength {
		return "", false
	}
	return verify.Identifier(digits), true
}

// ParseList splits text into lines, normalizes each non-empty line and
// returns the distinct identifiers in first-seen order. Rejected lines are
// dropped silently.
func ParseList(text string) []verify.Identifier {
	seen := make(map[verify.Identifier]struct{})
	queue := make([]verify.Identifier, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		id, ok := Normalize(line)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, id)
	}
	return queue
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
