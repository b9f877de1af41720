package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RedactionMark replaces every masked value.
const RedactionMark = "[redacted]"

// SecretScanner masks sensitive values in customer text before it is stored
// or sent to a model.
type SecretScanner interface {
	// Scan returns the redacted text and whether anything was masked.
	Scan(ctx context.Context, text string) (redactedText string, hadRedactions bool, err error)
}

// PatternScanner masks payment card numbers, card security codes,
// passwords and API credentials.
type PatternScanner struct {
	cards    *regexp.Regexp
	patterns []*regexp.Regexp
	timeout  time.Duration
}

// NewPatternScanner creates a scanner with the default patterns.
func NewPatternScanner(timeoutMs int) *PatternScanner {
	return &PatternScanner{
		cards:    regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		patterns: compileDefaultPatterns(),
		timeout:  time.Duration(timeoutMs) * time.Millisecond,
	}
}

func compileDefaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Card security codes
		`(?i)\b(?:cvv|cvc|cvv2|security code)\s*(?:is|:|=)?\s*\d{3,4}\b`,

		// Passwords and PINs given inline
		`(?i)\b(?:password|passcode|pin)\s*(?:is|:|=)\s*\S+`,

		// Provider API keys
		`sk-ant-[A-Za-z0-9_-]{20,}`,
		`sk-(?:proj-)?[A-Za-z0-9_-]{32,}`,
		`AKIA[0-9A-Z]{16}`,

		// Generic credentials
		`(?i)api[_-]?key\s*[:=]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`,
		`Bearer\s+[A-Za-z0-9._-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}

// Scan masks every match. Digit runs are only masked when they pass the
// Luhn check, so phone numbers and booking references survive.
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("scan canceled: %w", err)
	}

	hadRedactions := false
	redacted := s.cards.ReplaceAllStringFunc(text, func(m string) string {
		if !luhn(m) {
			return m
		}
		hadRedactions = true
		return RedactionMark
	})

	for _, pattern := range s.patterns {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("scan canceled: %w", err)
		}
		if pattern.MatchString(redacted) {
			hadRedactions = true
			redacted = pattern.ReplaceAllString(redacted, RedactionMark)
		}
	}
	return redacted, hadRedactions, nil
}

// luhn validates a card number, ignoring spaces and dashes.
func luhn(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// RedactSecrets applies scanner and fails open: on a scanner error the
// original text is returned with the error.
func RedactSecrets(ctx context.Context, scanner SecretScanner, text string) (string, bool, error) {
	redacted, hadRedactions, err := scanner.Scan(ctx, text)
	if err != nil {
		return text, false, fmt.Errorf("secret scanner error: %w", err)
	}
	return redacted, hadRedactions, nil
}
