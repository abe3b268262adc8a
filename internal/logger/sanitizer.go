package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer scrubs credentials and personal paths from messages and
// attribute values before they reach a handler. Values of sensitive keys
// are masked outright; every other string or error value goes through the
// same patterns as the message.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []SanitizeRule
}

// SanitizeRule replaces every match of Pattern with Replacement
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

func rule(pattern, replacement string) SanitizeRule {
	return SanitizeRule{Pattern: regexp.MustCompile(pattern), Replacement: replacement}
}

var builtinRules = []SanitizeRule{
	// key=value credentials in URLs and error strings
	rule(`(?i)(password|token|client_secret|api[_-]?key)=[^\s&]+`, "$1=***"),
	rule(`(?i)bearer\s+\S+`, "bearer ***"),

	// Google OAuth material
	rule(`ya29\.[0-9A-Za-z_.\-]+`, "ya29.***"),
	rule(`1//[0-9A-Za-z_\-]{20,}`, "1//***"),
	rule(`GOCSPX-[0-9A-Za-z_\-]+`, "GOCSPX-***"),

	// Home directories in token and mirror paths
	rule(`(?i)[A-Z]:\\Users\\[^\\]+`, `***:\Users\***`),
	rule(`/(home|Users)/[^/\s]+`, "/$1/***"),

	// Keep three characters of an email local part
	rule(`([a-zA-Z0-9._%+-]{1,3})[a-zA-Z0-9._%+-]*@`, "$1***@"),
}

// sensitiveKeys are matched as substrings of lower-cased attribute keys
var sensitiveKeys = []string{"password", "passwd", "token", "secret", "apikey", "api_key", "credential", "auth"}

// NewSanitizer returns a sanitizer with the built-in rules
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: append([]SanitizeRule(nil), builtinRules...)}
}

// Sanitize applies every rule to input in order
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		input = r.Pattern.ReplaceAllString(input, r.Replacement)
	}
	return input
}

// SanitizeArgs returns a scrubbed copy of slog key/value pairs
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	out := append([]any(nil), args...)
	for i := 1; i < len(out); i += 2 {
		var text string
		switch v := out[i].(type) {
		case string:
			text = v
		case error:
			text = v.Error()
		default:
			continue
		}

		if key, ok := out[i-1].(string); ok && isSensitiveKey(key) {
			out[i] = maskValue(text)
		} else if clean := s.Sanitize(text); clean != text {
			out[i] = clean
		}
	}
	return out
}

// AddRule appends a custom rule
func (s *Sanitizer) AddRule(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	s.rules = append(s.rules, SanitizeRule{Pattern: re, Replacement: replacement})
	s.mu.Unlock()
	return nil
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// maskValue keeps the first character, and the last one of values longer
// than eight characters
func maskValue(value string) string {
	switch n := len(value); {
	case n <= 2:
		return "***"
	case n <= 8:
		return value[:1] + "***"
	default:
		return value[:1] + "***" + value[n-1:]
	}
}
