// Package redact strips tokens, base64 blobs, and other credential-shaped
// substrings from strings and arbitrary JSON-like containers before they
// cross a trust boundary (logs, tool result envelopes).
package redact

import (
	"regexp"
	"strings"
)

const (
	// ReplacementToken stands in for any matched secret.
	ReplacementToken = "<REDACTED_TOKEN>"
	// floorTruncateChars is the minimum truncation length honored by
	// Truncate even when a caller asks for something smaller.
	floorTruncateChars = 200
	// maxDepth bounds recursive traversal of nested containers so a
	// cyclic-looking structure cannot cause unbounded recursion.
	maxDepth = 20
)

// patterns matches credential-shaped substrings. Order matters: more
// specific patterns (GitHub PAT prefixes) are tried before generic ones.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bgho_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghu_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghs_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bghr_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),
	regexp.MustCompile(`(?i)x-access-token:[^@\s]+@github\.com`),
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]{10,}\b`),
	regexp.MustCompile(`(?i)\bBasic\s+[A-Za-z0-9+/=]{10,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), // JWT-ish
	regexp.MustCompile(`\brnd_[A-Za-z0-9]{20,}\b`),                             // Render token
	regexp.MustCompile(`(?i)://[^/\s:@]+:[^/\s@]+@`),                          // userinfo in URL
}

// secretKeys marks property names whose values are always redacted
// regardless of content.
var secretKeys = map[string]struct{}{
	"token": {}, "authorization": {}, "password": {}, "secret": {},
	"access_token": {}, "refresh_token": {}, "private_key": {}, "api_key": {},
	"apikey": {}, "client_secret": {}, "github_token": {}, "github_pat": {},
	"render_api_key": {},
}

func isSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// String scrubs every known credential pattern from s, replacing each
// match with ReplacementToken. High-entropy strings that match no known
// pattern are left untouched rather than blindly redacted.
func String(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, ReplacementToken)
	}
	return s
}

// Truncate caps s to max chars, never below floorTruncateChars, appending
// a marker when truncation occurred.
func Truncate(s string, max int) string {
	if max < floorTruncateChars {
		max = floorTruncateChars
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Value recursively redacts a decoded JSON-like value (the shapes
// encoding/json produces: map[string]any, []any, string, and scalars).
// Maps redact by key first (secret-bearing keys become ReplacementToken
// outright), then scrub any remaining string values/elements for embedded
// patterns. Sets (the named slice type Set) preserve their type.
func Value(v any) any {
	return valueAt(v, 0)
}

func valueAt(v any, depth int) any {
	if depth > maxDepth {
		return "<REDACTED_DEPTH_LIMIT>"
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSecretKey(k) {
				out[k] = ReplacementToken
				continue
			}
			out[k] = valueAt(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = valueAt(val, depth+1)
		}
		return out
	case Set:
		out := make(Set, 0, len(t))
		for _, val := range t {
			out = append(out, valueAt(val, depth+1))
		}
		return out
	case string:
		return String(t)
	default:
		return v
	}
}

// Set is a minimal set-like container (order not significant) used so
// Value can demonstrate set-preserving traversal the way the reference
// sanitizer does for Python sets.
type Set []any

// HeaderValue redacts an Authorization header value outright: the whole
// value, scheme included, is replaced with ReplacementToken. Other headers
// get pattern-based redaction.
func HeaderValue(name, value string) string {
	if strings.EqualFold(name, "authorization") {
		return ReplacementToken
	}
	return String(value)
}
