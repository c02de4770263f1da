// Package redact masks secrets and personal data in text that leaves the
// machine, such as webhook alert payloads.
package redact

import (
	"regexp"
	"strings"
)

// Placeholders written in place of masked values.
const (
	Cred  = "[CRED]"
	Token = "[TOKEN]"
	Email = "[EMAIL]"
	User  = "[USER]"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Applied in order. Admin tokens go first so a bare token is tagged as such.
var rules = []rule{
	{regexp.MustCompile(`\bsg-[0-9a-f]{64}\b`), Token},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=\-]+`), "${1} " + Token},
	{regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api_key|apikey|auth)([ \t]*[=:][ \t]*)[^\s,;]+`), "${1}${2}" + Cred},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), Email},
	{regexp.MustCompile(`(/home/|/Users/|(?i:[a-z]:\\users\\))[^/\\\s]+`), "${1}" + User},
}

// Text returns s with credentials, tokens, email addresses and home
// directory user names masked.
func Text(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// DefaultKeys are map keys whose values are always masked by Map.
var DefaultKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "cookie", "email",
}

// Map returns a copy of data with DefaultKeys and extraKeys masked and
// every other string value passed through Text. Numbers and bools are kept.
func Map(data map[string]any, extraKeys ...string) map[string]any {
	if data == nil {
		return nil
	}
	keys := make(map[string]bool, len(DefaultKeys)+len(extraKeys))
	for _, k := range DefaultKeys {
		keys[k] = true
	}
	for _, k := range extraKeys {
		keys[strings.ToLower(k)] = true
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if keys[strings.ToLower(k)] {
			out[k] = maskValue(v)
			continue
		}
		out[k] = scrub(v)
	}
	return out
}

func maskValue(v any) any {
	switch v.(type) {
	case int, int64, float64, bool, nil:
		return v
	default:
		return Cred
	}
}

func scrub(v any) any {
	switch t := v.(type) {
	case string:
		return Text(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = Text(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = scrub(e)
		}
		return out
	case map[string]any:
		return Map(t)
	default:
		return v
	}
}
