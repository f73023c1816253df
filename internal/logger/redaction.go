package logger

import (
	"io"
	"regexp"
)

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []rule
}

type rule struct {
	re   *regexp.Regexp
	repl string
}

func redact(pattern string) rule {
	return rule{re: regexp.MustCompile(pattern), repl: "[REDACTED]"}
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []rule{
			// API keys
			redact(`sk-[a-zA-Z0-9_-]{20,}`),
			redact(`sk-ant-[a-zA-Z0-9_-]{20,}`),

			// Authorization headers, also when passed to a provider as env
			redact(`(?i)(proxy-)?authorization["\s:=]+((basic|bearer|digest|token)\s+)?[^\s",&\]]+`),

			// Bearer tokens
			redact(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Credentials embedded in URLs such as BASE_URL keep scheme and host
			{
				re:   regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@]+@`),
				repl: "${1}[REDACTED]@",
			},

			// API key assignments in provider env, URLs and headers
			redact(`(?i)(api[_-]?key|x-api-key)["\s:=]+[^\s",&]+`),

			// Passwords
			redact(`password["\s:=]+[^\s"]+`),
			redact(`pwd["\s:=]+[^\s"]+`),

			// Auth tokens
			redact(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),

			// AWS keys
			redact(`AKIA[0-9A-Z]{16}`),

			// Generic secrets
			redact(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, rule{re: re, repl: "[REDACTED]"})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, p := range r.patterns {
		result = p.re.ReplaceAllString(result, p.repl)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since redaction may change the length.
func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
