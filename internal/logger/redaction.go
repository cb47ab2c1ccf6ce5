package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const mask = "[REDACTED]"

// Redactor scrubs credential material from log output: known token shapes
// by pattern, plus literal secret values registered at runtime.
type Redactor struct {
	patterns []*regexp.Regexp

	mu       sync.RWMutex
	literals []string
}

// NewRedactor creates a redactor with the default token patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearer headers
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/-]+=*`),

			// OAuth access/refresh token fields in stray payloads
			regexp.MustCompile(`"(access_token|refresh_token|token)"\s*:\s*"[^"]+"`),

			// Common API key shapes
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

			// key=value style credentials
			regexp.MustCompile(`(password|secret|client_secret)["\s:=]+[^\s"]+`),
		},
	}
}

// AddSecret registers a literal value to scrub. Empty and trivially short
// values are ignored so the mask never eats ordinary text.
func (r *Redactor) AddSecret(value string) {
	if len(value) < 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, value)
}

// Redact scrubs s.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, mask)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, literal := range r.literals {
		s = strings.ReplaceAll(s, literal, mask)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length: zerolog treats short writes as errors.
	return len(p), nil
}
