package logger

import (
	"io"
	"regexp"
)

const redactedMark = "[REDACTED]"

// Redactor masks provider credentials before log lines reach any sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the credential shapes this service handles.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI, Anthropic and OpenRouter keys share the sk- prefix.
			regexp.MustCompile(`sk-(?:ant-|or-|proj-)?[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)"?[^\s",}]+`),
			regexp.MustCompile(`(?i)(x-api-key["\s:=]+)"?[^\s",}]+`),
			regexp.MustCompile(`(?i)(secret["\s:=]+)"?[^\s",}]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match. Patterns with a leading capture group keep the
// key name and mask only the value.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		if re.NumSubexp() > 0 {
			s = re.ReplaceAllString(s, "${1}"+redactedMark)
			continue
		}
		s = re.ReplaceAllString(s, redactedMark)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; the redacted line may be shorter or longer
// and callers such as io.MultiWriter treat a different count as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
