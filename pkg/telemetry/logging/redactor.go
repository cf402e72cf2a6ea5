package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks remote hosts and email addresses in log values.
type Redactor struct {
	patterns []*redactPattern
	keys     []string
}

// redactPattern contains a compiled regex and a replacement function.
type redactPattern struct {
	name    string
	regex   *regexp.Regexp
	replace func(string) string
}

// Pattern names.
const (
	PatternEmail       = "email"
	PatternIPv4        = "ipv4"
	PatternIPv6        = "ipv6"
	PatternBearerToken = "bearer_token"
)

// NewRedactor creates a Redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*redactPattern{
			{
				name:    PatternBearerToken,
				regex:   regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`),
				replace: func(string) string { return "Bearer ***" },
			},
			{
				name:    PatternEmail,
				regex:   regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
				replace: RedactEmail,
			},
			{
				name:    PatternIPv4,
				regex:   regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
				replace: RedactIPv4,
			},
			{
				name:    PatternIPv6,
				regex:   regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`),
				replace: RedactIPv6,
			},
		},
		keys: []string{"token", "authorization", "password", "secret"},
	}
}

// RedactString masks every match in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllStringFunc(value, p.replace)
	}
	return value
}

// sensitiveKey reports whether an attribute key always holds a secret.
func (r *Redactor) sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (r *Redactor) redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if r.sensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			out[i] = r.redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindLogValuer:
		return r.redactAttr(slog.Attr{Key: a.Key, Value: a.Value.Resolve()})
	default:
		return a
	}
}

// RedactEmail keeps the first character of the local part and the domain.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	if at == 0 {
		return "***" + email[at:]
	}
	return email[:1] + "***" + email[at:]
}

// RedactIPv4 keeps the first two octets.
func RedactIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return parts[0] + "." + parts[1] + ".*.*"
}

// RedactIPv6 keeps the first group.
func RedactIPv6(ip string) string {
	i := strings.IndexByte(ip, ':')
	if i < 0 {
		return ip
	}
	return ip[:i] + ":****"
}

// RedactingHandler is a slog.Handler that masks string attributes and the
// message before passing records on.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, r *Redactor) *RedactingHandler {
	if r == nil {
		r = NewRedactor()
	}
	return &RedactingHandler{next: next, redactor: r}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactor.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}
