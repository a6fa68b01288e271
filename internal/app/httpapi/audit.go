package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atproject/projectone/internal/app/auth"
	"github.com/atproject/projectone/internal/middleware"
	"github.com/atproject/projectone/pkg/logger"
)

// AuditEntry is one served request.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user,omitempty"`
	Role       string    `json:"role,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditLog keeps the most recent entries in memory and optionally appends
// every entry to a JSON-lines sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry AuditEntry) error
	Close() error
}

// NewAuditLog keeps up to max entries. A max of zero or less keeps 200.
func NewAuditLog(max int, sink auditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

// OpenAuditLog builds an AuditLog writing to path when path is not empty.
func OpenAuditLog(max int, path string) (*AuditLog, error) {
	if path == "" {
		return NewAuditLog(max, nil), nil
	}
	sink, err := newFileAuditSink(path)
	if err != nil {
		return nil, err
	}
	return NewAuditLog(max, sink), nil
}

func (l *AuditLog) add(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		return l.sink.Write(entry)
	}
	return nil
}

// Recent returns up to limit entries, oldest first. A non-positive limit
// returns everything retained.
func (l *AuditLog) Recent(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]AuditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Close releases the sink.
func (l *AuditLog) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// fileAuditSink appends entries as JSON lines through zerolog.
type fileAuditSink struct {
	mu     sync.Mutex
	closer io.Closer
	log    zerolog.Logger
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &fileAuditSink{closer: f, log: zerolog.New(f)}, nil
}

func (s *fileAuditSink) Write(entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Log().
		Time("time", entry.Time).
		Str("user", entry.User).
		Str("role", entry.Role).
		Str("method", entry.Method).
		Str("path", entry.Path).
		Int("status", entry.Status).
		Float64("duration_ms", entry.DurationMS).
		Str("trace_id", entry.TraceID).
		Str("remote_addr", entry.RemoteAddr).
		Str("user_agent", entry.UserAgent).
		Send()
	return nil
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closer.Close()
}

type auditPrincipalKey struct{}

// auditMiddleware records every request that reaches it. It must sit inside
// the tracing middleware, whose writer carries the response status, and
// outside authentication, so the principal is handed back through a slot in
// the context filled by capturePrincipal.
func auditMiddleware(l *AuditLog, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slot := &auth.Principal{}
			ctx := context.WithValue(r.Context(), auditPrincipalKey{}, slot)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			entry := AuditEntry{
				Time:       start.UTC(),
				User:       slot.Subject,
				Role:       slot.Role,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     middleware.Status(w),
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
				TraceID:    logger.TraceID(r.Context()),
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			}
			if err := l.add(entry); err != nil {
				log.WithContext(r.Context()).WithError(err).Warn("audit sink write failed")
			}
		})
	}
}

// capturePrincipal copies the authenticated principal into the audit slot.
func capturePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slot, ok := r.Context().Value(auditPrincipalKey{}).(*auth.Principal); ok {
			if p, ok := auth.PrincipalFrom(r.Context()); ok {
				*slot = p
			}
		}
		next.ServeHTTP(w, r)
	})
}
