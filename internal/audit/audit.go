// Package audit records one structured log entry per HTTP request. Handlers
// add detail to the entry for the current request through Log.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Entry is the audit record of a single request.
type Entry struct {
	Method     string
	Path       string
	Status     int
	Authorized bool
	Subject    string
	Resource   string
	RecordID   string
	Error      string
	Duration   time.Duration
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Bool("authorized", e.Authorized).
		Dur("duration", e.Duration)

	if e.Subject != "" {
		ev.Str("subject", e.Subject)
	}
	if e.Resource != "" {
		ev.Str("resource", e.Resource)
	}
	if e.RecordID != "" {
		ev.Str("recordId", e.RecordID)
	}
	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

type entryKey struct{}

// Log returns the audit entry of the current request. Outside of the
// middleware a detached entry is returned so that callers need not check.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(entryKey{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Context returns a context carrying entry.
func Context(ctx context.Context, entry *Entry) context.Context {
	return context.WithValue(ctx, entryKey{}, entry)
}

// Middleware attaches an entry to each request and writes it to the log when
// the request completes.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &Entry{
				Method: r.Method,
				Path:   r.URL.Path,
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := Context(r.Context(), entry)

			defer func() {
				entry.Status = recorder.status
				entry.Duration = time.Since(start)

				level := zerolog.InfoLevel
				if entry.Status >= http.StatusInternalServerError {
					level = zerolog.ErrorLevel
				} else if entry.Status >= http.StatusBadRequest {
					level = zerolog.WarnLevel
				}

				log.Ctx(ctx).WithLevel(level).EmbedObject(entry).Msg("audit")
			}()

			next.ServeHTTP(recorder, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
