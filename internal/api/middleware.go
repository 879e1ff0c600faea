package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fintrack/internal/auth"
	"github.com/example/fintrack/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger emits one structured line per request.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			l.Info("http_request",
				"request_id", security.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", dur.Milliseconds(),
			)
		})
	}
}

// AuditMutations appends one chain entry per state-changing request.
// Reads are not audited.
func AuditMutations(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			ownerID := ""
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				ownerID = id.OwnerID
			}
			a.Append(fmt.Sprintf("rid=%s owner=%s method=%s path=%s status=%d",
				security.RequestIDFromContext(r.Context()), ownerID, r.Method, r.URL.Path, sw.status))
		})
	}
}
