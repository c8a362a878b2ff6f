package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses room-scoped paths to avoid high cardinality in
// metrics labels.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/rooms/") {
		rest := strings.TrimPrefix(path, "/rooms/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			tail := rest[i:]
			if strings.HasPrefix(tail, "/messages/") {
				tail = "/messages/:messageID"
			}
			return "/rooms/:id" + tail
		}
		return "/rooms/:id"
	}
	return path
}
