package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/metrics"
)

// Metrics records HTTP request count and latency as Prometheus metrics.
// Scrapes of /metrics itself are not counted.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := routeLabel(r)
		if path == "/metrics" {
			return
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern, so /memory/facts/{factID} is one
// series however many fact ids are deleted. Subrouter index routes come back
// with a trailing slash, which is trimmed; requests matching no route share
// "unmatched".
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	pat := rctx.RoutePattern()
	if pat == "" {
		return "unmatched"
	}
	if len(pat) > 1 {
		pat = strings.TrimSuffix(pat, "/")
	}
	return pat
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
