package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dispatchsolver/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request counts and latencies on the
// dedicated registry. Paths are collapsed to their route shape so ids
// do not explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		path := routeShape(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

func routeShape(path string) string {
	if !strings.HasPrefix(path, "/v1/plans/") {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, "/v1/plans/"), "/")
	out := "/v1/plans/{planId}"
	if len(parts) >= 2 {
		out += "/" + parts[1]
	}
	if len(parts) >= 3 && parts[1] == "solve" {
		out += "/{taskId}"
	}
	if len(parts) >= 4 && parts[3] == "stream" {
		out += "/stream"
	}
	return out
}
