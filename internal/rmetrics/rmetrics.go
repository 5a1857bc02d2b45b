// Package rmetrics exposes Prometheus collectors for the HTTP surface,
// wired into the protocol adapter's middleware chain and served at
// GET /metrics (spec §6 carries no metrics surface of its own, but the
// ambient stack provides one the way the rest of the pack does).
package rmetrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restserve",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests handled, by method and status code.",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "restserve",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	bytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restserve",
		Name:      "http_response_bytes_total",
		Help:      "Total response bytes written, by method.",
	}, []string{"method"})
)

// statusRecorder wraps a ResponseWriter to capture the status code and
// byte count written, the way chi's middleware.WrapResponseWriter does
// for the teacher's logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Middleware records request counts, latency, and response size for
// every request passing through the protocol adapter.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		bytesWritten.WithLabelValues(r.Method).Add(float64(rec.bytes))
	})
}
