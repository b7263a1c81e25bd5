package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chainbot/pkg/logger"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_http_requests_total",
		Help: "Admin HTTP requests by method and status.",
	}, []string{"method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainbot_http_request_seconds",
		Help:    "Admin HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// slowThreshold is the latency above which a request gets logged.
const slowThreshold = 200 * time.Millisecond

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the admin HTTP surface and logs slow requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		if elapsed >= slowThreshold {
			logger.Warn("slow_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"took", elapsed.String(),
				"headers", logger.SafeHeaders(r))
		}
	})
}
