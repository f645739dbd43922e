package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	commandCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcbridge",
			Subsystem: "command",
			Name:      "calls_total",
			Help:      "Device command calls by outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcbridge",
			Subsystem: "command",
			Name:      "call_duration_seconds",
			Help:      "Device command round-trip duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"command"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcbridge",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before reaching a caller.",
		},
		[]string{"reason"},
	)
	bytesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xcbridge",
			Subsystem: "link",
			Name:      "discarded_bytes_total",
			Help:      "Stream bytes skipped while resynchronizing to a frame boundary.",
		},
	)
)

// Command call outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeProtocol = "protocol_violation"
	OutcomeError    = "error"
)

// Frame drop reasons.
const (
	DropStale      = "stale"
	DropOverflow   = "overflow"
	DropUnaccepted = "unaccepted_type"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, commandCalls, commandDuration, framesDropped, bytesDiscarded)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommandCall(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	commandCalls.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordFramesDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Add(float64(n))
}

func RecordDiscardedBytes(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	bytesDiscarded.Add(float64(n))
}
