package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame routing outcomes.
const (
	FrameDelivered      = "delivered"
	FrameUnknownSession = "unknown_session"
	FrameMalformed      = "malformed"
	FrameCorrupt        = "corrupt"
	FrameStale          = "stale"
)

// Disconnect reasons.
const (
	DisconnectLocal  = "local"
	DisconnectRemote = "remote"
)

var (
	registerOnce sync.Once

	dialAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "dial_attempts_total",
			Help:      "Endpoint dial attempts made while racing for a connection.",
		},
		[]string{"service", "endpoint", "success"},
	)
	dialDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "dial_duration_seconds",
			Help:      "Endpoint dial duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "connects_total",
			Help:      "Completed connection races.",
		},
		[]string{"service", "success"},
	)
	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "invocations_total",
			Help:      "Method invocations written or rejected.",
		},
		[]string{"service", "method", "success"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "frames_total",
			Help:      "Inbound frames by routing outcome.",
		},
		[]string{"service", "outcome"},
	)
	openSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "open_sessions",
			Help:      "Sessions awaiting replies.",
		},
		[]string{"service"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerpc",
			Subsystem: "client",
			Name:      "disconnects_total",
			Help:      "Connections torn down.",
		},
		[]string{"service", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dialAttempts, dialDuration, connects, invocations, frames, openSessions, disconnects)
	})
}

func RecordDial(service, endpoint string, err error, duration time.Duration) {
	RegisterMetrics()
	dialAttempts.WithLabelValues(service, endpoint, success(err)).Inc()
	dialDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

func RecordConnect(service string, err error) {
	RegisterMetrics()
	connects.WithLabelValues(service, success(err)).Inc()
}

func RecordInvocation(service, method string, err error) {
	RegisterMetrics()
	invocations.WithLabelValues(service, method, success(err)).Inc()
}

func RecordFrame(service, outcome string) {
	RegisterMetrics()
	frames.WithLabelValues(service, outcome).Inc()
}

func SetOpenSessions(service string, n int) {
	RegisterMetrics()
	openSessions.WithLabelValues(service).Set(float64(n))
}

func RecordDisconnect(service, reason string) {
	RegisterMetrics()
	disconnects.WithLabelValues(service, reason).Inc()
}

func success(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}
