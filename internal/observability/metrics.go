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
			Namespace: "connector",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connector",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Subsystem: "link",
			Name:      "state",
			Help:      "1 for the current Cortex-M link state, 0 otherwise.",
		},
		[]string{"state"},
	)
	linkConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "link",
			Name:      "connect_attempts_total",
			Help:      "Cortex-M connect attempts by result.",
		},
		[]string{"result"},
	)
	linkResends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "link",
			Name:      "resends_total",
			Help:      "Payloads re-enqueued after a dropped connection.",
		},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason.",
		},
		[]string{"reason"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Payloads waiting for the wire.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Subsystem: "pending",
			Name:      "requests",
			Help:      "Requests waiting for a Cortex-M reply.",
		},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "request",
			Name:      "total",
			Help:      "Handled requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connector",
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "Time from submit to reply or timeout.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"outcome"},
	)
	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "reply",
			Name:      "total",
			Help:      "Inbound replies by resolution.",
		},
		[]string{"resolution"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkState, linkConnects, linkResends, framesDropped,
			queueDepth, pendingRequests,
			requestsTotal, requestDuration, repliesTotal,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// SetLinkState marks state as current among all known states.
func SetLinkState(state string, known []string) {
	RegisterMetrics()
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		linkState.WithLabelValues(s).Set(v)
	}
}

func RecordConnect(success bool) {
	RegisterMetrics()
	result := "failure"
	if success {
		result = "success"
	}
	linkConnects.WithLabelValues(result).Inc()
}

func RecordResends(n int) {
	RegisterMetrics()
	linkResends.Add(float64(n))
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}

func SetPending(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}

func RecordRequest(outcome string, duration time.Duration) {
	RegisterMetrics()
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordReply(resolution string) {
	RegisterMetrics()
	repliesTotal.WithLabelValues(resolution).Inc()
}
