package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kaspull",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of balance API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kaspull",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by balance API endpoint",
		},
		[]string{"endpoint"},
	)

	RefreshRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kaspull",
			Subsystem: "api",
			Name:      "refresh_rejected_total",
			Help:      "Manual refreshes not started, by cause",
		},
		[]string{"cause"},
	)
)

// Register adds the API collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, RefreshRejected)
	})
}
