package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pollsTotal    *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
	stableValue   prometheus.Gauge
	confirmations prometheus.Counter
	consecErrors  prometheus.Gauge
	nextDelay     prometheus.Gauge
	eventsDropped *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		pollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kaspull_polls_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"},
		),
		pollDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kaspull_poll_duration_seconds",
				Help:    "Duration of upstream fetch and parse",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kaspull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		stableValue: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kaspull_stable_value",
				Help: "Last confirmed balance",
			},
		),
		confirmations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kaspull_confirmations_total",
				Help: "Confirmed balance changes",
			},
		),
		consecErrors: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kaspull_consecutive_errors",
				Help: "Current streak of failed polls",
			},
		),
		nextDelay: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kaspull_next_poll_delay_seconds",
				Help: "Delay before the next scheduled poll",
			},
		),
		eventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kaspull_events_dropped_total",
				Help: "Balance events dropped by a delivery pipeline",
			},
			[]string{"sink"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kaspull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPoll counts a poll and observes its duration. Busy polls never
// reached the network and are not observed.
func (r *Recorder) RecordPoll(result string, seconds float64) {
	r.pollsTotal.WithLabelValues(result).Inc()
	if result != "busy" {
		r.pollDuration.Observe(seconds)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordStableValue(value float64) {
	r.stableValue.Set(value)
}

func (r *Recorder) RecordConfirmation() {
	r.confirmations.Inc()
}

func (r *Recorder) RecordSchedule(consecutiveErrors int, nextDelay time.Duration) {
	r.consecErrors.Set(float64(consecutiveErrors))
	r.nextDelay.Set(nextDelay.Seconds())
}

func (r *Recorder) RecordEventDropped(sink string) {
	r.eventsDropped.WithLabelValues(sink).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPoll(string, float64)        {}
func (Nop) RecordError(string)                {}
func (Nop) RecordStableValue(float64)         {}
func (Nop) RecordConfirmation()               {}
func (Nop) RecordSchedule(int, time.Duration) {}
func (Nop) RecordEventDropped(string)         {}
func (Nop) RecordLatency(string, float64)     {}
