package ffi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/op-bridge/resource"
)

// Outcome labels for calls_total.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomePanic    = "panic"
)

// Metrics records bridge call counts, latencies and live futures. A nil
// *Metrics records nothing.
//
// futures_pending follows the process-wide poll state table: it counts the
// futures opened and not yet closed since the Metrics was created.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
	cancel   func()
}

// NewMetrics creates the bridge collectors, registers them with reg and
// starts tracking futures. Call Close to stop tracking.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ffi",
				Name:      "calls_total",
				Help:      "Total number of calls into the native core",
			},
			[]string{"entry", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ffi",
				Name:      "call_duration_seconds",
				Help:      "Duration of calls into the native core in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entry"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ffi",
				Name:      "futures_pending",
				Help:      "Current number of native futures being awaited",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.calls, m.duration, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.cancel = pollStates.Subscribe(m)
	return m, nil
}

// OnResourceEvent keeps futures_pending in step with the poll state table.
func (m *Metrics) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		m.pending.Inc()
	case resource.EventDropped:
		m.pending.Dec()
	}
}

// Close stops tracking futures. The collectors stay registered.
func (m *Metrics) Close() {
	if m != nil && m.cancel != nil {
		m.cancel()
	}
}

func (m *Metrics) observe(entry, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(entry, outcome).Inc()
	m.duration.WithLabelValues(entry).Observe(time.Since(start).Seconds())
}
