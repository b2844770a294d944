package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reflectcoach"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	sequenceSends   *prometheus.CounterVec
	lifecycleRuns   *prometheus.CounterVec
	lifecycleRunDur *prometheus.HistogramVec
	usageIncrements *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors on reg, reusing collectors that are
// already registered under the same name. Other registration errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		sequenceSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_sends_total",
			Help:      "Sequence step attempts by sequence and outcome.",
		}, []string{"sequence", "outcome"}),
		lifecycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_runs_total",
			Help:      "Cron job runs by job and result.",
		}, []string{"job", "result"}),
		lifecycleRunDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_run_duration_seconds",
			Help:      "Duration of cron job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		usageIncrements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increments_total",
			Help:      "Usage increment attempts by kind and whether they were allowed.",
		}, []string{"kind", "allowed"}),
	}

	m.webhookEvents = registerCounter(reg, m.webhookEvents)
	m.sequenceSends = registerCounter(reg, m.sequenceSends)
	m.lifecycleRuns = registerCounter(reg, m.lifecycleRuns)
	m.usageIncrements = registerCounter(reg, m.usageIncrements)
	if err := reg.Register(m.lifecycleRunDur); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		m.lifecycleRunDur = already.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		return already.ExistingCollector.(*prometheus.CounterVec)
	}
	return c
}

func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveSend(sequence, outcome string) {
	if m == nil {
		return
	}
	m.sequenceSends.WithLabelValues(sequence, outcome).Inc()
}

// ObserveRun records one cron job run; result is "ok" or "error".
func (m *Metrics) ObserveRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lifecycleRuns.WithLabelValues(job, result).Inc()
	m.lifecycleRunDur.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ObserveUsage(kind string, allowed bool) {
	if m == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	m.usageIncrements.WithLabelValues(kind, label).Inc()
}
