package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.ObserveWebhook("RENEWAL", "applied")
	second.ObserveWebhook("RENEWAL", "applied")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.webhookEvents.WithLabelValues("RENEWAL", "applied")))
}

func TestObserveRunLabelsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.ObserveRun("sequences", time.Second, nil)
	m.ObserveRun("sequences", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleRuns.WithLabelValues("sequences", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleRuns.WithLabelValues("sequences", "error")))

	count, err := testutil.GatherAndCount(reg, "reflectcoach_lifecycle_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWebhook("TEST", "ignored")
		m.ObserveSend("winback", "sent")
		m.ObserveRun("intake", time.Millisecond, nil)
		m.ObserveUsage("voice_analysis", false)
	})
}
