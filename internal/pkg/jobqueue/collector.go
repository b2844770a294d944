package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

// Collector exports queue depth and job outcome counts, read from Redis on
// every scrape.
type Collector struct {
	queue *Queue
	depth *prometheus.Desc
	jobs  *prometheus.Desc
	log   zerolog.Logger
}

func NewCollector(q *Queue) *Collector {
	return &Collector{
		queue: q,
		depth: prometheus.NewDesc("reflectcoach_jobqueue_depth",
			"Jobs currently pending, processing or waiting for a retry.", []string{"state"}, nil),
		jobs: prometheus.NewDesc("reflectcoach_jobqueue_jobs",
			"Job outcome counters kept in Redis, by status.", []string{"status"}, nil),
		log: logging.Component("jobqueue-metrics"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.jobs
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	depths := []struct {
		state string
		size  func(context.Context) (int64, error)
	}{
		{"pending", c.queue.GetQueueSize},
		{"processing", c.queue.GetProcessingSize},
		{"delayed", c.queue.GetDelayedSize},
	}
	for _, d := range depths {
		n, err := d.size(ctx)
		if err != nil {
			c.log.Warn().Err(err).Str("state", d.state).Msg("Could not read queue depth")
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(n), d.state)
	}

	stats, err := c.queue.GetJobStats(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not read job stats")
		return
	}
	for status, n := range stats {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(status))
	}
}

// RegisterCollector exports the manager's queue on reg. Managers without a
// queue register nothing.
func RegisterCollector(reg prometheus.Registerer, m *Manager) error {
	q := m.GetQueue()
	if q == nil {
		return nil
	}
	err := reg.Register(NewCollector(q))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}
