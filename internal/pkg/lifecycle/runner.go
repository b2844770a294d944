package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/auditarchive"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/metrics"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
)

// Job names, also used as metric labels and task names.
const (
	JobSequences   = "sequences"
	JobIntake      = "intake"
	JobExpiry      = "expiry"
	JobAuditExport = "audit_export"
)

var ErrArchiveDisabled = errors.New("audit archive not configured")

type SequenceRunner interface {
	Run(ctx context.Context) (sequences.Summary, error)
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (billing.SweepResult, error)
}

type Exporter interface {
	ExportDay(ctx context.Context, day time.Time) (auditarchive.Result, error)
}

// Runner executes the periodic lifecycle jobs. Concurrent calls for the same
// job inside one process share a single execution.
type Runner struct {
	scheduler SequenceRunner
	intake    SequenceRunner
	sweeper   Sweeper
	exporter  Exporter
	clock     clock.Clock
	metrics   *metrics.Metrics
	group     singleflight.Group
	log       zerolog.Logger
}

// NewRunner wires the jobs. exporter may be nil when no archive is configured.
func NewRunner(scheduler, intake SequenceRunner, sweeper Sweeper, exporter Exporter, clk clock.Clock, m *metrics.Metrics) *Runner {
	if clk == nil {
		clk = clock.System{}
	}
	return &Runner{
		scheduler: scheduler,
		intake:    intake,
		sweeper:   sweeper,
		exporter:  exporter,
		clock:     clk,
		metrics:   m,
		log:       logging.Component("lifecycle"),
	}
}

// run executes fn once per key across concurrent callers. The shared pass
// is detached from the caller's cancellation so one caller giving up does
// not fail the pass for the others.
func run[T any](ctx context.Context, r *Runner, key, job string, fn func(context.Context) (T, error)) (T, bool, error) {
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		start := time.Now()
		out, err := fn(context.WithoutCancel(ctx))
		r.metrics.ObserveRun(job, time.Since(start), err)
		if err != nil {
			r.log.Error().Err(err).Str("job", job).Msg("Lifecycle job failed")
		} else {
			r.log.Info().Str("job", job).Interface("result", out).Dur("took", time.Since(start)).Msg("Lifecycle job finished")
		}
		return out, err
	})
	out, _ := v.(T)
	return out, shared, err
}

// Sequences runs one scheduler pass. shared reports that the result came
// from a pass already in flight.
func (r *Runner) Sequences(ctx context.Context) (sequences.Summary, bool, error) {
	return run(ctx, r, JobSequences, JobSequences, r.scheduler.Run)
}

func (r *Runner) Intake(ctx context.Context) (sequences.Summary, bool, error) {
	return run(ctx, r, JobIntake, JobIntake, r.intake.Run)
}

func (r *Runner) Expiry(ctx context.Context) (billing.SweepResult, bool, error) {
	return run(ctx, r, JobExpiry, JobExpiry, r.sweeper.SweepExpired)
}

// ExportAudit archives the UTC day containing day.
func (r *Runner) ExportAudit(ctx context.Context, day time.Time) (auditarchive.Result, error) {
	if r.exporter == nil {
		return auditarchive.Result{}, ErrArchiveDisabled
	}
	res, _, err := run(ctx, r, JobAuditExport+":"+day.UTC().Format("2006-01-02"), JobAuditExport, func(ctx context.Context) (auditarchive.Result, error) {
		return r.exporter.ExportDay(ctx, day)
	})
	return res, err
}

// Tasks returns the schedule used when the process runs its own cron.
func (r *Runner) Tasks() []jobqueue.Task {
	tasks := []jobqueue.Task{
		{Name: JobSequences, Interval: time.Minute, Run: func(ctx context.Context) error {
			_, _, err := r.Sequences(ctx)
			return err
		}},
		{Name: JobIntake, Interval: time.Hour, Run: func(ctx context.Context) error {
			_, _, err := r.Intake(ctx)
			return err
		}},
		{Name: JobExpiry, Interval: time.Hour, Run: func(ctx context.Context) error {
			_, _, err := r.Expiry(ctx)
			return err
		}},
	}
	if r.exporter != nil {
		tasks = append(tasks, jobqueue.Task{Name: JobAuditExport, Interval: 24 * time.Hour, Run: func(ctx context.Context) error {
			_, err := r.ExportAudit(ctx, r.clock.Now().AddDate(0, 0, -1))
			return err
		}})
	}
	return tasks
}
