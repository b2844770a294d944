package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ReflectCoach/app/repository"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/auditarchive"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/cache"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/database"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/metrics"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/usage"
)

// Engine is the fully wired set of lifecycle components shared by the
// server and the one-shot CLI.
type Engine struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Stores    *repository.Factory
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Resolver  *entitlements.Resolver
	Billing   *billing.Service
	Registry  *sequences.Registry
	Scheduler *sequences.Scheduler
	Intake    *sequences.Intake
	Usage     *usage.Service
	Queue     *jobqueue.Queue
	Runner    *lifecycle.Runner

	log zerolog.Logger
}

// Open connects to the database and cache described by cfg and builds the
// engine on top of them.
func Open(ctx context.Context, cfg *config.Config, autoMigrate bool) (*Engine, error) {
	db, err := database.SetupDatabase(cfg.Database, autoMigrate)
	if err != nil {
		return nil, err
	}
	e, err := Build(ctx, cfg, db, cache.SetupCache(cfg.Cache))
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return e, nil
}

// Build wires every component on top of an open database. redisClient may be
// nil or unreachable; Redis backed features then fall back to in-process
// equivalents.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Engine, error) {
	e := &Engine{
		Config:  cfg,
		DB:      db,
		Stores:  repository.NewFactory(db),
		Metrics: metrics.Default(),
		Clock:   clock.System{},
		log:     logging.Component("bootstrap"),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if cache.Available(pingCtx, redisClient) {
		e.Redis = redisClient
	} else if redisClient != nil {
		e.log.Warn().Msg("Cache unreachable, running without queue and distributed locks")
		_ = redisClient.Close()
	}
	cancel()

	e.Resolver = entitlements.NewResolver(e.Stores.Users(), e.Stores.Entitlements(), entitlements.NewTesterList(cfg.TesterEmails))

	registry, err := sequences.NewRegistry(cfg.Sequence.File)
	if err != nil {
		return nil, fmt.Errorf("load sequence definitions: %w", err)
	}
	e.Registry = registry

	renderer, err := sequences.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}
	sender := mail.NewSMTPMailer(cfg.SMTP, cfg.Sequence.SendTimeout)

	e.Scheduler = sequences.NewScheduler(
		e.Stores.Sequences(), e.Stores.Users(), e.Resolver, registry, renderer, sender, e.Stores.Audit(), e.Clock, e.Metrics,
		sequences.SchedulerConfig{
			BatchSize:    cfg.Sequence.BatchSize,
			SendDelay:    cfg.Sequence.SendDelay,
			ClaimTTL:     cfg.Sequence.ClaimTTL,
			PublicDomain: cfg.PublicDomain,
		},
	)
	e.Intake = sequences.NewIntake(e.Stores.Sequences(), e.Stores.Users(), registry, e.Clock, sequences.IntakeConfig{
		InactivityThreshold: cfg.Sequence.InactivityThreshold,
		Cooldown:            cfg.Sequence.Cooldown,
		OnboardingWindow:    cfg.Sequence.OnboardingWindow,
		BatchSize:           cfg.Sequence.IntakeBatchSize,
	})
	e.Usage = usage.NewService(e.Stores.Usage(), e.Resolver, e.Clock, cfg.Location(), e.Metrics)

	welcome := sequences.NewWelcomeMailer(e.Stores.Users(), e.Resolver, renderer, sender, e.Clock, cfg.PublicDomain)
	if e.Redis != nil {
		e.Queue = jobqueue.NewQueue(e.Redis, 2)
	}
	dispatcher := jobqueue.NewWelcomeDispatcher(e.Queue, welcome)

	idem, err := e.idempotency(cfg)
	if err != nil {
		return nil, err
	}
	e.Billing = billing.NewService(e.Stores.Entitlements(), e.Stores.Users(), idem, billing.Options{
		WebhookSecret: cfg.Billing.WebhookSecret,
		Environment:   cfg.Billing.Environment,
		Clock:         e.Clock,
		Audit:         e.Stores.Audit(),
		Notifier:      dispatcher,
		Enroller:      e.Intake,
		Metrics:       e.Metrics,
	})

	var exporter lifecycle.Exporter
	if cfg.AuditArchiveEnabled() {
		client, err := auditarchive.NewS3Client(ctx, cfg.Audit)
		if err != nil {
			e.log.Warn().Err(err).Msg("Audit archive disabled")
		} else {
			exporter = auditarchive.NewArchiver(client, cfg.Audit.Bucket, e.Stores.Audit())
		}
	}
	e.Runner = lifecycle.NewRunner(e.Scheduler, e.Intake, e.Billing, exporter, e.Clock, e.Metrics)

	return e, nil
}

func (e *Engine) idempotency(cfg *config.Config) (billing.IdempotencyCache, error) {
	if cfg.Billing.IdempotencyBackend == "redis" {
		if e.Redis != nil {
			return billing.NewRedisIdempotency(e.Redis, cfg.Billing.IdempotencyTTL), nil
		}
		e.log.Warn().Msg("Redis unavailable, using in-memory idempotency cache")
	}
	return billing.NewMemoryIdempotency(cfg.Billing.IdempotencySize, cfg.Billing.IdempotencyTTL, e.Clock)
}

// Manager returns a job manager running the welcome queue and, in internal
// cron mode, the lifecycle tasks.
func (e *Engine) Manager() *jobqueue.Manager {
	var tasks []jobqueue.Task
	if e.Config.CronMode == config.CronModeInternal {
		tasks = e.Runner.Tasks()
	}
	return jobqueue.NewManager(e.Queue, e.Redis, tasks...)
}

// Health pings the database and, when configured, Redis.
func (e *Engine) Health(ctx context.Context) error {
	sqlDB, err := e.DB.DB()
	if err != nil {
		return err
	}
	var errs []error
	if err := sqlDB.PingContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if e.Redis != nil {
		if err := e.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases watchers and connections.
func (e *Engine) Close() {
	if e.Registry != nil {
		e.Registry.Stop()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if sqlDB, err := e.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
