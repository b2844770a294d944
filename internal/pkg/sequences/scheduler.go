package sequences

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/metrics"
)

// Store is the sequence persistence the scheduler and intake need.
type Store interface {
	Create(ctx context.Context, record *models.SequenceRecord) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SequenceRecord, error)
	Claim(ctx context.Context, id uint, token string, until, now time.Time) (bool, error)
	Save(ctx context.Context, record *models.SequenceRecord) error
	LatestStart(ctx context.Context, userID uint, name models.SequenceName) (*time.Time, error)
	ListByUser(ctx context.Context, userID uint) ([]models.SequenceRecord, error)
}

// Users is the user directory the sequences read from.
type Users interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	ListInactiveSince(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]models.User, error)
	ListCreatedSince(ctx context.Context, since time.Time, afterID uint, limit int) ([]models.User, error)
}

// EntitlementReader resolves the user's current entitlement.
type EntitlementReader interface {
	Resolve(ctx context.Context, userID uint, now time.Time) (entitlements.Resolution, error)
}

// SendLog is the append-only audit sink for send attempts.
type SendLog interface {
	LogSend(ctx context.Context, entry *models.SequenceSendLog) error
}

// Definitions serves sequence definitions.
type Definitions interface {
	Get(name models.SequenceName) (Definition, bool)
}

// Summary is the observable result of one cron pass.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Enrolled  int `json:"enrolled,omitempty"`
}

// SchedulerConfig tunes one scheduler pass.
type SchedulerConfig struct {
	BatchSize    int
	SendDelay    time.Duration
	ClaimTTL     time.Duration
	PublicDomain string
}

// Scheduler advances due sequence records and dispatches their messages.
type Scheduler struct {
	store    Store
	users    Users
	resolver EntitlementReader
	defs     Definitions
	renderer Renderer
	sender   mail.Sender
	audit    SendLog
	clock    clock.Clock
	metrics  *metrics.Metrics
	cfg      SchedulerConfig
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

func NewScheduler(
	store Store,
	users Users,
	resolver EntitlementReader,
	defs Definitions,
	renderer Renderer,
	sender mail.Sender,
	audit SendLog,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		store:    store,
		users:    users,
		resolver: resolver,
		defs:     defs,
		renderer: renderer,
		sender:   sender,
		audit:    audit,
		clock:    clk,
		metrics:  m,
		cfg:      cfg,
		sleep:    sleepContext,
		log:      logging.Component("scheduler"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes one batch of due records. The returned error is set only
// when the batch could not be selected; per-record failures are counted in
// Summary.Errors and never stop the batch.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := s.clock.Now()

	due, err := s.store.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list due sequence records: %w", err)
	}

	dispatched := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		rec := due[i]
		sum.Processed++

		pace := func() error {
			if dispatched == 0 {
				return nil
			}
			return s.sleep(ctx, s.cfg.SendDelay)
		}
		outcome, attempted := s.process(ctx, &rec, now, pace)
		if attempted {
			dispatched++
		}
		switch outcome {
		case outcomeSent:
			sum.Sent++
		case outcomeSkipped:
			sum.Skipped++
		default:
			sum.Errors++
		}
	}

	s.log.Info().
		Int("processed", sum.Processed).
		Int("sent", sum.Sent).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Msg("Sequence run finished")
	return sum, nil
}

type recordOutcome int

const (
	outcomeSent recordOutcome = iota
	outcomeSkipped
	outcomeError
)

// process handles one record. pace runs right before the external send;
// attempted reports whether the sender was called.
func (s *Scheduler) process(ctx context.Context, rec *models.SequenceRecord, now time.Time, pace func() error) (recordOutcome, bool) {
	logger := s.log.With().Uint("record_id", rec.ID).Uint("user_id", rec.UserID).Str("sequence", string(rec.SequenceName)).Logger()

	claimed, err := s.store.Claim(ctx, rec.ID, uuid.NewString(), now.Add(s.cfg.ClaimTTL), now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim sequence record")
		return outcomeError, false
	}
	if !claimed {
		logger.Debug().Msg("Sequence record claimed by another run")
		return outcomeSkipped, false
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load user")
		s.release(ctx, rec, logger)
		return outcomeError, false
	}
	if user == nil {
		return s.stop(ctx, rec, true, models.PauseReasonUserGone, logger), false
	}
	if !user.CanReceiveEmail() {
		return s.stop(ctx, rec, false, models.PauseReasonOptOut, logger), false
	}

	res, err := s.resolver.Resolve(ctx, rec.UserID, now)
	if err != nil {
		// Retry next run instead of acting on a fail-closed tier.
		logger.Error().Err(err).Msg("Failed to resolve entitlement")
		s.release(ctx, rec, logger)
		return outcomeError, false
	}
	switch rec.SequenceName {
	case models.SequenceOnboarding:
		if res.Tier != models.TierFree {
			return s.stop(ctx, rec, true, models.PauseReasonUpgraded, logger), false
		}
	case models.SequenceTrial:
		if res.Tier == models.TierFree {
			return s.stop(ctx, rec, true, models.PauseReasonDeclined, logger), false
		}
		if res.IsActive && res.Status == models.StatusActive {
			return s.stop(ctx, rec, true, models.PauseReasonConverted, logger), false
		}
	}

	def, ok := s.defs.Get(rec.SequenceName)
	if !ok || rec.CurrentStep < 0 || rec.CurrentStep >= len(def.Steps) {
		rec.Completed = true
		rec.NextSendAt = nil
		if err := s.store.Save(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("Failed to complete exhausted sequence")
			return outcomeError, false
		}
		logger.Info().Msg("Sequence exhausted")
		return outcomeSkipped, false
	}
	step := def.Steps[rec.CurrentStep]

	body, found, err := s.renderer.Render(step.TemplateID, templateDataFor(user, res.Tier, s.cfg.PublicDomain))
	if err != nil || !found {
		// Unrenderable steps are skipped, never retried.
		detail := "unknown template"
		if err != nil {
			detail = err.Error()
		}
		logger.Error().Str("template", step.TemplateID).Str("detail", detail).Msg("Cannot render sequence step")
		s.logSend(ctx, rec, step, models.SendOutcomeSkipped, false, detail)
		s.advance(rec, def, now, false)
		if err := s.store.Save(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("Failed to skip unrenderable step")
			return outcomeError, false
		}
		return outcomeSkipped, false
	}

	if err := pace(); err != nil {
		s.release(ctx, rec, logger)
		return outcomeError, false
	}
	if err := s.sender.Send(ctx, user.Email, step.Subject, body); err != nil {
		permanent := mail.IsPermanent(err)
		s.logSend(ctx, rec, step, models.SendOutcomeFailed, permanent, err.Error())
		s.metrics.ObserveSend(string(rec.SequenceName), models.SendOutcomeFailed)
		if permanent {
			logger.Warn().Err(err).Int("step", rec.CurrentStep).Msg("Permanent send failure, pausing sequence")
			rec.Paused = true
			rec.PauseReason = models.PauseReasonPermanentFail
		} else {
			logger.Warn().Err(err).Int("step", rec.CurrentStep).Msg("Send failed, retrying next run")
		}
		if saveErr := s.store.Save(ctx, rec); saveErr != nil {
			logger.Error().Err(saveErr).Msg("Failed to persist failed send")
		}
		return outcomeError, true
	}

	sentStep := rec.CurrentStep
	s.advance(rec, def, now, true)
	if err := s.store.Save(ctx, rec); err != nil {
		// The message went out; the next run may send it again.
		logger.Error().Err(err).Int("step", sentStep).Msg("Failed to persist sequence progress after send")
		s.logSendStep(ctx, rec, sentStep, step, models.SendOutcomeSent, false, "progress not saved: "+err.Error())
		s.metrics.ObserveSend(string(rec.SequenceName), models.SendOutcomeSent)
		return outcomeError, true
	}
	s.logSendStep(ctx, rec, sentStep, step, models.SendOutcomeSent, false, "")
	s.metrics.ObserveSend(string(rec.SequenceName), models.SendOutcomeSent)
	logger.Info().Int("step", sentStep).Msg("Sequence step sent")
	return outcomeSent, true
}

// advance moves rec past its current step. next_send_at is always derived
// from started_at so retries never shift the cadence.
func (s *Scheduler) advance(rec *models.SequenceRecord, def Definition, now time.Time, sent bool) {
	rec.CurrentStep++
	if sent {
		rec.LastSentAt = &now
	}
	if rec.CurrentStep < len(def.Steps) {
		next := rec.StartedAt.Add(time.Duration(def.Steps[rec.CurrentStep].DayOffset) * 24 * time.Hour)
		rec.NextSendAt = &next
		return
	}
	rec.NextSendAt = nil
	rec.Completed = true
}

// stop pauses a record, optionally completing it, without sending.
func (s *Scheduler) stop(ctx context.Context, rec *models.SequenceRecord, complete bool, reason string, logger zerolog.Logger) recordOutcome {
	rec.Paused = true
	rec.PauseReason = reason
	if complete {
		rec.Completed = true
	}
	if err := s.store.Save(ctx, rec); err != nil {
		logger.Error().Err(err).Str("reason", reason).Msg("Failed to stop sequence")
		return outcomeError
	}
	s.metrics.ObserveSend(string(rec.SequenceName), models.SendOutcomeSkipped)
	logger.Info().Str("reason", reason).Bool("completed", complete).Msg("Sequence short-circuited")
	return outcomeSkipped
}

// release drops the claim without touching progress.
func (s *Scheduler) release(ctx context.Context, rec *models.SequenceRecord, logger zerolog.Logger) {
	if err := s.store.Save(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to release sequence claim")
	}
}

func (s *Scheduler) logSend(ctx context.Context, rec *models.SequenceRecord, step Step, outcome string, permanent bool, detail string) {
	s.logSendStep(ctx, rec, rec.CurrentStep, step, outcome, permanent, detail)
}

func (s *Scheduler) logSendStep(ctx context.Context, rec *models.SequenceRecord, stepIndex int, step Step, outcome string, permanent bool, detail string) {
	if s.audit == nil {
		return
	}
	entry := &models.SequenceSendLog{
		SequenceRecordID: rec.ID,
		UserID:           rec.UserID,
		SequenceName:     rec.SequenceName,
		Step:             stepIndex,
		TemplateID:       step.TemplateID,
		Outcome:          outcome,
		Permanent:        permanent,
		Detail:           detail,
	}
	if err := s.audit.LogSend(ctx, entry); err != nil {
		s.log.Error().Err(err).Uint("record_id", rec.ID).Msg("Failed to write send audit log")
	}
}
