package sequences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/app/repository"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

var ErrUnknownSequence = errors.New("unknown sequence")

// IntakeConfig tunes sequence intake.
type IntakeConfig struct {
	InactivityThreshold time.Duration
	Cooldown            time.Duration
	OnboardingWindow    time.Duration
	BatchSize           int
}

// Intake creates new sequence records: winback for inactive users,
// onboarding for new signups, and explicit enrollments.
type Intake struct {
	store Store
	users Users
	defs  Definitions
	clock clock.Clock
	cfg   IntakeConfig
	log   zerolog.Logger
}

func NewIntake(store Store, users Users, defs Definitions, clk clock.Clock, cfg IntakeConfig) *Intake {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Intake{store: store, users: users, defs: defs, clock: clk, cfg: cfg, log: logging.Component("intake")}
}

// onceOnly sequences are entered at most once per user, ever.
func onceOnly(name models.SequenceName) bool {
	return name == models.SequenceOnboarding || name == models.SequenceTrial
}

// supersedes reports whether entering name closes other open sequences
// instead of being blocked by them.
func supersedes(name models.SequenceName) bool {
	return name == models.SequenceTrial
}

// Enroll starts sequence name for a user at step 0 with next_send_at = now.
// It returns false without error when the user is already in an open
// sequence or entered the same sequence within the cooldown.
func (i *Intake) Enroll(ctx context.Context, userID uint, name models.SequenceName, now time.Time) (bool, error) {
	if _, ok := i.defs.Get(name); !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownSequence, name)
	}

	records, err := i.store.ListByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list sequences of user %d: %w", userID, err)
	}
	var open []models.SequenceRecord
	for _, rec := range records {
		if !rec.IsOpen() {
			continue
		}
		if rec.SequenceName == name || !supersedes(name) {
			return false, nil
		}
		open = append(open, rec)
	}

	last, err := i.store.LatestStart(ctx, userID, name)
	if err != nil {
		return false, fmt.Errorf("latest %s start of user %d: %w", name, userID, err)
	}
	if last != nil && (onceOnly(name) || now.Sub(*last) < i.cfg.Cooldown) {
		return false, nil
	}

	for idx := range open {
		rec := open[idx]
		rec.Completed = true
		rec.Paused = true
		rec.PauseReason = models.PauseReasonSuperseded
		if err := i.store.Save(ctx, &rec); err != nil {
			return false, fmt.Errorf("close %s sequence %d: %w", rec.SequenceName, rec.ID, err)
		}
	}

	next := now
	rec := &models.SequenceRecord{
		UserID:       userID,
		SequenceName: name,
		CurrentStep:  0,
		StartedAt:    now,
		NextSendAt:   &next,
	}
	if err := i.store.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrOpenSequence) {
			i.log.Debug().Uint("user_id", userID).Str("sequence", string(name)).Msg("Concurrent enrollment lost")
			return false, nil
		}
		return false, fmt.Errorf("create %s sequence for user %d: %w", name, userID, err)
	}
	i.log.Info().Uint("user_id", userID).Str("sequence", string(name)).Msg("User enrolled in sequence")
	return true, nil
}

// Run scans for winback and onboarding candidates. Inactivity is measured
// in UTC wall-clock durations.
func (i *Intake) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := i.clock.Now()

	cutoff := now.Add(-i.cfg.InactivityThreshold)
	if err := i.scan(ctx, &sum, models.SequenceWinback, now, func(afterID uint) ([]models.User, error) {
		return i.users.ListInactiveSince(ctx, cutoff, afterID, i.cfg.BatchSize)
	}); err != nil {
		return sum, err
	}

	if i.cfg.OnboardingWindow > 0 {
		since := now.Add(-i.cfg.OnboardingWindow)
		if err := i.scan(ctx, &sum, models.SequenceOnboarding, now, func(afterID uint) ([]models.User, error) {
			return i.users.ListCreatedSince(ctx, since, afterID, i.cfg.BatchSize)
		}); err != nil {
			return sum, err
		}
	}

	i.log.Info().
		Int("processed", sum.Processed).
		Int("enrolled", sum.Enrolled).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Msg("Sequence intake finished")
	return sum, nil
}

func (i *Intake) scan(ctx context.Context, sum *Summary, name models.SequenceName, now time.Time, page func(afterID uint) ([]models.User, error)) error {
	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		users, err := page(afterID)
		if err != nil {
			return fmt.Errorf("list %s candidates: %w", name, err)
		}
		for _, u := range users {
			afterID = u.ID
			sum.Processed++
			if !u.CanReceiveEmail() {
				sum.Skipped++
				continue
			}
			ok, err := i.Enroll(ctx, u.ID, name, now)
			switch {
			case err != nil:
				sum.Errors++
				i.log.Error().Err(err).Uint("user_id", u.ID).Str("sequence", string(name)).Msg("Intake enrollment failed")
			case ok:
				sum.Enrolled++
			default:
				sum.Skipped++
			}
		}
		if len(users) < i.cfg.BatchSize {
			return nil
		}
	}
}
