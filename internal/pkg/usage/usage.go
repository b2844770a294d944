package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/app/repository"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/metrics"
)

// Unlimited is the limit (and remaining count) of uncapped tiers.
const Unlimited = -1

const (
	KindReflectionAnalysis = "reflection_analysis"
	KindVoiceAnalysis      = "voice_analysis"
)

var ErrUnknownKind = errors.New("usage: unknown kind")

// Period is the window a kind's limit applies to.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

type kindSpec struct {
	period Period
	limits map[models.Tier]int
}

var kinds = map[string]kindSpec{
	KindReflectionAnalysis: {
		period: PeriodDaily,
		limits: map[models.Tier]int{models.TierFree: 3, models.TierPro: 30, models.TierProPlus: Unlimited},
	},
	KindVoiceAnalysis: {
		period: PeriodMonthly,
		limits: map[models.Tier]int{models.TierFree: 10, models.TierPro: 300, models.TierProPlus: Unlimited},
	},
}

// LimitFor returns the limit and period of kind for tier.
func LimitFor(kind string, tier models.Tier) (int, Period, error) {
	ks, ok := kinds[kind]
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	limit, ok := ks.limits[tier]
	if !ok {
		limit = ks.limits[models.TierFree]
	}
	return limit, ks.period, nil
}

func remaining(limit, count int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

// TierResolver supplies the tier limits are looked up for.
type TierResolver interface {
	Resolve(ctx context.Context, userID uint, now time.Time) (entitlements.Resolution, error)
}

// Decision is the result of an increment attempt.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Period    Period `json:"period"`
}

// Snapshot is a read-only view of a counter in the current period.
type Snapshot struct {
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Period    Period `json:"period"`
	Lifetime  int64  `json:"lifetime"`
}

// Service enforces per-tier usage limits with lazily reset counters.
type Service struct {
	repo     repository.UsageRepository
	resolver TierResolver
	clock    clock.Clock
	loc      *time.Location
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewService(repo repository.UsageRepository, resolver TierResolver, clk clock.Clock, loc *time.Location, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, resolver: resolver, clock: clk, loc: loc, metrics: m, log: logging.Component("usage")}
}

func (s *Service) markers(now time.Time) (day, month string) {
	local := now.In(s.loc)
	return local.Format(models.DayLayout), local.Format(models.MonthLayout)
}

// tier resolves the user's tier; lookup failures count as free.
func (s *Service) tier(ctx context.Context, userID uint, now time.Time) models.Tier {
	res, err := s.resolver.Resolve(ctx, userID, now)
	if err != nil {
		s.log.Warn().Err(err).Uint("user_id", userID).Msg("Entitlement lookup failed, applying free limits")
	}
	return res.Tier
}

func countIn(c *models.UsageCounter, period Period, day, month string) int {
	if period == PeriodMonthly {
		return c.MonthlyAt(month)
	}
	return c.DailyAt(day)
}

// Increment counts one use when the user is under the limit. A denied
// attempt writes nothing.
func (s *Service) Increment(ctx context.Context, userID uint, kind string) (Decision, error) {
	now := s.clock.Now()
	limit, period, err := LimitFor(kind, s.tier(ctx, userID, now))
	if err != nil {
		return Decision{}, err
	}
	day, month := s.markers(now)

	dec := Decision{Limit: limit, Period: period}
	_, err = s.repo.Update(ctx, userID, kind, func(c *models.UsageCounter) (bool, error) {
		current := countIn(c, period, day, month)
		if limit != Unlimited && current >= limit {
			dec.Allowed = false
			dec.Count = current
			return false, nil
		}
		c.Bump(day, month)
		dec.Allowed = true
		dec.Count = countIn(c, period, day, month)
		return true, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment %s for user %d: %w", kind, userID, err)
	}
	dec.Remaining = remaining(limit, dec.Count)
	s.metrics.ObserveUsage(kind, dec.Allowed)
	return dec, nil
}

// Peek reads the current-period count without writing.
func (s *Service) Peek(ctx context.Context, userID uint, kind string) (Snapshot, error) {
	now := s.clock.Now()
	limit, period, err := LimitFor(kind, s.tier(ctx, userID, now))
	if err != nil {
		return Snapshot{}, err
	}
	counter, err := s.repo.Get(ctx, userID, kind)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s for user %d: %w", kind, userID, err)
	}
	day, month := s.markers(now)
	count := countIn(counter, period, day, month)
	snap := Snapshot{Count: count, Remaining: remaining(limit, count), Limit: limit, Period: period}
	if counter != nil {
		snap.Lifetime = counter.LifetimeCount
	}
	return snap, nil
}
