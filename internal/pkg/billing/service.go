package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/metrics"
)

// Store is the part of the entitlement store the webhook state machine writes.
type Store interface {
	PlanLookup
	Get(ctx context.Context, userID uint) (*models.EntitlementRecord, error)
	Upsert(ctx context.Context, record *models.EntitlementRecord) error
	MarkWelcomeSent(ctx context.Context, userID uint, at time.Time) (bool, error)
	ClearWelcomeSent(ctx context.Context, userID uint, at time.Time) error
	GetClub(ctx context.Context, clubID uint) (*models.Club, error)
	SaveClub(ctx context.Context, club *models.Club) error
	ExpireLapsed(ctx context.Context, now time.Time) (int64, int64, error)
}

// UserLookup confirms that a webhook subject is a known account.
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// AuditSink receives one row per webhook delivery.
type AuditSink interface {
	LogWebhook(ctx context.Context, entry *models.WebhookEventLog) error
}

// WelcomeNotifier delivers the one-time welcome message after a first purchase.
type WelcomeNotifier interface {
	NotifyWelcome(ctx context.Context, userID uint) error
}

// SequenceEnroller starts a drip sequence for a user.
type SequenceEnroller interface {
	Enroll(ctx context.Context, userID uint, name models.SequenceName, now time.Time) (bool, error)
}

// Options configures a Service. Zero values disable the optional collaborators.
type Options struct {
	WebhookSecret string
	// Environment is the deployment's billing environment; a production
	// deployment drops sandbox events.
	Environment string
	Clock       clock.Clock
	Audit       AuditSink
	Notifier    WelcomeNotifier
	Enroller    SequenceEnroller
	Metrics     *metrics.Metrics
}

// Service applies billing webhooks to the entitlement store.
type Service struct {
	store    Store
	users    UserLookup
	idem     IdempotencyCache
	secret   string
	env      string
	clock    clock.Clock
	audit    AuditSink
	notifier WelcomeNotifier
	enroller SequenceEnroller
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewService creates a billing service from its injected collaborators.
func NewService(store Store, users UserLookup, idem IdempotencyCache, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Environment == "" {
		opts.Environment = EnvironmentProduction
	}
	return &Service{
		store:    store,
		users:    users,
		idem:     idem,
		secret:   opts.WebhookSecret,
		env:      opts.Environment,
		clock:    opts.Clock,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		enroller: opts.Enroller,
		metrics:  opts.Metrics,
		log:      logging.Component("billing"),
	}
}

// Result describes what happened to one delivery.
type Result struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"type"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// HandleWebhook authenticates, parses and applies one delivery. A non-nil
// error means the delivery must be answered with a failure status:
// ErrUnauthorized, ErrMalformedEvent, or a store failure that the provider
// should redeliver. Duplicates, ignored events and unknown subjects are
// successful results.
func (s *Service) HandleWebhook(ctx context.Context, authorization string, body []byte) (Result, error) {
	if !VerifyBearerSecret(authorization, s.secret) {
		s.metrics.ObserveWebhook("unknown", "unauthorized")
		s.log.Warn().Msg("Rejected billing webhook with invalid credential")
		return Result{Outcome: "unauthorized"}, ErrUnauthorized
	}

	ev, err := ParseEvent(body)
	if err != nil {
		s.metrics.ObserveWebhook("unknown", "malformed")
		s.log.Warn().Err(err).Msg("Rejected malformed billing webhook")
		return Result{Outcome: "malformed"}, err
	}

	res, err := s.ApplyEvent(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		res.Outcome = models.WebhookOutcomeDuplicate
		err = nil
	case errors.Is(err, ErrUnknownSubject):
		res.Outcome = models.WebhookOutcomeUnknownSubject
		res.Detail = err.Error()
		err = nil
	default:
		res.Outcome = models.WebhookOutcomeFailed
		res.Detail = err.Error()
	}

	s.metrics.ObserveWebhook(string(ev.Type), res.Outcome)
	s.record(ctx, ev, res, string(body))
	return res, err
}

// ApplyEvent runs one parsed event through the idempotency cache and the
// state machine. It returns ErrDuplicate for an event id seen within the
// cache TTL and ErrUnknownSubject when the subject cannot be resolved.
func (s *Service) ApplyEvent(ctx context.Context, ev *WebhookEvent) (Result, error) {
	res := Result{EventID: ev.ID, EventType: ev.Type}
	logger := s.log.With().Str("event_id", ev.ID).Str("type", string(ev.Type)).Logger()

	if s.env == EnvironmentProduction && ev.NormalizedEnvironment() != EnvironmentProduction {
		res.Outcome = models.WebhookOutcomeIgnored
		res.Detail = "sandbox event in production"
		logger.Info().Msg("Dropped non-production billing event")
		return res, nil
	}

	claimed, err := s.idem.Claim(ctx, ev.ID)
	if err != nil {
		return res, fmt.Errorf("idempotency check: %w", err)
	}
	if !claimed {
		logger.Info().Msg("Duplicate billing event skipped")
		return res, ErrDuplicate
	}

	res, err = s.apply(ctx, ev, res)
	if err != nil && !errors.Is(err, ErrUnknownSubject) {
		// Forget the id so the provider's redelivery gets a fresh attempt.
		if relErr := s.idem.Release(ctx, ev.ID); relErr != nil {
			logger.Error().Err(relErr).Msg("Failed to release idempotency key")
		}
		logger.Error().Err(err).Msg("Failed to apply billing event")
		return res, err
	}
	if errors.Is(err, ErrUnknownSubject) {
		logger.Warn().Str("subject", ev.Subject().Raw).Msg("Dropped billing event for unknown subject")
	}
	return res, err
}

func (s *Service) apply(ctx context.Context, ev *WebhookEvent, res Result) (Result, error) {
	switch ev.Type {
	case EventTransfer, EventSubscriptionPaused, EventTest:
		res.Outcome = models.WebhookOutcomeIgnored
		res.Detail = "event type is informational"
		s.log.Info().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("Ignored informational billing event")
		return res, nil
	}

	subject := ev.Subject()
	switch subject.Kind {
	case SubjectUser:
		return s.applyToUser(ctx, ev, subject.ID, res)
	case SubjectClub:
		return s.applyToClub(ctx, ev, subject.ID, res)
	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownSubject, subject.Raw)
	}
}

func (s *Service) applyToUser(ctx context.Context, ev *WebhookEvent, userID uint, res Result) (Result, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load user %d: %w", userID, err)
	}
	if user == nil {
		return res, fmt.Errorf("%w: user %d", ErrUnknownSubject, userID)
	}

	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load entitlement for user %d: %w", userID, err)
	}
	current := FreeState()
	if record != nil {
		current = BillingState{Tier: record.Tier, Status: record.Status, PeriodEnd: record.PeriodEnd, CustomerID: record.BillingProviderCustomerID}
	} else {
		record = &models.EntitlementRecord{UserID: userID, Source: models.SourceIndividual}
	}

	plan, err := ResolvePlan(ctx, s.store, models.BillingProviderRevenueCat, planProductID(ev))
	if err != nil {
		return res, fmt.Errorf("resolve plan %q: %w", planProductID(ev), err)
	}

	now := s.clock.Now()
	tr := Apply(current, ev, plan, now)
	if tr.Ignored {
		res.Outcome = models.WebhookOutcomeIgnored
		res.Detail = tr.Reason
		return res, nil
	}

	occurred := ev.OccurredAt(now)
	record.Tier = tr.Next.Tier
	record.Status = tr.Next.Status
	record.PeriodEnd = tr.Next.PeriodEnd
	record.BillingProviderCustomerID = tr.Next.CustomerID
	record.Provider = models.BillingProviderRevenueCat
	if plan.ProductID != "" {
		record.ProductID = plan.ProductID
	}
	record.LastEventID = ev.ID
	record.LastEventAt = &occurred
	if err := s.store.Upsert(ctx, record); err != nil {
		return res, fmt.Errorf("upsert entitlement for user %d: %w", userID, err)
	}

	res.Outcome = models.WebhookOutcomeApplied
	s.log.Info().
		Str("event_id", ev.ID).
		Uint("user_id", userID).
		Str("tier", string(record.Tier)).
		Str("status", string(record.Status)).
		Msg("Applied billing event")

	if tr.FirstPurchase {
		s.sendWelcome(ctx, userID, now)
	}
	if tr.StartedTrial && s.enroller != nil {
		if _, err := s.enroller.Enroll(ctx, userID, models.SequenceTrial, now); err != nil {
			s.log.Error().Err(err).Uint("user_id", userID).Msg("Failed to enroll user in trial sequence")
			res.Detail = "trial enrollment failed: " + err.Error()
		}
	}
	return res, nil
}

// sendWelcome fires the welcome side effect at most once per user, guarded by
// a conditional update independent of the idempotency cache. A transient
// dispatch failure releases the marker so a later redelivery can retry.
func (s *Service) sendWelcome(ctx context.Context, userID uint, now time.Time) {
	at := now.UTC().Truncate(time.Second)
	won, err := s.store.MarkWelcomeSent(ctx, userID, at)
	if err != nil {
		s.log.Error().Err(err).Uint("user_id", userID).Msg("Failed to set welcome marker")
		return
	}
	if !won || s.notifier == nil {
		return
	}
	err = s.notifier.NotifyWelcome(ctx, userID)
	if err == nil {
		return
	}
	if mail.IsPermanent(err) {
		s.log.Error().Err(err).Uint("user_id", userID).Msg("Welcome notification rejected permanently")
		return
	}
	s.log.Warn().Err(err).Uint("user_id", userID).Msg("Failed to dispatch welcome notification, releasing marker")
	if err := s.store.ClearWelcomeSent(ctx, userID, at); err != nil {
		s.log.Error().Err(err).Uint("user_id", userID).Msg("Failed to release welcome marker")
	}
}

func (s *Service) applyToClub(ctx context.Context, ev *WebhookEvent, clubID uint, res Result) (Result, error) {
	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return res, fmt.Errorf("load club %d: %w", clubID, err)
	}
	if club == nil {
		return res, fmt.Errorf("%w: club %d", ErrUnknownSubject, clubID)
	}

	plan, err := ResolvePlan(ctx, s.store, models.BillingProviderRevenueCat, planProductID(ev))
	if err != nil {
		return res, fmt.Errorf("resolve plan %q: %w", planProductID(ev), err)
	}

	now := s.clock.Now()
	current := BillingState{Tier: club.Tier, Status: club.Status, PeriodEnd: club.PeriodEnd, CustomerID: club.BillingProviderCustomerID}
	tr := Apply(current, ev, plan, now)
	if tr.Ignored {
		res.Outcome = models.WebhookOutcomeIgnored
		res.Detail = tr.Reason
		return res, nil
	}

	occurred := ev.OccurredAt(now)
	club.Tier = tr.Next.Tier
	club.Status = tr.Next.Status
	club.PeriodEnd = tr.Next.PeriodEnd
	club.BillingProviderCustomerID = tr.Next.CustomerID
	if plan.ProductID != "" {
		club.ProductID = plan.ProductID
	}
	club.LastEventID = ev.ID
	club.LastEventAt = &occurred
	if err := s.store.SaveClub(ctx, club); err != nil {
		return res, fmt.Errorf("save club %d: %w", clubID, err)
	}

	res.Outcome = models.WebhookOutcomeApplied
	s.log.Info().
		Str("event_id", ev.ID).
		Uint("club_id", clubID).
		Str("status", string(club.Status)).
		Msg("Applied billing event to club")
	return res, nil
}

func (s *Service) record(ctx context.Context, ev *WebhookEvent, res Result, payload string) {
	if s.audit == nil {
		return
	}
	entry := &models.WebhookEventLog{
		Provider:    models.BillingProviderRevenueCat,
		EventID:     ev.ID,
		EventType:   string(ev.Type),
		SubjectID:   ev.Subject().Raw,
		Environment: ev.NormalizedEnvironment(),
		Outcome:     res.Outcome,
		Detail:      res.Detail,
		PayloadJSON: payload,
	}
	if err := s.audit.LogWebhook(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to write webhook audit log")
	}
}

// SweepResult reports how many subjects the expiry sweep downgraded.
type SweepResult struct {
	Records int64 `json:"records"`
	Clubs   int64 `json:"clubs"`
}

// SweepExpired downgrades records and clubs whose period has ended.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	records, clubs, err := s.store.ExpireLapsed(ctx, s.clock.Now())
	if err != nil {
		return SweepResult{Records: records, Clubs: clubs}, fmt.Errorf("expire lapsed entitlements: %w", err)
	}
	if records > 0 || clubs > 0 {
		s.log.Info().Int64("records", records).Int64("clubs", clubs).Msg("Expired lapsed entitlements")
	}
	return SweepResult{Records: records, Clubs: clubs}, nil
}
