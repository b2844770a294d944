package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
)

// BillingState is the (tier, status, period_end) triple a webhook mutates,
// shared by individual records and clubs.
type BillingState struct {
	Tier       models.Tier
	Status     models.EntitlementStatus
	PeriodEnd  *time.Time
	CustomerID *string
}

// FreeState is the state of a subject that never paid.
func FreeState() BillingState {
	return BillingState{Tier: models.TierFree, Status: models.StatusInactive}
}

// Transition is the outcome of applying one event to one state.
type Transition struct {
	Next BillingState
	// Ignored means the event does not change this state.
	Ignored bool
	Reason  string
	// FirstPurchase marks the event that may trigger the welcome side effect.
	FirstPurchase bool
	StartedTrial  bool
}

// live reports whether a state still represents a paid relationship worth
// narrowing; events that only narrow never act on a dead subscription.
func (s BillingState) live() bool {
	return s.Tier.IsPaid() && s.Status != models.StatusInactive
}

// Apply is the pure webhook transition function. Only purchase and renewal
// events may move a subject from free to a paid state, so a late
// cancellation or billing issue never resurrects an expired subscription.
func Apply(current BillingState, ev *WebhookEvent, plan Plan, now time.Time) Transition {
	next := current
	expiresAt := ev.ExpiresAt()

	switch ev.Type {
	case EventInitialPurchase, EventRenewal, EventNonRenewingPurchase:
		next.Tier = plan.Tier
		next.Status = models.StatusActive
		trial := ev.Type == EventInitialPurchase && ev.IsTrial()
		if trial {
			next.Status = models.StatusTrialing
		}
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		} else {
			next.PeriodEnd = CadencePeriodEnd(plan.Interval, ev.OccurredAt(now))
		}
		if trial && next.PeriodEnd == nil {
			// A trial without an end would never lapse.
			next.PeriodEnd = CadencePeriodEnd(models.BillingIntervalWeek, ev.OccurredAt(now))
		}
		if id := customerID(ev); id != nil {
			next.CustomerID = id
		}
		return Transition{
			Next:          next,
			FirstPurchase: ev.Type == EventInitialPurchase,
			StartedTrial:  trial,
		}

	case EventCancellation:
		if !current.live() {
			return ignored(current, "no live subscription to cancel")
		}
		next.Status = models.StatusCanceled
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		}
		return Transition{Next: next}

	case EventUncancellation:
		if !current.live() || current.Status != models.StatusCanceled {
			return ignored(current, "subscription is not canceled")
		}
		next.Status = models.StatusActive
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		}
		return Transition{Next: next}

	case EventExpiration:
		next.Tier = models.TierFree
		next.Status = models.StatusInactive
		next.CustomerID = nil
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		}
		return Transition{Next: next}

	case EventBillingIssue:
		if !current.live() {
			return ignored(current, "no live subscription")
		}
		next.Status = models.StatusPastDue
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		}
		return Transition{Next: next}

	case EventProductChange:
		if !current.live() {
			return ignored(current, "no live subscription to change")
		}
		if plan.ProductID != "" {
			next.Tier = plan.Tier
		}
		if expiresAt != nil {
			next.PeriodEnd = expiresAt
		}
		return Transition{Next: next}

	case EventTransfer, EventSubscriptionPaused, EventTest:
		return ignored(current, "event type is informational")

	default:
		return ignored(current, "unsupported event type")
	}
}

func ignored(current BillingState, reason string) Transition {
	return Transition{Next: current, Ignored: true, Reason: reason}
}

func customerID(ev *WebhookEvent) *string {
	for _, raw := range []string{ev.OriginalAppUserID, ev.AppUserID} {
		if id := strings.TrimSpace(raw); id != "" {
			return &id
		}
	}
	return nil
}

// planProductID picks the product the event is about.
func planProductID(ev *WebhookEvent) string {
	if ev.Type == EventProductChange && strings.TrimSpace(ev.NewProductID) != "" {
		return ev.NewProductID
	}
	return ev.ProductID
}
