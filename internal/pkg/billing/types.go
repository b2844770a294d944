package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnauthorized   = errors.New("billing: webhook credential rejected")
	ErrMalformedEvent = errors.New("billing: malformed webhook event")
	ErrDuplicate      = errors.New("billing: duplicate event")
	ErrUnknownSubject = errors.New("billing: unknown subject")
)

// EventType is the provider's event type string.
type EventType string

const (
	EventInitialPurchase     EventType = "INITIAL_PURCHASE"
	EventRenewal             EventType = "RENEWAL"
	EventNonRenewingPurchase EventType = "NON_RENEWING_PURCHASE"
	EventCancellation        EventType = "CANCELLATION"
	EventUncancellation      EventType = "UNCANCELLATION"
	EventExpiration          EventType = "EXPIRATION"
	EventBillingIssue        EventType = "BILLING_ISSUE"
	EventProductChange       EventType = "PRODUCT_CHANGE"
	EventTransfer            EventType = "TRANSFER"
	EventSubscriptionPaused  EventType = "SUBSCRIPTION_PAUSED"
	EventTest                EventType = "TEST"
)

const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"

	PeriodTypeTrial  = "TRIAL"
	PeriodTypeIntro  = "INTRO"
	PeriodTypeNormal = "NORMAL"
)

// Envelope is the delivery body posted by the billing provider.
type Envelope struct {
	APIVersion string       `json:"api_version"`
	Event      WebhookEvent `json:"event"`
}

// WebhookEvent carries only the fields the state machine branches on.
type WebhookEvent struct {
	ID                string    `json:"id" validate:"required,max=191"`
	Type              EventType `json:"type" validate:"required"`
	AppUserID         string    `json:"app_user_id"`
	OriginalAppUserID string    `json:"original_app_user_id"`
	Aliases           []string  `json:"aliases"`
	ProductID         string    `json:"product_id"`
	NewProductID      string    `json:"new_product_id"`
	PeriodType        string    `json:"period_type"`
	ExpirationAtMs    *int64    `json:"expiration_at_ms"`
	EventTimestampMs  int64     `json:"event_timestamp_ms"`
	Environment       string    `json:"environment" validate:"omitempty,oneof=SANDBOX PRODUCTION sandbox production"`
	Store             string    `json:"store"`
}

var validate = validator.New()

// ParseEvent decodes and validates a webhook body. Every failure wraps
// ErrMalformedEvent.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	env.Event.ID = strings.TrimSpace(env.Event.ID)
	env.Event.Type = EventType(strings.ToUpper(strings.TrimSpace(string(env.Event.Type))))
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &env.Event, nil
}

// NormalizedEnvironment maps the provider's environment onto production or
// sandbox. A missing value is treated as production.
func (e *WebhookEvent) NormalizedEnvironment() string {
	if strings.EqualFold(strings.TrimSpace(e.Environment), EnvironmentSandbox) {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}

// ExpiresAt returns the provider supplied period end, if any.
func (e *WebhookEvent) ExpiresAt() *time.Time {
	if e.ExpirationAtMs == nil || *e.ExpirationAtMs <= 0 {
		return nil
	}
	t := time.UnixMilli(*e.ExpirationAtMs).UTC()
	return &t
}

// OccurredAt returns the provider's event timestamp, or fallback when absent.
func (e *WebhookEvent) OccurredAt(fallback time.Time) time.Time {
	if e.EventTimestampMs <= 0 {
		return fallback
	}
	return time.UnixMilli(e.EventTimestampMs).UTC()
}

func (e *WebhookEvent) IsTrial() bool {
	return strings.EqualFold(e.PeriodType, PeriodTypeTrial)
}

// SubjectKind says what a webhook subject id points at.
type SubjectKind int

const (
	SubjectUnknown SubjectKind = iota
	SubjectUser
	SubjectClub
)

const clubSubjectPrefix = "club:"

// Subject is the resolved target of an event.
type Subject struct {
	Kind SubjectKind
	ID   uint
	Raw  string
}

// Subject picks the first parseable id from app_user_id, original_app_user_id
// and aliases. Provider-generated anonymous ids never parse.
func (e *WebhookEvent) Subject() Subject {
	candidates := append([]string{e.AppUserID, e.OriginalAppUserID}, e.Aliases...)
	first := ""
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if first == "" {
			first = raw
		}
		if s, ok := parseSubject(raw); ok {
			return s
		}
	}
	return Subject{Kind: SubjectUnknown, Raw: first}
}

func parseSubject(raw string) (Subject, bool) {
	kind := SubjectUser
	idPart := raw
	if strings.HasPrefix(strings.ToLower(raw), clubSubjectPrefix) {
		kind = SubjectClub
		idPart = raw[len(clubSubjectPrefix):]
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return Subject{}, false
	}
	return Subject{Kind: kind, ID: uint(id), Raw: raw}, true
}
