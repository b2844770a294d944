package models

import "time"

// Outcomes recorded for every received billing webhook.
const (
	WebhookOutcomeApplied        = "applied"
	WebhookOutcomeDuplicate      = "duplicate"
	WebhookOutcomeIgnored        = "ignored"
	WebhookOutcomeUnknownSubject = "unknown_subject"
	WebhookOutcomeFailed         = "failed"
)

// WebhookEventLog is the append-only audit trail of billing webhook deliveries.
// Duplicates are logged too; deduplication itself lives in the idempotency cache.
type WebhookEventLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	EventID     string    `gorm:"type:varchar(191);not null;default:'';index" json:"event_id"`
	EventType   string    `gorm:"type:varchar(64);not null;index" json:"event_type"`
	SubjectID   string    `gorm:"type:varchar(191);default:''" json:"subject_id"`
	Environment string    `gorm:"type:varchar(20);default:''" json:"environment"`
	Outcome     string    `gorm:"type:varchar(32);not null;index" json:"outcome"`
	Detail      string    `gorm:"type:text" json:"detail"`
	PayloadJSON string    `gorm:"type:longtext" json:"payload_json"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
