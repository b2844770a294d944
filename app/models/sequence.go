package models

import "time"

// SequenceName identifies a drip sequence definition.
type SequenceName string

const (
	SequenceOnboarding SequenceName = "onboarding"
	SequenceTrial      SequenceName = "trial"
	SequenceWinback    SequenceName = "winback"
)

// Pause reasons stored on SequenceRecord.
const (
	PauseReasonOptOut        = "opt_out"
	PauseReasonUpgraded      = "upgraded"
	PauseReasonConverted     = "trial_converted"
	PauseReasonDeclined      = "trial_declined"
	PauseReasonPermanentFail = "permanent_failure"
	PauseReasonUserGone      = "user_gone"
	PauseReasonSuperseded    = "superseded"
)

// SequenceRecord tracks one user's progress through one drip sequence.
// Records are never deleted; they back the re-entry cooldown and the audit trail.
type SequenceRecord struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       uint         `gorm:"not null;index:idx_sequence_records_user_name,priority:1" json:"user_id"`
	SequenceName SequenceName `gorm:"type:varchar(50);not null;index:idx_sequence_records_user_name,priority:2" json:"sequence_name"`
	CurrentStep  int          `gorm:"not null;default:0" json:"current_step"`
	StartedAt    time.Time    `gorm:"type:timestamp;not null" json:"started_at"`
	NextSendAt   *time.Time   `gorm:"type:timestamp;default:null;index:idx_sequence_records_due,priority:3" json:"next_send_at,omitempty"`
	Completed    bool         `gorm:"not null;default:false;index:idx_sequence_records_due,priority:1" json:"completed"`
	Paused       bool         `gorm:"not null;default:false;index:idx_sequence_records_due,priority:2" json:"paused"`
	PauseReason  string       `gorm:"type:varchar(32);default:''" json:"pause_reason"`
	LastSentAt   *time.Time   `gorm:"type:timestamp;default:null" json:"last_sent_at,omitempty"`
	ClaimToken   string       `gorm:"type:varchar(64);default:''" json:"-"`
	ClaimedUntil *time.Time   `gorm:"type:timestamp;default:null" json:"-"`
	OpenUserID   *uint        `gorm:"uniqueIndex:ux_sequence_records_open_user" json:"-"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOpen reports whether the record still counts as an in-flight sequence.
func (r *SequenceRecord) IsOpen() bool {
	return r != nil && !r.Completed
}

// SyncOpenMarker sets OpenUserID to UserID while the record is open and to
// NULL once completed. The unique index on it allows one open sequence per user.
func (r *SequenceRecord) SyncOpenMarker() {
	if r.Completed {
		r.OpenUserID = nil
		return
	}
	id := r.UserID
	r.OpenUserID = &id
}

// IsDueAt reports whether the scheduler should pick the record up at now.
func (r *SequenceRecord) IsDueAt(now time.Time) bool {
	return r != nil && !r.Completed && !r.Paused && r.NextSendAt != nil && !r.NextSendAt.After(now)
}

// Outcomes recorded for every sequence step attempt.
const (
	SendOutcomeSent    = "sent"
	SendOutcomeFailed  = "failed"
	SendOutcomeSkipped = "skipped"
)

// SequenceSendLog is the append-only audit trail of sequence send attempts.
type SequenceSendLog struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	SequenceRecordID uint         `gorm:"not null;index" json:"sequence_record_id"`
	UserID           uint         `gorm:"not null;index" json:"user_id"`
	SequenceName     SequenceName `gorm:"type:varchar(50);not null" json:"sequence_name"`
	Step             int          `gorm:"not null" json:"step"`
	TemplateID       string       `gorm:"type:varchar(100);default:''" json:"template_id"`
	Outcome          string       `gorm:"type:varchar(16);not null;index" json:"outcome"`
	Permanent        bool         `gorm:"default:false" json:"permanent"`
	Detail           string       `gorm:"type:text" json:"detail"`
	CreatedAt        time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}
