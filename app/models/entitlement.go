package models

import "time"

// Tier is the feature level a user is entitled to.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

// EntitlementStatus is the billing lifecycle status of a record.
type EntitlementStatus string

const (
	StatusActive   EntitlementStatus = "active"
	StatusTrialing EntitlementStatus = "trialing"
	StatusCanceled EntitlementStatus = "canceled"
	StatusPastDue  EntitlementStatus = "past_due"
	StatusInactive EntitlementStatus = "inactive"
)

// Source names the truth provider that justified an entitlement.
type Source string

const (
	SourceIndividual Source = "individual"
	SourceClub       Source = "club"
	SourceTester     Source = "tester"
	SourceNone       Source = "none"
)

// Rank orders tiers so that upgrades and downgrades can be compared.
func (t Tier) Rank() int {
	switch t {
	case TierProPlus:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// IsPaid reports whether the tier unlocks paid features.
func (t Tier) IsPaid() bool {
	return t == TierPro || t == TierProPlus
}

// EntitledAt applies the expiry rules shared by every reader: only an active
// status may carry no expiry (lifetime grants); every other entitling status
// needs a period end in the future. Stale rows are never trusted.
func EntitledAt(status EntitlementStatus, periodEnd *time.Time, now time.Time) bool {
	switch status {
	case StatusActive:
		return periodEnd == nil || periodEnd.After(now)
	case StatusTrialing, StatusPastDue, StatusCanceled:
		return periodEnd != nil && periodEnd.After(now)
	default:
		return false
	}
}

// EntitlementRecord stores one authoritative (tier, status, period_end) triple
// per user and source.
type EntitlementRecord struct {
	ID                        uint              `gorm:"primaryKey" json:"id"`
	UserID                    uint              `gorm:"not null;index:ux_entitlement_records_user_source,unique,priority:1" json:"user_id"`
	Source                    Source            `gorm:"type:varchar(20);not null;default:'individual';index:ux_entitlement_records_user_source,unique,priority:2" json:"source"`
	Tier                      Tier              `gorm:"type:varchar(20);not null;default:'free'" json:"tier"`
	Status                    EntitlementStatus `gorm:"type:varchar(20);not null;default:'inactive';index" json:"status"`
	PeriodEnd                 *time.Time        `gorm:"type:timestamp;default:null;index" json:"period_end,omitempty"`
	ProductID                 string            `gorm:"type:varchar(191);default:''" json:"product_id"`
	Provider                  string            `gorm:"type:varchar(20);default:''" json:"provider"`
	BillingProviderCustomerID *string           `gorm:"type:varchar(191);default:null" json:"billing_provider_customer_id,omitempty"`
	WelcomeSentAt             *time.Time        `gorm:"type:timestamp;default:null" json:"welcome_sent_at,omitempty"`
	LastEventID               string            `gorm:"type:varchar(191);default:''" json:"last_event_id"`
	LastEventAt               *time.Time        `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt                 time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitledAt reports whether the record grants a paid tier at now.
func (r *EntitlementRecord) IsEntitledAt(now time.Time) bool {
	return r != nil && r.Tier.IsPaid() && EntitledAt(r.Status, r.PeriodEnd, now)
}
