package models

import "time"

const (
	BillingProviderRevenueCat = "revenuecat"
)

const (
	BillingIntervalWeek     = "week"
	BillingIntervalMonth    = "month"
	BillingIntervalYear     = "year"
	BillingIntervalLifetime = "lifetime"
	BillingIntervalUnknown  = "unknown"
)

// BillingPlanMapping maps provider product ids to internal tiers and billing
// cadence. Cadence is used when an event carries no expiry of its own.
type BillingPlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_billing_plan_mappings_ref,unique,priority:1" json:"provider"`
	ProviderPlanRef string    `gorm:"type:varchar(191);not null;index:ux_billing_plan_mappings_ref,unique,priority:2" json:"provider_plan_ref"`
	InternalPlan    Tier      `gorm:"type:varchar(20);not null;default:'free'" json:"internal_plan"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
