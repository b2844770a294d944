package models

import "time"

const (
	MembershipActive  = "active"
	MembershipRemoved = "removed"
)

// Club is a group account billed on its own subscription; members inherit
// the club's entitlement for as long as both the membership and the club's
// billing state are good.
type Club struct {
	ID                        uint              `gorm:"primaryKey" json:"id"`
	Name                      string            `gorm:"type:varchar(150);not null" json:"name"`
	Tier                      Tier              `gorm:"type:varchar(20);not null;default:'pro'" json:"tier"`
	Status                    EntitlementStatus `gorm:"type:varchar(20);not null;default:'inactive';index" json:"status"`
	PeriodEnd                 *time.Time        `gorm:"type:timestamp;default:null;index" json:"period_end,omitempty"`
	ProductID                 string            `gorm:"type:varchar(191);default:''" json:"product_id"`
	BillingProviderCustomerID *string           `gorm:"type:varchar(191);default:null" json:"billing_provider_customer_id,omitempty"`
	LastEventID               string            `gorm:"type:varchar(191);default:''" json:"last_event_id"`
	LastEventAt               *time.Time        `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt                 time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitledAt reports whether the club's own billing state is good at now.
func (c *Club) IsEntitledAt(now time.Time) bool {
	return c != nil && EntitledAt(c.Status, c.PeriodEnd, now)
}

// ClubMembership links a user to at most one club.
type ClubMembership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	ClubID    uint      `gorm:"not null;index" json:"club_id"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *ClubMembership) IsActive() bool {
	return m != nil && m.Status == MembershipActive
}
