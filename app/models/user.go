package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the engine's read model of an account owned by the auth provider.
// Only the fields the lifecycle logic branches on are mirrored here.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email        string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	Status       string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	EmailOptOut  bool           `gorm:"default:false" json:"email_opt_out"`
	LastActiveAt *time.Time     `gorm:"type:timestamp;default:null;index" json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NormalizedEmail is the lower-cased, trimmed address used for allow-list matching.
func (u *User) NormalizedEmail() string {
	if u == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(u.Email))
}

// CanReceiveEmail reports whether lifecycle mail may be sent to this user.
func (u *User) CanReceiveEmail() bool {
	return u != nil && !u.EmailOptOut && u.Status != STATUS_DISABLED && strings.TrimSpace(u.Email) != ""
}

// FirstName returns the first token of the display name for greetings.
func (u *User) FirstName() string {
	if u == nil {
		return ""
	}
	fields := strings.Fields(u.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
