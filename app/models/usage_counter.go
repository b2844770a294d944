package models

import "time"

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// UsageCounter holds per-user, per-feature consumption counters. Period
// markers are compared lazily; a stale marker reads as zero.
type UsageCounter struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:ux_usage_counters_user_kind,unique,priority:1" json:"user_id"`
	Kind           string    `gorm:"type:varchar(50);not null;index:ux_usage_counters_user_kind,unique,priority:2" json:"kind"`
	DailyCount     int       `gorm:"not null;default:0" json:"daily_count"`
	LastCountDate  string    `gorm:"type:char(10);default:''" json:"last_count_date"`
	MonthlyCount   int       `gorm:"not null;default:0" json:"monthly_count"`
	LastCountMonth string    `gorm:"type:char(7);default:''" json:"last_count_month"`
	LifetimeCount  int64     `gorm:"not null;default:0" json:"lifetime_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DailyAt returns the daily count as seen on the given day marker.
func (c *UsageCounter) DailyAt(day string) int {
	if c == nil || c.LastCountDate != day {
		return 0
	}
	return c.DailyCount
}

// MonthlyAt returns the monthly count as seen in the given month marker.
func (c *UsageCounter) MonthlyAt(month string) int {
	if c == nil || c.LastCountMonth != month {
		return 0
	}
	return c.MonthlyCount
}

// Bump resets any stale period and then counts one use.
func (c *UsageCounter) Bump(day, month string) {
	if c.LastCountDate != day {
		c.DailyCount = 0
		c.LastCountDate = day
	}
	if c.LastCountMonth != month {
		c.MonthlyCount = 0
		c.LastCountMonth = month
	}
	c.DailyCount++
	c.MonthlyCount++
	c.LifetimeCount++
}
