package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageCounterBump(t *testing.T) {
	c := &UsageCounter{}

	c.Bump("2026-03-14", "2026-03")
	c.Bump("2026-03-14", "2026-03")
	assert.Equal(t, 2, c.DailyAt("2026-03-14"))
	assert.Equal(t, 2, c.MonthlyAt("2026-03"))

	c.Bump("2026-03-15", "2026-03")
	assert.Equal(t, 1, c.DailyAt("2026-03-15"))
	assert.Equal(t, 0, c.DailyAt("2026-03-14"))
	assert.Equal(t, 3, c.MonthlyAt("2026-03"))

	c.Bump("2026-04-01", "2026-04")
	assert.Equal(t, 1, c.MonthlyAt("2026-04"))
	assert.Equal(t, int64(4), c.LifetimeCount)
}

func TestUsageCounterNilReadsZero(t *testing.T) {
	var c *UsageCounter
	assert.Equal(t, 0, c.DailyAt("2026-03-14"))
	assert.Equal(t, 0, c.MonthlyAt("2026-03"))
}
