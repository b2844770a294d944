package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserCanReceiveEmail(t *testing.T) {
	u := &User{Email: "ana@example.com", Status: STATUS_ACTIVE}
	assert.True(t, u.CanReceiveEmail())

	u.EmailOptOut = true
	assert.False(t, u.CanReceiveEmail())

	u.EmailOptOut = false
	u.Status = STATUS_DISABLED
	assert.False(t, u.CanReceiveEmail())

	assert.False(t, (&User{Email: "  ", Status: STATUS_ACTIVE}).CanReceiveEmail())
	var missing *User
	assert.False(t, missing.CanReceiveEmail())
}

func TestUserNames(t *testing.T) {
	u := &User{Name: "  Ana Maria Lopez ", Email: " Ana@Example.COM "}
	assert.Equal(t, "Ana", u.FirstName())
	assert.Equal(t, "ana@example.com", u.NormalizedEmail())
	assert.Equal(t, "", (&User{}).FirstName())
}

func TestUserValidate(t *testing.T) {
	assert.NoError(t, (&User{Email: "ana@example.com", Status: STATUS_ACTIVE}).Validate())
	assert.Error(t, (&User{Email: "not-an-email", Status: STATUS_ACTIVE}).Validate())
}
