package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "buyer@example.com", NormalizeEmail("  Buyer@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNewCheckoutUser(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)

	u, err := NewCheckoutUser(" New.Buyer@Example.com", now)
	require.NoError(t, err)

	assert.Equal(t, "new.buyer@example.com", u.Email)
	assert.Equal(t, USER_SOURCE_CHECKOUT, u.Source)
	assert.True(t, u.IsEmailConfirmed())
	assert.Equal(t, now, *u.EmailConfirmedAt)
	_, err = uuid.Parse(u.ID)
	assert.NoError(t, err)
}

func TestNewCheckoutUserRejectsInvalidEmail(t *testing.T) {
	_, err := NewCheckoutUser("not-an-email", time.Now())
	assert.Error(t, err)

	_, err = NewCheckoutUser("", time.Now())
	assert.Error(t, err)
}
