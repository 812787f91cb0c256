package models

import (
	"time"

	"gorm.io/gorm"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingCustomer maps a provider customer to a local user. Rows are only
// ever soft-deleted so the mapping history stays auditable. The migration
// adds a generated active_user_id column so a user holds at most one
// non-deleted mapping.
type BillingCustomer struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     string         `gorm:"type:char(36);not null;index" json:"user_id"`
	CustomerID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_customers_customer" json:"customer_id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the mapping was soft-deleted.
func (c *BillingCustomer) IsDeleted() bool {
	return c.DeletedAt.Valid
}
