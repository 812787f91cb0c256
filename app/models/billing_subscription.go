package models

import (
	"fmt"
	"strings"
	"time"
)

// SubscriptionStatus is the closed set of subscription states mirrored from
// the billing provider.
type SubscriptionStatus string

const (
	BillingStatusNotStarted        SubscriptionStatus = "not_started"
	BillingStatusIncomplete        SubscriptionStatus = "incomplete"
	BillingStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	BillingStatusTrialing          SubscriptionStatus = "trialing"
	BillingStatusActive            SubscriptionStatus = "active"
	BillingStatusPastDue           SubscriptionStatus = "past_due"
	BillingStatusCanceled          SubscriptionStatus = "canceled"
	BillingStatusUnpaid            SubscriptionStatus = "unpaid"
	BillingStatusPaused            SubscriptionStatus = "paused"
)

var subscriptionStatuses = []SubscriptionStatus{
	BillingStatusNotStarted,
	BillingStatusIncomplete,
	BillingStatusIncompleteExpired,
	BillingStatusTrialing,
	BillingStatusActive,
	BillingStatusPastDue,
	BillingStatusCanceled,
	BillingStatusUnpaid,
	BillingStatusPaused,
}

// ParseSubscriptionStatus decodes a provider status string. Values outside
// the known set are rejected instead of stored.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range subscriptionStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown subscription status %q", raw)
}

// BillingSubscription is the latest known snapshot of a customer's
// subscription. There is at most one row per customer; every reconciliation
// overwrites it completely.
type BillingSubscription struct {
	ID                 uint               `gorm:"primaryKey" json:"-"`
	CustomerID         string             `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_subscriptions_customer" json:"customer_id"`
	SubscriptionID     *string            `gorm:"type:varchar(191);default:null" json:"subscription_id"`
	Status             SubscriptionStatus `gorm:"type:varchar(32);not null;default:'not_started';index" json:"subscription_status"`
	PriceID            *string            `gorm:"type:varchar(191);default:null" json:"price_id"`
	CurrentPeriodStart *int64             `gorm:"default:null" json:"current_period_start"`
	CurrentPeriodEnd   *int64             `gorm:"default:null" json:"current_period_end"`
	CancelAtPeriodEnd  bool               `gorm:"default:false" json:"cancel_at_period_end"`
	PaymentMethodBrand *string            `gorm:"type:varchar(32);default:null" json:"payment_method_brand"`
	PaymentMethodLast4 *string            `gorm:"type:varchar(4);default:null" json:"payment_method_last4"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"-"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive grants premium access. It is evaluated against the caller's clock
// and never persisted.
func (s *BillingSubscription) IsActive(now time.Time) bool {
	if s == nil || s.Status != BillingStatusActive || s.CurrentPeriodEnd == nil {
		return false
	}
	return *s.CurrentPeriodEnd > now.Unix()
}

// IsTerminal reports whether the subscription can no longer grant access
// without a new checkout. A missing record counts as terminal.
func (s *BillingSubscription) IsTerminal() bool {
	if s == nil {
		return true
	}
	switch s.Status {
	case BillingStatusNotStarted, BillingStatusCanceled, BillingStatusIncompleteExpired:
		return true
	}
	return false
}

// SameSnapshot compares the business fields of two records, ignoring
// bookkeeping columns.
func (s *BillingSubscription) SameSnapshot(o *BillingSubscription) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.CustomerID == o.CustomerID &&
		s.Status == o.Status &&
		s.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		eqString(s.SubscriptionID, o.SubscriptionID) &&
		eqString(s.PriceID, o.PriceID) &&
		eqInt64(s.CurrentPeriodStart, o.CurrentPeriodStart) &&
		eqInt64(s.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		eqString(s.PaymentMethodBrand, o.PaymentMethodBrand) &&
		eqString(s.PaymentMethodLast4, o.PaymentMethodLast4)
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
