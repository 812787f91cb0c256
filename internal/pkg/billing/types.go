package billing

import (
	"time"

	"github.com/ManuelReschke/subsync/app/models"
)

// ProviderSubscription is the provider-agnostic shape of the most recent
// subscription read from the billing provider.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CardBrand          string
	CardLast4          string
}

// CheckoutMode selects between one-off payments and recurring subscriptions.
type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// CheckoutRequest is the validated input of StartCheckout.
type CheckoutRequest struct {
	PriceID       string       `json:"price_id" validate:"required,max=191"`
	Mode          CheckoutMode `json:"mode" validate:"omitempty,oneof=payment subscription"`
	SuccessURL    string       `json:"success_url" validate:"required,url"`
	CancelURL     string       `json:"cancel_url" validate:"required,url"`
	CustomerEmail string       `json:"customer_email" validate:"omitempty,email"`
}

// CheckoutSessionInput is what the provider needs to open a hosted checkout.
// An empty CustomerID lets the hosted page collect the email and create the
// customer itself.
type CheckoutSessionInput struct {
	PriceID    string
	Mode       CheckoutMode
	SuccessURL string
	CancelURL  string
	CustomerID string
}

// Caller is the authenticated identity behind a request, if any.
type Caller struct {
	UserID string
	Email  string
}

// SubscriptionStatus is the read model handed to the presentation layer.
type SubscriptionStatus struct {
	Subscription *models.BillingSubscription `json:"subscription"`
	IsActive     bool                        `json:"is_active"`
	PriceID      string                      `json:"current_price_id,omitempty"`
}

// WebhookEventInput is the normalized input for webhook journal entries.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	CustomerID      string
	PayloadJSON     string
}

// SyncNotification is published after a subscription snapshot was written.
type SyncNotification struct {
	CustomerID string                    `json:"customer_id"`
	UserID     string                    `json:"user_id"`
	Status     models.SubscriptionStatus `json:"status"`
	PriceID    string                    `json:"price_id,omitempty"`
	SyncedAt   time.Time                 `json:"synced_at"`
}
