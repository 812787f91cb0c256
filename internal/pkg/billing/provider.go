package billing

import "context"

// Provider is the subset of the billing provider API the service relies on.
type Provider interface {
	// LatestSubscription returns the most recent subscription of the
	// customer in any status, or nil when the customer has none.
	LatestSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)

	// CreateCustomer creates a provider customer. A non-empty userID is used
	// as idempotency key so retries do not create a second customer.
	CreateCustomer(ctx context.Context, email, userID string) (string, error)

	// CreateCheckoutSession opens a hosted checkout and returns its URL.
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (string, error)
}
