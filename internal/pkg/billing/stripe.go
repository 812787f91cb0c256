package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	session "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeProvider implements Provider on top of the Stripe API. Each resource
// client carries its own key, so nothing touches stripe.Key.
type StripeProvider struct {
	customers     *customer.Client
	subscriptions *subscription.Client
	sessions      *session.Client
}

// NewStripeProvider creates a Stripe-backed provider for the given secret key.
func NewStripeProvider(secretKey string) (*StripeProvider, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	backend := stripe.GetBackend(stripe.APIBackend)
	return &StripeProvider{
		customers:     &customer.Client{B: backend, Key: key},
		subscriptions: &subscription.Client{B: backend, Key: key},
		sessions:      &session.Client{B: backend, Key: key},
	}, nil
}

func (p *StripeProvider) LatestSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.AddExpand("data.default_payment_method")

	it := p.subscriptions.List(params)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, wrapStripeError("list subscriptions", err)
		}
		return nil, nil
	}
	return normalizeStripeSubscription(it.Subscription()), nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	if userID != "" {
		params.AddMetadata("user_id", userID)
		params.SetIdempotencyKey("subsync-customer-" + userID)
	}

	c, err := p.customers.New(params)
	if err != nil {
		return "", wrapStripeError("create customer", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (string, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(in.Mode)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}

	sess, err := p.sessions.New(params)
	if err != nil {
		return "", wrapStripeError("create checkout session", err)
	}
	return sess.URL, nil
}

// normalizeStripeSubscription flattens the fields reconciliation needs. The
// price and the billing period come from the first line item; the card is
// only read when the default payment method was expanded.
func normalizeStripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	if sub == nil {
		return nil
	}
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = item.CurrentPeriodStart
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
	}
	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		out.CardBrand = string(pm.Card.Brand)
		out.CardLast4 = pm.Card.Last4
	}
	return out
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		if code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %s: %s", ErrProviderRejected, op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%w: stripe %s: %v", ErrProviderUnavailable, op, err)
}
