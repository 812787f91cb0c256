package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types handled by the gateway.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// OutcomeKind tells whether a verified event changed anything.
type OutcomeKind string

const (
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeIgnored   OutcomeKind = "ignored"
)

// Outcome describes a verified event after dispatch.
type Outcome struct {
	Kind       OutcomeKind
	EventID    string
	EventType  string
	CustomerID string
}

// Gateway verifies inbound provider events and routes them to the service.
type Gateway struct {
	secret string
	svc    *Service
}

// NewGateway creates a gateway that verifies events with the webhook
// signing secret.
func NewGateway(secret string, svc *Service) *Gateway {
	return &Gateway{secret: strings.TrimSpace(secret), svc: svc}
}

// checkoutSession is the part of a checkout.session object the gateway reads.
type checkoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (s checkoutSession) email() string {
	if s.CustomerDetails != nil && strings.TrimSpace(s.CustomerDetails.Email) != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// subscriptionObject is the part of a subscription object the gateway reads.
// The rest of the state is always fetched from the provider.
type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// Handle verifies payload against the signature header and applies the
// event. The raw body must be passed unmodified. Verified events of a type
// the gateway does not handle are acknowledged with OutcomeIgnored.
func (g *Gateway) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Outcome{}, fmt.Errorf("%w: missing signature header", ErrAuthentication)
	}
	if g.secret == "" {
		return Outcome{}, fmt.Errorf("%w: webhook secret not configured", ErrAuthentication)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := Outcome{
		Kind:      OutcomeProcessed,
		EventID:   event.ID,
		EventType: string(event.Type),
	}

	var apply func(context.Context) error
	switch out.EventType {
	case EventCheckoutSessionCompleted:
		var sess checkoutSession
		if err := decodeEventObject(&event, &sess); err != nil {
			return out, err
		}
		out.CustomerID = sess.Customer
		apply = func(ctx context.Context) error { return g.checkoutCompleted(ctx, event.ID, sess) }

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub subscriptionObject
		if err := decodeEventObject(&event, &sub); err != nil {
			return out, err
		}
		if sub.Customer == "" {
			return out, fmt.Errorf("%w: subscription %s without customer", ErrInvalidPayload, sub.ID)
		}
		out.CustomerID = sub.Customer
		apply = func(ctx context.Context) error { return g.subscriptionChanged(ctx, event.ID, sub.Customer) }

	case EventSubscriptionDeleted:
		var sub subscriptionObject
		if err := decodeEventObject(&event, &sub); err != nil {
			return out, err
		}
		if sub.Customer == "" {
			return out, fmt.Errorf("%w: subscription %s without customer", ErrInvalidPayload, sub.ID)
		}
		out.CustomerID = sub.Customer
		apply = func(ctx context.Context) error { return g.svc.MarkCanceled(ctx, sub.Customer) }

	default:
		log.Infof("[Webhook] Ignoring event %s of type %s", event.ID, out.EventType)
		out.Kind = OutcomeIgnored
		return out, nil
	}

	journal := g.journal(ctx, out, payload)
	procErr := apply(ctx)
	if procErr != nil {
		log.Errorf("[Webhook] Event %s (%s) for customer %s failed: %v", out.EventID, out.EventType, out.CustomerID, procErr)
	}
	if journal != nil {
		if err := g.svc.MarkWebhookProcessed(ctx, journal.ID, procErr); err != nil {
			log.Warnf("[Webhook] Could not mark event %s processed: %v", out.EventID, err)
		}
	}
	return out, procErr
}

func (g *Gateway) journal(ctx context.Context, out Outcome, payload []byte) *models.BillingWebhookEvent {
	stored, err := g.svc.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: out.EventID,
		EventType:       out.EventType,
		CustomerID:      out.CustomerID,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		log.Warnf("[Webhook] Could not journal event %s: %v", out.EventID, err)
		return nil
	}
	if stored.Attempts > 1 {
		log.Infof("[Webhook] Redelivery of event %s (attempt %d)", out.EventID, stored.Attempts)
	}
	return stored
}

func (g *Gateway) checkoutCompleted(ctx context.Context, eventID string, sess checkoutSession) error {
	email := sess.email()
	if sess.Customer == "" || strings.TrimSpace(email) == "" {
		log.Warnf("[Webhook] Checkout session %s in event %s lacks customer or email, skipping", sess.ID, eventID)
		return nil
	}

	userID, err := g.svc.Resolver().Resolve(ctx, sess.Customer, email)
	if err != nil {
		return err
	}
	log.Infof("[Webhook] Checkout %s completed for customer %s (user %s)", sess.ID, sess.Customer, userID)

	if sess.Mode == string(CheckoutModeSubscription) && sess.Subscription != "" {
		// the resolver leaves the customer unmapped when the user keeps
		// another customer with a live subscription
		_, err := g.svc.Reconcile(ctx, sess.Customer)
		if errors.Is(err, ErrCustomerNotMapped) {
			log.Warnf("[Webhook] Checkout %s for unmapped customer %s not reconciled", sess.ID, sess.Customer)
			return nil
		}
		return err
	}
	return nil
}

// subscriptionChanged reconciles the customer. Events for customers that are
// not mapped yet are acknowledged: the completed checkout maps the customer
// and reconciles on its own.
func (g *Gateway) subscriptionChanged(ctx context.Context, eventID, customerID string) error {
	_, err := g.svc.Reconcile(ctx, customerID)
	if errors.Is(err, ErrCustomerNotMapped) {
		log.Warnf("[Webhook] Event %s for unmapped customer %s skipped", eventID, customerID)
		return nil
	}
	return err
}

func decodeEventObject(event *stripe.Event, dst interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, event.Type, err)
	}
	return nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}
