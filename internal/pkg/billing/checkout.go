package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

// StartCheckout opens a hosted checkout for a single price and returns the
// URL the client is redirected to. With a caller, the caller's customer is
// reused or created and mapped right away; a caller token without an email
// falls back to the request's email. Anonymous checkouts get a customer only
// when an email is given; the mapping then happens on the completed checkout
// event.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest, caller *Caller) (string, error) {
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.CustomerEmail = models.NormalizeEmail(req.CustomerEmail)
	if req.Mode == "" {
		req.Mode = CheckoutModeSubscription
	}
	if err := s.validate.Struct(req); err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(req.Mode), "invalid").Inc()
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	in := CheckoutSessionInput{
		PriceID:    req.PriceID,
		Mode:       req.Mode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}

	var err error
	if caller != nil && caller.UserID != "" {
		in.CustomerID, err = s.customerForCaller(ctx, caller, req.CustomerEmail)
	} else if req.CustomerEmail != "" {
		in.CustomerID, err = s.provider.CreateCustomer(ctx, req.CustomerEmail, "")
	}
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return "", providerError(err)
	}

	url, err := s.provider.CreateCheckoutSession(ctx, in)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return "", providerError(err)
	}
	if url == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return "", fmt.Errorf("%w: checkout session without url", ErrProviderUnavailable)
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(string(req.Mode), "created").Inc()
	log.Infof("[Checkout] Session created for price %s (mode=%s, customer=%s)", in.PriceID, in.Mode, in.CustomerID)
	return url, nil
}

// customerForCaller returns the caller's mapped customer, creating and
// mapping a new one when there is none. A second concurrent checkout of the
// same user hits the provider's idempotency key and maps the same customer.
// The new customer carries the caller's email, else fallbackEmail, else none.
func (s *Service) customerForCaller(ctx context.Context, caller *Caller, fallbackEmail string) (string, error) {
	mapping, err := s.repo.GetActiveCustomerByUserID(ctx, caller.UserID)
	if err == nil {
		return mapping.CustomerID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("%w: lookup customer of user %s: %v", ErrStoreWrite, caller.UserID, err)
	}

	email := models.NormalizeEmail(caller.Email)
	if email == "" {
		email = fallbackEmail
	}
	customerID, err := s.provider.CreateCustomer(ctx, email, caller.UserID)
	if err != nil {
		return "", err
	}
	if _, err := s.repo.UpsertCustomer(ctx, caller.UserID, customerID); err != nil {
		return "", fmt.Errorf("%w: map customer %s: %v", ErrStoreWrite, customerID, err)
	}
	log.Infof("[Checkout] Created customer %s for user %s", customerID, caller.UserID)
	return customerID, nil
}

func providerError(err error) error {
	if errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, ErrStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
