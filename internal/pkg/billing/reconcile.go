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

// Reconcile reads the customer's latest subscription from the provider and
// overwrites the stored snapshot with it. Running it twice against unchanged
// provider state leaves the same record behind.
//
// A customer without any subscription is left untouched and (nil, nil) is
// returned.
func (s *Service) Reconcile(ctx context.Context, customerID string) (*models.BillingSubscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrValidation)
	}

	mapping, err := s.repo.GetActiveCustomerByCustomerID(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			metrics.ReconcileTotal.WithLabelValues("unmapped").Inc()
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotMapped, customerID)
		}
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: lookup customer %s: %v", ErrStoreWrite, customerID, err)
	}

	latest, err := s.provider.LatestSubscription(ctx, customerID)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if latest == nil {
		log.Infof("[Billing] Customer %s has no subscriptions, nothing to reconcile", customerID)
		metrics.ReconcileTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	sub, err := snapshotFromProvider(customerID, latest)
	if err != nil {
		log.Errorf("[Billing] Reconcile of customer %s skipped: %v", customerID, err)
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: upsert subscription for %s: %v", ErrStoreWrite, customerID, err)
	}

	s.afterWrite(ctx, mapping.UserID, sub)
	metrics.ReconcileTotal.WithLabelValues("synced").Inc()
	log.Infof("[Billing] Reconciled customer %s: status=%s", customerID, sub.Status)
	return sub, nil
}

// MarkCanceled records a deleted subscription without asking the provider.
// Customers without an active mapping are logged and skipped so no
// subscription row exists without its customer.
func (s *Service) MarkCanceled(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrValidation)
	}

	mapping, err := s.repo.GetActiveCustomerByCustomerID(ctx, customerID)
	if err != nil {
		if isNotFound(err) {
			log.Warnf("[Billing] Cancel for unmapped customer %s ignored", customerID)
			return nil
		}
		return fmt.Errorf("%w: lookup customer %s: %v", ErrStoreWrite, customerID, err)
	}

	if err := s.repo.MarkSubscriptionCanceled(ctx, customerID); err != nil {
		return fmt.Errorf("%w: cancel subscription for %s: %v", ErrStoreWrite, customerID, err)
	}

	// the cancel keeps the other columns, so cache the row as stored
	stored, err := s.repo.GetSubscriptionByCustomerID(ctx, customerID)
	if err != nil {
		log.Warnf("[Billing] Reload of canceled subscription for %s failed: %v", customerID, err)
		s.dropCached(ctx, mapping.UserID)
		s.notify(ctx, mapping.UserID, &models.BillingSubscription{
			CustomerID: customerID,
			Status:     models.BillingStatusCanceled,
		})
	} else {
		s.afterWrite(ctx, mapping.UserID, stored)
	}
	metrics.ReconcileTotal.WithLabelValues("canceled").Inc()
	log.Infof("[Billing] Marked subscription of customer %s as canceled", customerID)
	return nil
}

// snapshotFromProvider converts the provider view into a full record. Every
// business field is set so the upsert overwrites stale values.
func snapshotFromProvider(customerID string, p *ProviderSubscription) (*models.BillingSubscription, error) {
	status, err := models.ParseSubscriptionStatus(p.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownStatus, err)
	}

	return &models.BillingSubscription{
		CustomerID:         customerID,
		SubscriptionID:     optionalString(p.ID),
		Status:             status,
		PriceID:            optionalString(p.PriceID),
		CurrentPeriodStart: optionalInt64(p.CurrentPeriodStart),
		CurrentPeriodEnd:   optionalInt64(p.CurrentPeriodEnd),
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		PaymentMethodBrand: optionalString(p.CardBrand),
		PaymentMethodLast4: optionalString(p.CardLast4),
	}, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optionalInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
