package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

// GetSubscriptionStatus returns the stored subscription of a user together
// with the derived access flag, or nil when the user has no mapped customer
// or no subscription row. Reads go through the snapshot cache; cache errors
// fall back to the store. A miss only fills an empty cache slot and never
// replaces a snapshot a concurrent writer stored meanwhile.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	sub, hit, err := s.cache.Get(ctx, userID)
	switch {
	case err != nil:
		log.Warnf("[Cache] Subscription lookup for user %s failed: %v", userID, err)
		metrics.SnapshotCacheTotal.WithLabelValues("error").Inc()
	case hit:
		metrics.SnapshotCacheTotal.WithLabelValues("hit").Inc()
		return s.statusOf(sub), nil
	default:
		metrics.SnapshotCacheTotal.WithLabelValues("miss").Inc()
	}

	sub, err = s.loadSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Fill(ctx, userID, sub); err != nil {
		log.Warnf("[Cache] Storing subscription for user %s failed: %v", userID, err)
	}
	return s.statusOf(sub), nil
}

func (s *Service) loadSubscription(ctx context.Context, userID string) (*models.BillingSubscription, error) {
	mapping, err := s.repo.GetActiveCustomerByUserID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: lookup customer of user %s: %v", ErrStoreWrite, userID, err)
	}

	sub, err := s.repo.GetSubscriptionByCustomerID(ctx, mapping.CustomerID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load subscription of %s: %v", ErrStoreWrite, mapping.CustomerID, err)
	}
	return sub, nil
}

func (s *Service) statusOf(sub *models.BillingSubscription) *SubscriptionStatus {
	if sub == nil {
		return nil
	}
	st := &SubscriptionStatus{
		Subscription: sub,
		IsActive:     sub.IsActive(s.now()),
	}
	if sub.PriceID != nil {
		st.PriceID = *sub.PriceID
	}
	return st
}
