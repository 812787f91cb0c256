package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/app/repository"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// SnapshotCache caches the subscription record of a user. A cached nil
// record is a valid hit meaning "no subscription". Writers Set the record
// they just stored; readers only Fill an empty slot, so a read that raced a
// write can never put the older snapshot back.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*models.BillingSubscription, bool, error)
	Set(ctx context.Context, userID string, sub *models.BillingSubscription) error
	Fill(ctx context.Context, userID string, sub *models.BillingSubscription) error
	Invalidate(ctx context.Context, userID string) error
}

// Notifier publishes a notification after a subscription snapshot changed.
type Notifier interface {
	PublishSync(ctx context.Context, n SyncNotification) error
}

// Deps are the collaborators of the billing service. Cache, Notifier and Now
// are optional.
type Deps struct {
	Repo     Repository
	Users    repository.UserRepository
	Provider Provider
	Cache    SnapshotCache
	Notifier Notifier
	Now      func() time.Time
}

// Service provides subscription reconciliation, checkout and status reads.
type Service struct {
	repo     Repository
	users    repository.UserRepository
	provider Provider
	cache    SnapshotCache
	notifier Notifier
	now      func() time.Time
	validate *validator.Validate
	resolver *Resolver
}

// NewService creates a billing service from injected collaborators.
func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		users:    d.Users,
		provider: d.Provider,
		cache:    d.Cache,
		notifier: d.Notifier,
		now:      d.Now,
		validate: validator.New(),
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.resolver = NewResolver(s.repo, s.users, s.now)
	s.resolver.cache = s.cache
	return s
}

// Resolver returns the identity resolver bound to the service's stores.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// RecordWebhookEvent journals a verified webhook event. Redeliveries of the
// same event increase the attempt counter.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (*models.BillingWebhookEvent, error) {
	if in.ProviderEventID == "" {
		return nil, fmt.Errorf("%w: provider event id is required", ErrValidation)
	}
	provider := in.Provider
	if provider == "" {
		provider = models.BillingProviderStripe
	}
	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		CustomerID:      in.CustomerID,
		PayloadJSON:     in.PayloadJSON,
		Attempts:        1,
	}
	stored, err := s.repo.RecordWebhookEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: record webhook event: %v", ErrStoreWrite, err)
	}
	return stored, nil
}

// MarkWebhookProcessed stores the processing outcome of a journaled event.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return fmt.Errorf("%w: webhook event id is required", ErrValidation)
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg); err != nil {
		return fmt.Errorf("%w: mark webhook processed: %v", ErrStoreWrite, err)
	}
	return nil
}

// afterWrite caches the stored snapshot and announces the change. Both steps
// are best effort; the store already holds the new state.
func (s *Service) afterWrite(ctx context.Context, userID string, sub *models.BillingSubscription) {
	if err := s.cache.Set(ctx, userID, sub); err != nil {
		log.Warnf("[Billing] Cache update failed for user %s: %v", userID, err)
		s.dropCached(ctx, userID)
	}
	s.notify(ctx, userID, sub)
}

func (s *Service) dropCached(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Warnf("[Billing] Cache invalidation failed for user %s: %v", userID, err)
	}
}

func (s *Service) notify(ctx context.Context, userID string, sub *models.BillingSubscription) {
	n := SyncNotification{
		CustomerID: sub.CustomerID,
		UserID:     userID,
		Status:     sub.Status,
		SyncedAt:   s.now().UTC(),
	}
	if sub.PriceID != nil {
		n.PriceID = *sub.PriceID
	}
	if err := s.notifier.PublishSync(ctx, n); err != nil {
		log.Warnf("[Billing] Sync notification failed for customer %s: %v", sub.CustomerID, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*models.BillingSubscription, bool, error) {
	return nil, false, nil
}

func (noopCache) Set(context.Context, string, *models.BillingSubscription) error { return nil }

func (noopCache) Fill(context.Context, string, *models.BillingSubscription) error { return nil }

func (noopCache) Invalidate(context.Context, string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) PublishSync(context.Context, SyncNotification) error { return nil }
