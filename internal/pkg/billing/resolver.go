package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// Resolver maps a provider customer to exactly one application user.
type Resolver struct {
	repo  Repository
	users repository.UserRepository
	cache SnapshotCache
	now   func() time.Time
}

// NewResolver creates a resolver on top of the billing and user stores.
func NewResolver(repo Repository, users repository.UserRepository, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{repo: repo, users: users, cache: noopCache{}, now: now}
}

// Resolve returns the user id for customerID. An existing active mapping
// wins. Otherwise the user is looked up by email or created with a confirmed
// email, and the mapping is written. Concurrent calls for the same pair
// converge on one user and one mapping because both writes are keyed upserts.
//
// A user whose current customer still holds a non-terminal subscription
// keeps that mapping: the user id is returned but customerID stays unmapped,
// so a later one-off payment under a fresh customer cannot strip access.
func (r *Resolver) Resolve(ctx context.Context, customerID, email string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	email = models.NormalizeEmail(email)
	if customerID == "" || email == "" {
		return "", fmt.Errorf("%w: customer id and email are required", ErrValidation)
	}

	mapping, err := r.repo.GetActiveCustomerByCustomerID(ctx, customerID)
	if err == nil {
		return mapping.UserID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("%w: lookup customer %s: %v", ErrStoreWrite, customerID, err)
	}

	user, err := r.findOrCreateUser(ctx, email)
	if err != nil {
		return "", err
	}

	kept, err := r.liveCustomerOf(ctx, user.ID, customerID)
	if err != nil {
		return "", err
	}
	if kept != "" {
		log.Warnf("[Billing] Customer %s left unmapped: user %s keeps customer %s with a live subscription", customerID, user.ID, kept)
		return user.ID, nil
	}

	if _, err := r.repo.UpsertCustomer(ctx, user.ID, customerID); err != nil {
		return "", fmt.Errorf("%w: map customer %s: %v", ErrStoreWrite, customerID, err)
	}
	// the user may have had a snapshot of the replaced customer cached
	if err := r.cache.Invalidate(ctx, user.ID); err != nil {
		log.Warnf("[Billing] Failed to invalidate cached snapshot of user %s: %v", user.ID, err)
	}
	log.Infof("[Billing] Mapped customer %s to user %s", customerID, user.ID)
	return user.ID, nil
}

// liveCustomerOf returns the user's currently mapped customer when it is not
// customerID and its subscription is not terminal. It returns "" otherwise.
func (r *Resolver) liveCustomerOf(ctx context.Context, userID, customerID string) (string, error) {
	current, err := r.repo.GetActiveCustomerByUserID(ctx, userID)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: lookup customer of user %s: %v", ErrStoreWrite, userID, err)
	}
	if current.CustomerID == customerID {
		return "", nil
	}

	sub, err := r.repo.GetSubscriptionByCustomerID(ctx, current.CustomerID)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: lookup subscription of customer %s: %v", ErrStoreWrite, current.CustomerID, err)
	}
	if sub.IsTerminal() {
		return "", nil
	}
	return current.CustomerID, nil
}

func (r *Resolver) findOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	user, err := r.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("%w: lookup user by email: %v", ErrStoreWrite, err)
	}

	candidate, err := models.NewCheckoutUser(email, r.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	created, err := r.users.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: create user: %v", ErrStoreWrite, err)
	}
	if created {
		log.Infof("[Billing] Created user %s from checkout", candidate.ID)
	}

	// Re-read so a concurrent creator's row wins over our candidate.
	user, err = r.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: reload user by email: %v", ErrStoreWrite, err)
	}
	return user, nil
}
