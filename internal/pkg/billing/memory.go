package billing

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"gorm.io/gorm"
)

// MemoryRepository is an in-process Repository that enforces the same keys
// as the SQL schema: one row per customer id, one active mapping per user
// and one journal entry per provider event.
type MemoryRepository struct {
	mu            sync.Mutex
	nextID        uint
	customers     map[string]*models.BillingCustomer
	subscriptions map[string]*models.BillingSubscription
	events        map[string]*models.BillingWebhookEvent
}

// NewMemoryRepository creates an empty in-memory billing repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers:     make(map[string]*models.BillingCustomer),
		subscriptions: make(map[string]*models.BillingSubscription),
		events:        make(map[string]*models.BillingWebhookEvent),
	}
}

func (r *MemoryRepository) id() uint {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) GetActiveCustomerByCustomerID(_ context.Context, customerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[customerID]
	if !ok || c.IsDeleted() {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetActiveCustomerByUserID(_ context.Context, userID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.customers {
		if c.UserID == userID && !c.IsDeleted() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryRepository) UpsertCustomer(_ context.Context, userID, customerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, c := range r.customers {
		if id != customerID && c.UserID == userID && !c.IsDeleted() {
			c.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
			delete(r.subscriptions, id)
		}
	}

	c, ok := r.customers[customerID]
	if !ok {
		c = &models.BillingCustomer{ID: r.id(), CustomerID: customerID, CreatedAt: now}
		r.customers[customerID] = c
	}
	c.UserID = userID
	c.DeletedAt = gorm.DeletedAt{}
	c.UpdatedAt = now

	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) DeleteCustomer(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.customers[customerID]; ok && !c.IsDeleted() {
		c.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}
	delete(r.subscriptions, customerID)
	return nil
}

func (r *MemoryRepository) UpsertSubscription(_ context.Context, sub *models.BillingSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cp := *sub
	if existing, ok := r.subscriptions[sub.CustomerID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = r.id()
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.subscriptions[sub.CustomerID] = &cp
	*sub = cp
	return nil
}

func (r *MemoryRepository) MarkSubscriptionCanceled(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	sub, ok := r.subscriptions[customerID]
	if !ok {
		sub = &models.BillingSubscription{ID: r.id(), CustomerID: customerID, CreatedAt: now}
		r.subscriptions[customerID] = sub
	}
	sub.Status = models.BillingStatusCanceled
	sub.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) GetSubscriptionByCustomerID(_ context.Context, customerID string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptions[customerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *MemoryRepository) RecordWebhookEvent(_ context.Context, event *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := event.Provider + "/" + event.ProviderEventID
	stored, ok := r.events[key]
	if ok {
		stored.Attempts++
		stored.ProcessedAt = nil
		stored.ProcessingError = ""
		stored.UpdatedAt = now
	} else {
		cp := *event
		cp.ID = r.id()
		cp.Attempts = 1
		cp.CreatedAt = now
		cp.UpdatedAt = now
		stored = &cp
		r.events[key] = stored
	}
	out := *stored
	return &out, nil
}

func (r *MemoryRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// Customers returns a copy of every mapping, including soft-deleted ones.
func (r *MemoryRepository) Customers() []models.BillingCustomer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.BillingCustomer, 0, len(r.customers))
	for _, c := range r.customers {
		out = append(out, *c)
	}
	return out
}

// Subscriptions returns a copy of every stored subscription row.
func (r *MemoryRepository) Subscriptions() []models.BillingSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.BillingSubscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		out = append(out, *s)
	}
	return out
}

// WebhookEvents returns a copy of the journal.
func (r *MemoryRepository) WebhookEvents() []models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.BillingWebhookEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}
