package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing service. Lookups
// return gorm.ErrRecordNotFound when nothing matches.
type Repository interface {
	GetActiveCustomerByCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error)
	GetActiveCustomerByUserID(ctx context.Context, userID string) (*models.BillingCustomer, error)
	// UpsertCustomer maps customerID to userID. Any other active mapping of
	// the user is soft-deleted together with its subscription row, and a
	// soft-deleted row for customerID is revived.
	UpsertCustomer(ctx context.Context, userID, customerID string) (*models.BillingCustomer, error)
	// DeleteCustomer soft-deletes the mapping and removes its subscription
	// row.
	DeleteCustomer(ctx context.Context, customerID string) error

	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error
	// MarkSubscriptionCanceled sets the status of the customer's row to
	// canceled, creating a minimal row when none exists.
	MarkSubscriptionCanceled(ctx context.Context, customerID string) error
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.BillingSubscription, error)

	RecordWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetActiveCustomerByCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetActiveCustomerByUserID(ctx context.Context, userID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpsertCustomer(ctx context.Context, userID, customerID string) (*models.BillingCustomer, error) {
	c := &models.BillingCustomer{
		UserID:     userID,
		CustomerID: customerID,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var displaced []string
		if err := tx.Model(&models.BillingCustomer{}).
			Where("user_id = ? AND customer_id <> ?", userID, customerID).
			Pluck("customer_id", &displaced).Error; err != nil {
			return err
		}
		if len(displaced) > 0 {
			if err := deleteCustomers(tx, displaced); err != nil {
				return err
			}
		}

		// deleted_at is NULL in the inserted values, so a conflicting
		// soft-deleted row becomes active again.
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "customer_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"deleted_at",
				"updated_at",
			}),
		}).Create(c).Error; err != nil {
			return err
		}

		// The insert id is unreliable when the row was updated instead.
		var stored models.BillingCustomer
		if err := tx.Where("customer_id = ?", customerID).First(&stored).Error; err != nil {
			return err
		}
		c = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *gormRepository) DeleteCustomer(ctx context.Context, customerID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteCustomers(tx, []string{customerID})
	})
}

// deleteCustomers soft-deletes the mappings and hard-deletes their
// subscription rows, so no snapshot outlives its customer.
func deleteCustomers(tx *gorm.DB, customerIDs []string) error {
	if err := tx.Where("customer_id IN ?", customerIDs).Delete(&models.BillingSubscription{}).Error; err != nil {
		return err
	}
	return tx.Where("customer_id IN ?", customerIDs).Delete(&models.BillingCustomer{}).Error
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"status",
			"price_id",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"payment_method_brand",
			"payment_method_last4",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert; the insert id is unreliable when
	// the row was updated instead.
	var stored models.BillingSubscription
	if err := r.db.WithContext(ctx).Where("customer_id = ?", sub.CustomerID).First(&stored).Error; err != nil {
		return err
	}
	*sub = stored
	return nil
}

func (r *gormRepository) MarkSubscriptionCanceled(ctx context.Context, customerID string) error {
	sub := &models.BillingSubscription{
		CustomerID: customerID,
		Status:     models.BillingStatusCanceled,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "customer_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     models.BillingStatusCanceled,
			"updated_at": time.Now(),
		}),
	}).Create(sub).Error
}

func (r *gormRepository) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) RecordWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts":         gorm.Expr("attempts + 1"),
			"processed_at":     nil,
			"processing_error": "",
			"updated_at":       time.Now(),
		}),
	}).Create(event)
	if tx.Error != nil {
		return nil, tx.Error
	}

	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
