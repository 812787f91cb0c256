package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/internal/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.mapCustomer(t, "cus_1", "a@example.com")
	env.provider.setSubscription("cus_1", activeSubscription("cus_1", "price_123"))

	first, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)
	second, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.True(t, first.SameSnapshot(second))
	require.Len(t, env.repo.Subscriptions(), 1)
	stored := env.repo.Subscriptions()[0]
	assert.True(t, stored.SameSnapshot(second))
}

func TestReconcileCopiesProviderFields(t *testing.T) {
	env := newTestEnv(t)
	userID := env.mapCustomer(t, "cus_1", "a@example.com")
	ps := activeSubscription("cus_1", "price_123")
	ps.CancelAtPeriodEnd = true
	env.provider.setSubscription("cus_1", ps)

	sub, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	require.NotNil(t, sub.SubscriptionID)
	assert.Equal(t, "sub_cus_1", *sub.SubscriptionID)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, ps.CurrentPeriodStart, *sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, ps.CurrentPeriodEnd, *sub.CurrentPeriodEnd)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.PaymentMethodBrand)
	assert.Equal(t, "visa", *sub.PaymentMethodBrand)
	require.NotNil(t, sub.PaymentMethodLast4)
	assert.Equal(t, "4242", *sub.PaymentMethodLast4)

	cached, ok := env.cache.cached(userID)
	require.True(t, ok, "the stored snapshot is written through")
	assert.True(t, cached.SameSnapshot(sub))
	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, SyncNotification{
		CustomerID: "cus_1",
		UserID:     userID,
		Status:     models.BillingStatusActive,
		PriceID:    "price_123",
		SyncedAt:   testNow.UTC(),
	}, env.notifier.sent[0])
}

func TestReconcileOverwritesCardWhenPaymentMethodIsNotACard(t *testing.T) {
	env := newTestEnv(t)
	env.mapCustomer(t, "cus_1", "a@example.com")
	env.provider.setSubscription("cus_1", activeSubscription("cus_1", "price_123"))
	_, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	noCard := activeSubscription("cus_1", "price_123")
	noCard.CardBrand, noCard.CardLast4 = "", ""
	env.provider.setSubscription("cus_1", noCard)
	sub, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.Nil(t, sub.PaymentMethodBrand)
	assert.Nil(t, sub.PaymentMethodLast4)
}

func TestReconcileWithoutSubscriptionsIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.mapCustomer(t, "cus_1", "a@example.com")

	sub, err := env.svc.Reconcile(context.Background(), "cus_1")

	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Empty(t, env.repo.Subscriptions())
	assert.Empty(t, env.notifier.sent)
}

func TestReconcileRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	env.mapCustomer(t, "cus_1", "a@example.com")
	ps := activeSubscription("cus_1", "price_123")
	ps.Status = "on_vacation"
	env.provider.setSubscription("cus_1", ps)

	_, err := env.svc.Reconcile(context.Background(), "cus_1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStatus))
	assert.Empty(t, env.repo.Subscriptions())
}

func TestReconcileErrors(t *testing.T) {
	t.Run("unmapped customer", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.setSubscription("cus_x", activeSubscription("cus_x", "price_1"))
		unmapped := metrics.ReconcileTotal.WithLabelValues("unmapped")
		failed := metrics.ReconcileTotal.WithLabelValues("error")
		unmappedBefore, failedBefore := counterValue(t, unmapped), counterValue(t, failed)

		_, err := env.svc.Reconcile(context.Background(), "cus_x")

		assert.True(t, errors.Is(err, ErrCustomerNotMapped))
		assert.Equal(t, unmappedBefore+1, counterValue(t, unmapped))
		assert.Equal(t, failedBefore, counterValue(t, failed))
		assert.Equal(t, 0, env.provider.listCalls)
		assert.Empty(t, env.repo.Subscriptions())
	})

	t.Run("provider unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.mapCustomer(t, "cus_1", "a@example.com")
		env.provider.listErr = errors.New("timeout")

		_, err := env.svc.Reconcile(context.Background(), "cus_1")

		assert.True(t, errors.Is(err, ErrProviderUnavailable))
		assert.Empty(t, env.repo.Subscriptions())
	})

	t.Run("empty customer id", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.Reconcile(context.Background(), "  ")

		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestMarkCanceledCreatesMinimalRow(t *testing.T) {
	env := newTestEnv(t)
	userID := env.mapCustomer(t, "cus_1", "a@example.com")

	require.NoError(t, env.svc.MarkCanceled(context.Background(), "cus_1"))

	sub, err := env.repo.GetSubscriptionByCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, sub.Status)
	assert.Nil(t, sub.SubscriptionID)
	assert.False(t, sub.IsActive(testNow))
	cached, ok := env.cache.cached(userID)
	require.True(t, ok)
	assert.Equal(t, models.BillingStatusCanceled, cached.Status)
	assert.Equal(t, 0, env.provider.listCalls)
}

func TestMarkCanceledCachesStoredRow(t *testing.T) {
	env := newTestEnv(t)
	userID := env.mapCustomer(t, "cus_1", "a@example.com")
	env.provider.setSubscription("cus_1", activeSubscription("cus_1", "price_123"))
	_, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkCanceled(context.Background(), "cus_1"))

	cached, ok := env.cache.cached(userID)
	require.True(t, ok)
	assert.Equal(t, models.BillingStatusCanceled, cached.Status)
	require.NotNil(t, cached.PriceID, "columns the cancel does not touch are kept")
	assert.Equal(t, "price_123", *cached.PriceID)
}

func TestReconcileDropsCacheWhenUpdateFails(t *testing.T) {
	env := newTestEnv(t)
	userID := env.mapCustomer(t, "cus_1", "a@example.com")
	env.cache.entries[userID] = nil
	env.cache.setErr = errors.New("redis down")
	env.provider.setSubscription("cus_1", activeSubscription("cus_1", "price_123"))

	_, err := env.svc.Reconcile(context.Background(), "cus_1")
	require.NoError(t, err)

	_, ok := env.cache.cached(userID)
	assert.False(t, ok)
}
