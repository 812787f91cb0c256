package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
)

func TestNormalizeStripeSubscription(t *testing.T) {
	sub := &stripe.Subscription{
		ID:                "sub_1",
		Status:            stripe.SubscriptionStatus("active"),
		CancelAtPeriodEnd: true,
		Customer:          &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					Price:              &stripe.Price{ID: "price_123"},
					CurrentPeriodStart: 1_700_000_000,
					CurrentPeriodEnd:   1_702_592_000,
				},
			},
		},
		DefaultPaymentMethod: &stripe.PaymentMethod{
			Card: &stripe.PaymentMethodCard{
				Brand: stripe.PaymentMethodCardBrand("visa"),
				Last4: "4242",
			},
		},
	}

	got := normalizeStripeSubscription(sub)

	require.NotNil(t, got)
	assert.Equal(t, ProviderSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_123",
		CurrentPeriodStart: 1_700_000_000,
		CurrentPeriodEnd:   1_702_592_000,
		CancelAtPeriodEnd:  true,
		CardBrand:          "visa",
		CardLast4:          "4242",
	}, *got)
}

func TestNormalizeStripeSubscriptionWithoutCardOrItems(t *testing.T) {
	got := normalizeStripeSubscription(&stripe.Subscription{
		ID:                   "sub_2",
		Status:               stripe.SubscriptionStatus("incomplete"),
		DefaultPaymentMethod: &stripe.PaymentMethod{Type: stripe.PaymentMethodType("sepa_debit")},
	})

	require.NotNil(t, got)
	assert.Equal(t, "incomplete", got.Status)
	assert.Empty(t, got.PriceID)
	assert.Zero(t, got.CurrentPeriodEnd)
	assert.Empty(t, got.CardBrand)
	assert.Empty(t, got.CardLast4)

	assert.Nil(t, normalizeStripeSubscription(nil))
}

func TestWrapStripeError(t *testing.T) {
	rejected := wrapStripeError("create checkout session", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "No such price"})
	assert.True(t, errors.Is(rejected, ErrProviderRejected))

	limited := wrapStripeError("list subscriptions", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Msg: "slow down"})
	assert.True(t, errors.Is(limited, ErrProviderUnavailable))

	network := wrapStripeError("list subscriptions", errors.New("dial tcp: i/o timeout"))
	assert.True(t, errors.Is(network, ErrProviderUnavailable))
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(" ")
	assert.Error(t, err)

	p, err := NewStripeProvider("sk_test_123")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestStripeCreateCustomerOmitsEmptyEmail(t *testing.T) {
	var (
		mu    sync.Mutex
		forms []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		forms = append(forms, r.PostForm)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_test","object":"customer"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	p := &StripeProvider{customers: &customer.Client{B: backend, Key: "sk_test_123"}}

	id, err := p.CreateCustomer(context.Background(), "", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_test", id)
	_, err = p.CreateCustomer(context.Background(), "member@example.com", "user-2")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, forms, 2)
	_, hasEmail := forms[0]["email"]
	assert.False(t, hasEmail)
	assert.Equal(t, "user-1", forms[0].Get("metadata[user_id]"))
	assert.Equal(t, "member@example.com", forms[1].Get("email"))
}
