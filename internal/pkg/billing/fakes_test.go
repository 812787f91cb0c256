package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/ManuelReschke/subsync/app/repository"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

var testNow = time.Unix(1_750_000_000, 0)

type fakeProvider struct {
	mu            sync.Mutex
	subs          map[string]*ProviderSubscription
	listErr       error
	customerErr   error
	sessionErr    error
	sessionURL    string
	listCalls     int
	customerCalls []string
	sessions      []CheckoutSessionInput
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:       make(map[string]*ProviderSubscription),
		sessionURL: "https://checkout.stripe.test/c/pay/cs_test_1",
	}
}

func (p *fakeProvider) setSubscription(customerID string, sub *ProviderSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[customerID] = sub
}

func (p *fakeProvider) LatestSubscription(_ context.Context, customerID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	sub, ok := p.subs[customerID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, email, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.customerErr != nil {
		return "", p.customerErr
	}
	p.customerCalls = append(p.customerCalls, email+"|"+userID)
	return fmt.Sprintf("cus_fake_%d", len(p.customerCalls)), nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, in CheckoutSessionInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return "", p.sessionErr
	}
	p.sessions = append(p.sessions, in)
	return p.sessionURL, nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*models.BillingSubscription
	getErr      error
	setErr      error
	gets        int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.BillingSubscription)}
}

func (c *fakeCache) Get(_ context.Context, userID string) (*models.BillingSubscription, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	sub, ok := c.entries[userID]
	return sub, ok, nil
}

func (c *fakeCache) Set(_ context.Context, userID string, sub *models.BillingSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[userID] = sub
	return nil
}

func (c *fakeCache) Fill(_ context.Context, userID string, sub *models.BillingSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[userID]; !ok {
		c.entries[userID] = sub
	}
	return nil
}

func (c *fakeCache) cached(userID string) (*models.BillingSubscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.entries[userID]
	return sub, ok
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []SyncNotification
}

func (n *fakeNotifier) PublishSync(_ context.Context, msg SyncNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type testEnv struct {
	svc      *Service
	gateway  *Gateway
	repo     *MemoryRepository
	users    *repository.MemoryUserRepository
	provider *fakeProvider
	cache    *fakeCache
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:     NewMemoryRepository(),
		users:    repository.NewMemoryUserRepository(),
		provider: newFakeProvider(),
		cache:    newFakeCache(),
		notifier: &fakeNotifier{},
	}
	env.svc = NewService(Deps{
		Repo:     env.repo,
		Users:    env.users,
		Provider: env.provider,
		Cache:    env.cache,
		Notifier: env.notifier,
		Now:      func() time.Time { return testNow },
	})
	env.gateway = NewGateway(testWebhookSecret, env.svc)
	return env
}

// mapCustomer creates a user and maps customerID to it.
func (e *testEnv) mapCustomer(t *testing.T, customerID, email string) string {
	t.Helper()
	userID, err := e.svc.Resolver().Resolve(context.Background(), customerID, email)
	if err != nil {
		t.Fatalf("resolve %s: %v", customerID, err)
	}
	return userID
}

func activeSubscription(customerID, priceID string) *ProviderSubscription {
	return &ProviderSubscription{
		ID:                 "sub_" + customerID,
		CustomerID:         customerID,
		Status:             "active",
		PriceID:            priceID,
		CurrentPeriodStart: testNow.Add(-time.Hour).Unix(),
		CurrentPeriodEnd:   testNow.Add(30 * 24 * time.Hour).Unix(),
		CardBrand:          "visa",
		CardLast4:          "4242",
	}
}

func signPayload(secret, payload string) (body []byte, header string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func eventJSON(id, eventType, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, eventType, object)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// interleavingRepo runs a hook once, right after a subscription row was read
// and before the reader continues.
type interleavingRepo struct {
	*MemoryRepository
	afterSubscriptionRead func()
}

func (r *interleavingRepo) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.BillingSubscription, error) {
	sub, err := r.MemoryRepository.GetSubscriptionByCustomerID(ctx, customerID)
	if hook := r.afterSubscriptionRead; hook != nil {
		r.afterSubscriptionRead = nil
		hook()
	}
	return sub, err
}
