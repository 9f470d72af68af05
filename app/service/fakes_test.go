package service

import (
	"context"
	"errors"
	"io"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/repository"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/config"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeOrderRepo struct {
	mu          sync.Mutex
	byIncrement map[string]*entity.Order
	byTxn       map[string][]*entity.Order
	pending     []*entity.Order
	cancelErr   map[string]error
	comments    map[string][]string
	lookups     int
	pendingArgs []any
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		byIncrement: map[string]*entity.Order{},
		byTxn:       map[string][]*entity.Order{},
		cancelErr:   map[string]error{},
		comments:    map[string][]string{},
	}
}

func (r *fakeOrderRepo) add(order *entity.Order) *entity.Order {
	r.byIncrement[order.IncrementID] = order
	if order.LastTransID != nil {
		r.byTxn[*order.LastTransID] = append(r.byTxn[*order.LastTransID], order)
	}
	return order
}

func (r *fakeOrderRepo) FindByIncrementID(_ context.Context, incrementID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	return r.byIncrement[incrementID], nil
}

func (r *fakeOrderRepo) ListByTransactionID(_ context.Context, transactionID string) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	return slices.Clone(r.byTxn[transactionID]), nil
}

func (r *fakeOrderRepo) ListPendingPayment(_ context.Context, methods []string, cutoff time.Time, limit int32) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingArgs = []any{methods, cutoff, limit}
	return slices.Clone(r.pending), nil
}

func (r *fakeOrderRepo) CancelOrClose(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.cancelErr[order.IncrementID]; err != nil {
		return err
	}
	switch order.State {
	case entity.OrderStateNew, entity.OrderStatePendingPayment, entity.OrderStatePaymentReview:
	default:
		return repository.ErrOrderNotCancelable
	}
	if order.InvoicedCents > 0 {
		order.State = entity.OrderStateClosed
	} else {
		order.State = entity.OrderStateCanceled
	}
	order.Status = order.State
	return nil
}

func (r *fakeOrderRepo) CancelOrCloseWithComment(ctx context.Context, order *entity.Order, comment string) error {
	if err := r.CancelOrClose(ctx, order); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments[order.IncrementID] = append(r.comments[order.IncrementID], comment)
	return nil
}

type fakeCheckoutRepo struct {
	sessions map[string]*entity.CheckoutSession
}

func (r *fakeCheckoutRepo) FindByOrderIncrementID(_ context.Context, incrementID string) (*entity.CheckoutSession, error) {
	return r.sessions[incrementID], nil
}

type fakeEndpointRepo struct {
	endpoints []*entity.WebhookEndpoint
	err       error
}

func (r *fakeEndpointRepo) ListActive(context.Context) ([]*entity.WebhookEndpoint, error) {
	return r.endpoints, r.err
}

type cacheWrite struct {
	value string
	tags  []string
	ttl   time.Duration
}

type fakeCache struct {
	mu      sync.Mutex
	values  map[string]string
	writes  []cacheWrite
	loadErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (c *fakeCache) Load(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return "", c.loadErr
	}
	return c.values[key], nil
}

func (c *fakeCache) Save(_ context.Context, key, value string, tags []string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.writes = append(c.writes, cacheWrite{value: value, tags: tags, ttl: ttl})
	return nil
}

type fakeGateway struct {
	mu sync.Mutex

	payments []*provider.PaymentIntent
	setups   []*provider.SetupIntent
	listErr  error
	filters  []provider.ListFilter

	retrievable map[string]*provider.PaymentIntent
	retrieveErr map[string]error
	retrieved   []string

	canceledPayments []string
	canceledSetups   []string
	cancelReasons    []string
	canceledSet      map[string]bool
	expiredSessions  []string

	productCreated time.Time
	productErr     error
	pinged         []string
	deleted        []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		retrievable: map[string]*provider.PaymentIntent{},
		retrieveErr: map[string]error{},
		canceledSet: map[string]bool{},
	}
}

func (g *fakeGateway) CreatePingProduct(_ context.Context, publishableKey string) (*provider.Product, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinged = append(g.pinged, publishableKey)
	if g.productErr != nil {
		return nil, g.productErr
	}
	return &provider.Product{ID: "prod_ping", Created: g.productCreated}, nil
}

func (g *fakeGateway) DeleteProduct(_ context.Context, productID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, productID)
	return nil
}

func (g *fakeGateway) PaymentIntents(_ context.Context, filter provider.ListFilter) iter.Seq2[*provider.PaymentIntent, error] {
	return func(yield func(*provider.PaymentIntent, error) bool) {
		g.mu.Lock()
		g.filters = append(g.filters, filter)
		items := slices.Clone(g.payments)
		listErr := g.listErr
		g.mu.Unlock()

		if listErr != nil {
			yield(nil, listErr)
			return
		}
		for _, pi := range items {
			if !yield(pi, nil) {
				return
			}
		}
	}
}

func (g *fakeGateway) SetupIntents(_ context.Context, _ provider.ListFilter) iter.Seq2[*provider.SetupIntent, error] {
	return func(yield func(*provider.SetupIntent, error) bool) {
		g.mu.Lock()
		items := slices.Clone(g.setups)
		g.mu.Unlock()

		for _, si := range items {
			if !yield(si, nil) {
				return
			}
		}
	}
}

func (g *fakeGateway) RetrievePaymentIntent(_ context.Context, id string) (*provider.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieved = append(g.retrieved, id)
	if err := g.retrieveErr[id]; err != nil {
		return nil, err
	}
	if pi, ok := g.retrievable[id]; ok {
		return pi, nil
	}
	return &provider.PaymentIntent{ID: id, Status: provider.IntentStatusCanceled}, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, id string, reason string) (*provider.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.canceledSet[id] {
		return nil, errors.New("payment intent is already canceled")
	}
	g.canceledSet[id] = true
	g.canceledPayments = append(g.canceledPayments, id)
	g.cancelReasons = append(g.cancelReasons, reason)
	return &provider.PaymentIntent{ID: id, Status: provider.IntentStatusCanceled}, nil
}

func (g *fakeGateway) CancelSetupIntent(_ context.Context, id string, reason string) (*provider.SetupIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.canceledSet[id] {
		return nil, errors.New("setup intent is already canceled")
	}
	g.canceledSet[id] = true
	g.canceledSetups = append(g.canceledSetups, id)
	g.cancelReasons = append(g.cancelReasons, reason)
	return &provider.SetupIntent{ID: id, Status: provider.IntentStatusCanceled}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expiredSessions = append(g.expiredSessions, sessionID)
	return nil
}

func (g *fakeGateway) remoteCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.canceledPayments) + len(g.canceledSetups) + len(g.expiredSessions) + len(g.retrieved)
}

type serviceFixture struct {
	svc       *ReconcileService
	orders    *fakeOrderRepo
	sessions  *fakeCheckoutRepo
	endpoints *fakeEndpointRepo
	cache     *fakeCache
	gateways  map[string]*fakeGateway
}

func newServiceFixture(t *testing.T, tenants ...provider.Tenant) *serviceFixture {
	t.Helper()
	if len(tenants) == 0 {
		tenants = []provider.Tenant{{StoreCode: "default", SecretKey: "sk_test_a", PublishableKey: "pk_test_a", Active: true}}
	}

	gateways := make(map[string]*fakeGateway, len(tenants))
	for _, tenant := range tenants {
		gateways[tenant.SecretKey] = newFakeGateway()
	}
	registry := provider.NewRegistry(tenants, func(tenant provider.Tenant) provider.Gateway {
		return gateways[tenant.SecretKey]
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &serviceFixture{
		orders:    newFakeOrderRepo(),
		sessions:  &fakeCheckoutRepo{sessions: map[string]*entity.CheckoutSession{}},
		endpoints: &fakeEndpointRepo{},
		cache:     newFakeCache(),
		gateways:  gateways,
	}
	f.svc = NewReconcileService(
		f.orders,
		f.sessions,
		f.endpoints,
		f.cache,
		registry,
		config.WebhooksConfig{StaleAfter: 6 * time.Hour},
		config.ReconcileConfig{MinAge: 120 * time.Minute, MaxAge: 360 * time.Minute, TenantConcurrency: 2},
		logger,
	)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *serviceFixture) gateway() *fakeGateway {
	return f.gateways["sk_test_a"]
}

func (f *serviceFixture) tenant() provider.Tenant {
	return f.svc.registry.Tenants()[0]
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func strPtr(v string) *string {
	return &v
}

func abandonedIntent(id string, metadata map[string]string) *provider.PaymentIntent {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &provider.PaymentIntent{
		ID:       id,
		Status:   provider.IntentStatusRequiresPaymentMethod,
		Created:  testNow.Add(-200 * time.Minute),
		Currency: "usd",
		Amount:   2500,
		Metadata: metadata,
	}
}

func pendingOrder(incrementID, method string, transID *string) *entity.Order {
	return &entity.Order{
		IncrementID:   incrementID,
		StoreCode:     "default",
		State:         entity.OrderStatePendingPayment,
		Status:        entity.OrderStatePendingPayment,
		PaymentMethod: method,
		LastTransID:   transID,
		CurrencyCode:  "USD",
	}
}
