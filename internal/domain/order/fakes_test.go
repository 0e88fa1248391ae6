package order

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// --- In-memory transactional store ---

// memStore serializes transactions with a single mutex and rolls back to a
// snapshot when fn fails.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]*Order
	variants    map[string]inventory.Variant
	promoLimit  map[string]int
	promoCount  map[string]int
	usages      []promotion.Usage
	createErr   error
	updateCalls int
}

type memSnapshot struct {
	orders     map[string]*Order
	variants   map[string]inventory.Variant
	promoCount map[string]int
	usages     []promotion.Usage
}

func newMemStore(variants ...inventory.Variant) *memStore {
	m := &memStore{
		orders:     map[string]*Order{},
		variants:   map[string]inventory.Variant{},
		promoLimit: map[string]int{},
		promoCount: map[string]int{},
	}
	for _, v := range variants {
		m.variants[v.ID] = v
	}
	return m
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		orders:     make(map[string]*Order, len(m.orders)),
		variants:   make(map[string]inventory.Variant, len(m.variants)),
		promoCount: make(map[string]int, len(m.promoCount)),
		usages:     slices.Clone(m.usages),
	}
	for k, v := range m.orders {
		s.orders[k] = cloneOrder(v)
	}
	for k, v := range m.variants {
		s.variants[k] = v
	}
	for k, v := range m.promoCount {
		s.promoCount[k] = v
	}
	return s
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, memTx{m}); err != nil {
		m.orders, m.variants, m.promoCount, m.usages = snap.orders, snap.variants, snap.promoCount, snap.usages
		return err
	}
	return nil
}

func (m *memStore) GetByIDs(_ context.Context, ids []string) ([]inventory.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[id].Quantity
}

func (m *memStore) setStock(id string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.variants[id]
	v.Quantity = qty
	m.variants[id] = v
}

func (m *memStore) order(t *testing.T, id string) *Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	require.True(t, ok, "order %s not stored", id)
	return cloneOrder(o)
}

type memTx struct{ m *memStore }

func (t memTx) Orders() Repository { return memOrders(t) }
func (t memTx) Inventory() inventory.Repository { return memInventory(t) }
func (t memTx) Promotions() promotion.UsageRepository { return memPromos(t) }

type memOrders struct{ m *memStore }

func (r memOrders) Create(_ context.Context, o *Order) error {
	if r.m.createErr != nil {
		return r.m.createErr
	}
	o.Version = 1
	r.m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r memOrders) Get(_ context.Context, id string) (*Order, error) {
	o, ok := r.m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r memOrders) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.Get(ctx, id)
}

func (r memOrders) Update(_ context.Context, o *Order) error {
	r.m.updateCalls++
	stored, ok := r.m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrConcurrentUpdate
	}
	o.Version++
	r.m.orders[o.ID] = cloneOrder(o)
	return nil
}

type memInventory struct{ m *memStore }

func (r memInventory) LockVariants(_ context.Context, ids []string) ([]inventory.Variant, error) {
	var out []inventory.Variant
	for _, id := range ids {
		if v, ok := r.m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r memInventory) AdjustQuantity(_ context.Context, id string, delta int) error {
	v, ok := r.m.variants[id]
	if !ok {
		return inventory.ErrVariantNotFound
	}
	if v.Quantity+delta < 0 {
		return errors.New("quantity check constraint violated")
	}
	v.Quantity += delta
	r.m.variants[id] = v
	return nil
}

type memPromos struct{ m *memStore }

func (r memPromos) Consume(_ context.Context, id string) error {
	if limit := r.m.promoLimit[id]; limit > 0 && r.m.promoCount[id] >= limit {
		return promotion.ErrLimitReached
	}
	r.m.promoCount[id]++
	return nil
}

func (r memPromos) RecordUsage(_ context.Context, u promotion.Usage) error {
	r.m.usages = append(r.m.usages, u)
	return nil
}

// --- Collaborator fakes ---

type memAddresses map[string]*Address

func (a memAddresses) Get(_ context.Context, id string) (*Address, error) {
	addr, ok := a[id]
	if !ok {
		return nil, ErrAddressNotFound
	}
	return addr, nil
}

type memPromotionRepo struct {
	byCode    map[string]*promotion.Promotion
	automatic []promotion.Promotion
}

func (r *memPromotionRepo) FindByCode(_ context.Context, code string) (*promotion.Promotion, error) {
	p, ok := r.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	return p, nil
}

func (r *memPromotionRepo) ListAutomatic(context.Context) ([]promotion.Promotion, error) {
	return r.automatic, nil
}

type noRates struct{}

func (noRates) RateForCity(context.Context, string) (*shipping.Rate, error) {
	return nil, shipping.ErrNoRate
}

// fakeGateway records calls and returns configured outcomes.
type fakeGateway struct {
	mu          sync.Mutex
	name        string
	redirectErr error
	refund      payment.RefundResult
	refunds     []payment.RefundRequest
	event       *payment.WebhookEvent
	webhookErr  error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) BuildPaymentRedirect(_ context.Context, c payment.Charge) (*payment.Redirect, error) {
	if g.redirectErr != nil {
		return nil, g.redirectErr
	}
	return &payment.Redirect{Provider: g.name, URL: "https://pay.test/" + c.OrderID}, nil
}

func (g *fakeGateway) ValidateWebhook(context.Context, payment.WebhookRequest) (*payment.WebhookEvent, error) {
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	ev := *g.event
	return &ev, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) payment.RefundResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return g.refund
}

func (g *fakeGateway) refundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type sentNotification struct {
	kind    string
	orderID string
	to      Recipient
	owed    bool
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) record(kind string, o *Order, to Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, orderID: o.ID, to: to, owed: o.RefundOwed()})
	return n.err
}

func (n *recordingNotifier) SendOrderPlaced(_ context.Context, o *Order) error {
	return n.record("placed", o, "")
}

func (n *recordingNotifier) SendOrderCancelled(_ context.Context, o *Order, to Recipient) error {
	return n.record("cancelled", o, to)
}

func (n *recordingNotifier) SendReturnRequested(_ context.Context, o *Order) error {
	return n.record("return_requested", o, RecipientAdmin)
}

func (n *recordingNotifier) SendStatusChanged(_ context.Context, o *Order) error {
	return n.record("status_changed", o, RecipientCustomer)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

type memReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *memReplay) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	return true, nil
}

func (r *memReplay) Forget(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
	return nil
}

// --- Fixture ---

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memStore
	promos   *memPromotionRepo
	kashier  *fakeGateway
	stripe   *fakeGateway
	notifier *recordingNotifier
	replay   *memReplay
	now      time.Time
	settings settings.Store
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testVariant(id string, price string, qty int) inventory.Variant {
	return inventory.Variant{
		ID:          id,
		ProductID:   "prod-" + id,
		ProductName: "Product " + id,
		CategoryID:  "cat-1",
		BrandID:     "brand-1",
		SKU:         "SKU-" + strings.ToUpper(id),
		Quantity:    qty,
		Price:       dec(price),
		IsActive:    true,
	}
}

type fixtureOption func(*fixture, *ServiceDeps)

func withOptions(o Options) fixtureOption {
	return func(_ *fixture, d *ServiceDeps) { d.Options = o }
}

func newFixture(t *testing.T, variants []inventory.Variant, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(variants...),
		promos:   &memPromotionRepo{byCode: map[string]*promotion.Promotion{}},
		kashier:  &fakeGateway{name: "kashier", refund: payment.RefundResult{Success: true, TransactionID: "RF-1"}},
		stripe:   &fakeGateway{name: "stripe", refund: payment.RefundResult{Success: true, TransactionID: "re_1"}},
		notifier: &recordingNotifier{},
		replay:   &memReplay{},
		now:      testNow,
		settings: settings.Store{
			Currency:            "EGP",
			DefaultShippingCost: dec("50"),
			ReturnWindowDays:    14,
		},
	}

	payments, err := payment.NewManager(map[payment.Method]payment.Gateway{
		payment.MethodCashOnDelivery: payment.CashOnDelivery{},
		payment.MethodGateway:        f.kashier,
		payment.MethodCreditCard:     f.stripe,
	})
	require.NoError(t, err)

	seq := 0
	var seqMu sync.Mutex
	deps := ServiceDeps{
		Tx: f.store,
		Addresses: memAddresses{
			"addr-1": {ID: "addr-1", UserID: "user-1", City: "Cairo"},
			"addr-2": {ID: "addr-2", UserID: "user-2", City: "Giza"},
		},
		Catalog:  f.store,
		Payments: payments,
		Notifier: f.notifier,
		Replay:   f.replay,
		Clock:    func() time.Time { return f.now },
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
	for _, o := range opts {
		o(f, &deps)
	}
	settingsProvider := settingsFunc(func() settings.Store { return f.settings })
	deps.Settings = settingsProvider
	deps.Shipping = shipping.NewCalculator(noRates{}, settingsProvider)
	deps.Promotions = promotion.NewEvaluator(f.promos, promotion.DefaultOptions())

	f.svc, err = NewService(deps)
	require.NoError(t, err)
	return f
}

type settingsFunc func() settings.Store

func (f settingsFunc) Get(context.Context) (settings.Store, error) {
	return f(), nil
}

func (f *fixture) place(t *testing.T, method payment.Method, lines ...CartLine) *Order {
	t.Helper()
	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: method,
		Lines:         lines,
	})
	require.NoError(t, err)
	return res.Order
}

// markPaid simulates a confirmed provider payment.
func (f *fixture) markPaid(t *testing.T, id string) {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o := f.store.orders[id]
	o.PaymentStatus = PaymentPaid
	o.PaymentReference = "pay-" + id
}
