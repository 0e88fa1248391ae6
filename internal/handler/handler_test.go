package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/shipping"
)

type call struct {
	op     string
	id     string
	userID string
	reason string
}

type fakeOrders struct {
	calls []call
	err   error

	evaluateReq order.EvaluateRequest
	placeReq    order.PlaceOrderRequest
	placeRes    *order.PlaceOrderResult
	webhook     payment.WebhookRequest
	provider    string
	confirmRes  *order.ConfirmPaymentResult
}

func sampleOrder(id string) *order.Order {
	return &order.Order{
		ID:            id,
		Number:        "SO-1",
		UserID:        "user-1",
		Status:        order.StatusProcessing,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: payment.MethodCashOnDelivery,
		Subtotal:      decimal.NewFromInt(1000),
		ShippingCost:  decimal.NewFromInt(50),
		Discount:      decimal.NewFromInt(100),
		Total:         decimal.NewFromInt(950),
		Currency:      "EGP",
		Version:       1,
		CreatedAt:     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Items: []order.Item{{
			VariantID: "v-1", ProductID: "p-1", SKU: "SKU-1", Name: "Lamp",
			Quantity: 2, UnitPrice: decimal.NewFromInt(500), Subtotal: decimal.NewFromInt(1000),
		}},
	}
}

func (f *fakeOrders) record(c call) (*order.Order, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return sampleOrder(c.id), nil
}

func (f *fakeOrders) EvaluateOrder(_ context.Context, req order.EvaluateRequest) (*order.Evaluation, error) {
	f.evaluateReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &order.Evaluation{
		Subtotal:     decimal.NewFromInt(1000),
		Shipping:     shipping.Quote{Zone: "cairo", BaseCost: decimal.NewFromInt(50), Cost: decimal.NewFromInt(50)},
		ShippingCost: decimal.NewFromInt(50),
		Discount:     decimal.NewFromInt(100),
		Total:        decimal.NewFromInt(950),
		Currency:     "EGP",
		Promotion:    &promotion.Promotion{ID: "promo-1", Name: "Ten off", Type: promotion.TypePercentage},
		CouponCode:   "SAVE10",
	}, nil
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	f.placeReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.placeRes != nil {
		return f.placeRes, nil
	}
	return &order.PlaceOrderResult{Order: sampleOrder("o-1")}, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id, userID string) (*order.Order, error) {
	return f.record(call{op: "get", id: id, userID: userID})
}

func (f *fakeOrders) CancelOrder(_ context.Context, req order.CancelRequest) (*order.Order, error) {
	return f.record(call{op: "cancel", id: req.OrderID, userID: req.UserID})
}

func (f *fakeOrders) RequestReturn(_ context.Context, req order.ReturnRequest) (*order.Order, error) {
	return f.record(call{op: "return", id: req.OrderID, userID: req.UserID, reason: req.Reason})
}

func (f *fakeOrders) MarkShipped(_ context.Context, id string) (*order.Order, error) {
	return f.record(call{op: "ship", id: id})
}

func (f *fakeOrders) MarkDelivered(_ context.Context, id string) (*order.Order, error) {
	return f.record(call{op: "deliver", id: id})
}

func (f *fakeOrders) ProcessRefund(_ context.Context, id string) (*order.Order, error) {
	return f.record(call{op: "refund", id: id})
}

func (f *fakeOrders) ApproveReturn(_ context.Context, id string) (*order.Order, error) {
	return f.record(call{op: "approve", id: id})
}

func (f *fakeOrders) RejectReturn(_ context.Context, id, reason string) (*order.Order, error) {
	return f.record(call{op: "reject", id: id, reason: reason})
}

func (f *fakeOrders) CompleteReturn(_ context.Context, id string) (*order.Order, error) {
	return f.record(call{op: "complete", id: id})
}

func (f *fakeOrders) ConfirmPayment(_ context.Context, provider string, req payment.WebhookRequest) (*order.ConfirmPaymentResult, error) {
	f.provider, f.webhook = provider, req
	if f.err != nil {
		return nil, f.err
	}
	return f.confirmRes, nil
}

type fakeSettings struct {
	key   settings.Key
	value string
	err   error
}

func (f *fakeSettings) Update(_ context.Context, key settings.Key, value string) error {
	f.key, f.value = key, value
	return f.err
}

type mapKeys map[string]*auth.APIKeyInfo

func (m mapKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := m[hash]; ok {
		return info, nil
	}
	return nil, auth.ErrKeyNotFound
}

var pepper = []byte("pepper")

type fixture struct {
	orders   *fakeOrders
	settings *fakeSettings
	tokens   *auth.Tokens
	server   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokens([]byte("jwt-secret"), "storefront")
	require.NoError(t, err)

	keys := mapKeys{}
	for key, scopes := range map[string][]string{
		"ops-key":   {auth.ScopeOrders},
		"admin-key": {"*"},
	} {
		hash := auth.HashKey(pepper, key)
		keys[hash] = &auth.APIKeyInfo{ID: key, KeyHash: hash, Scopes: scopes}
	}

	f := &fixture{orders: &fakeOrders{}, settings: &fakeSettings{}, tokens: tokens}
	h := NewHandler(Config{}, f.orders, f.settings, tokens, auth.NewKeyAuthenticator(keys, pepper))
	f.server = h.Router()
	return f
}

func (f *fixture) customer(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := f.tokens.Issue("user-1", time.Hour)
	require.NoError(t, err)
	return f.do(method, path, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
}

func (f *fixture) admin(method, path, key, body string) *httptest.ResponseRecorder {
	return f.do(method, path, body, func(r *http.Request) {
		if key != "" {
			r.Header.Set(APIKeyHeader, key)
		}
	})
}

func (f *fixture) do(method, path, body string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	prepare(req)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

const checkoutJSON = `{
	"address_id": "addr-1",
	"coupon_code": "save10",
	"payment_method": "gateway",
	"notes": "ring twice",
	"items": [{"variant_id": "v-1", "quantity": 2}, {"variant_id": "v-2", "quantity": 1}]
}`

func TestEvaluateCheckout(t *testing.T) {
	f := newFixture(t)

	w := f.customer(t, http.MethodPost, "/api/checkout/evaluate", checkoutJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"subtotal": "1000.00",
		"shipping_zone": "cairo",
		"shipping_cost": "50.00",
		"discount": "100.00",
		"total": "950.00",
		"currency": "EGP",
		"promotion": {"id": "promo-1", "name": "Ten off", "type": "percentage", "coupon_code": "SAVE10"}
	}`, w.Body.String())

	assert.Equal(t, order.EvaluateRequest{
		UserID:     "user-1",
		AddressID:  "addr-1",
		CouponCode: "save10",
		Lines:      []order.CartLine{{VariantID: "v-1", Quantity: 2}, {VariantID: "v-2", Quantity: 1}},
	}, f.orders.evaluateReq)
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.placeRes = &order.PlaceOrderResult{
		Order: sampleOrder("o-1"),
		Redirect: &payment.Redirect{
			Provider: "kashier",
			URL:      "https://checkout.example/pay",
			Params:   map[string]string{"orderId": "o-1", "hash": "abc"},
		},
	}

	w := f.customer(t, http.MethodPost, "/api/orders", checkoutJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":"950.00"`)
	assert.Contains(t, w.Body.String(), `"redirect":{"provider":"kashier","url":"https://checkout.example/pay","params":{"hash":"abc","orderId":"o-1"}}`)
	assert.NotContains(t, w.Body.String(), "payment_error")

	req := f.orders.placeReq
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, payment.MethodGateway, req.PaymentMethod)
	assert.Equal(t, "ring twice", req.Notes)
	assert.Len(t, req.Lines, 2)
}

func TestPlaceOrder_PaymentErrorKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.placeRes = &order.PlaceOrderResult{
		Order:      sampleOrder("o-1"),
		PaymentErr: errors.Wrap(payment.ErrGateway, "timeout"),
	}

	w := f.customer(t, http.MethodPost, "/api/orders", checkoutJSON)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"payment_error"`)
	assert.NotContains(t, w.Body.String(), "timeout")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", &order.ValidationError{Field: "lines", Reason: "is empty"}, http.StatusBadRequest},
		{"stock", &inventory.InsufficientStockError{VariantID: "v-1", SKU: "SKU-1", Requested: 2, Available: 1}, http.StatusUnprocessableEntity},
		{"inactive variant", inventory.ErrVariantInactive, http.StatusUnprocessableEntity},
		{"promotion", promotion.ErrLimitReached, http.StatusUnprocessableEntity},
		{"not found", order.ErrNotFound, http.StatusNotFound},
		{"transition", &order.InvalidTransitionError{Op: "cancel", From: "delivered"}, http.StatusConflict},
		{"concurrent", order.ErrConcurrentUpdate, http.StatusConflict},
		{"unsupported method", errors.Wrap(payment.ErrUnsupportedMethod, "paypal"), http.StatusBadRequest},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.err = tt.err

			w := f.customer(t, http.MethodPost, "/api/orders", checkoutJSON)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.wantCode == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "connection reset")
			}
		})
	}
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	f := newFixture(t)

	w := f.customer(t, http.MethodPost, "/api/orders", `{"items": [{"quantity": "two"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed JSON")
}

func TestCustomerAuth(t *testing.T) {
	f := newFixture(t)
	other, err := auth.NewTokens([]byte("other-secret"), "storefront")
	require.NoError(t, err)
	forged, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic dXNlcjpwYXNz",
		"forged":     "Bearer " + forged,
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/orders/o-1", "", func(r *http.Request) {
				if header != "" {
					r.Header.Set("Authorization", header)
				}
			})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
	assert.Empty(t, f.orders.calls)
}

func TestCustomerOrderRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.customer(t, http.MethodGet, "/api/orders/o-7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"o-7"`)
	assert.Contains(t, w.Body.String(), `"return_status":"none"`)
	assert.Contains(t, w.Body.String(), `"created_at":"2026-05-01T10:00:00Z"`)

	w = f.customer(t, http.MethodPost, "/api/orders/o-7/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.customer(t, http.MethodPost, "/api/orders/o-7/return", `{"reason":"Too small"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []call{
		{op: "get", id: "o-7", userID: "user-1"},
		{op: "cancel", id: "o-7", userID: "user-1"},
		{op: "return", id: "o-7", userID: "user-1", reason: "Too small"},
	}, f.orders.calls)
}

func TestAdminRoutes(t *testing.T) {
	tests := []struct {
		path string
		key  string
		body string
		want call
	}{
		{path: "/api/admin/orders/o-1/ship", key: "ops-key", want: call{op: "ship", id: "o-1"}},
		{path: "/api/admin/orders/o-1/deliver", key: "ops-key", want: call{op: "deliver", id: "o-1"}},
		{path: "/api/admin/orders/o-1/cancel", key: "ops-key", want: call{op: "cancel", id: "o-1"}},
		{path: "/api/admin/orders/o-1/refund", key: "admin-key", want: call{op: "refund", id: "o-1"}},
		{path: "/api/admin/orders/o-1/return/approve", key: "ops-key", want: call{op: "approve", id: "o-1"}},
		{path: "/api/admin/orders/o-1/return/reject", key: "ops-key", body: `{"reason":"Worn"}`, want: call{op: "reject", id: "o-1", reason: "Worn"}},
		{path: "/api/admin/orders/o-1/return/complete", key: "ops-key", want: call{op: "complete", id: "o-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.want.op, func(t *testing.T) {
			f := newFixture(t)

			w := f.admin(http.MethodPost, tt.path, tt.key, tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []call{tt.want}, f.orders.calls)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.admin(http.MethodPost, "/api/admin/orders/o-1/ship", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.admin(http.MethodPost, "/api/admin/orders/o-1/ship", "wrong", "").Code)
	assert.Equal(t, http.StatusForbidden, f.admin(http.MethodPost, "/api/admin/orders/o-1/refund", "ops-key", "").Code)
	assert.Equal(t, http.StatusForbidden, f.admin(http.MethodPut, "/api/admin/settings/currency", "ops-key", `{"value":"USD"}`).Code)
	assert.Empty(t, f.orders.calls)
}

func TestAdminRefundFailure(t *testing.T) {
	f := newFixture(t)
	f.orders.err = &order.RefundFailedError{
		OrderID: "o-1",
		Result:  payment.RefundResult{Message: "gateway timeout", Cause: errors.Wrap(payment.ErrGateway, "timeout")},
	}

	w := f.admin(http.MethodPost, "/api/admin/orders/o-1/refund", "admin-key", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "gateway timeout")
}

func TestUpdateSetting(t *testing.T) {
	f := newFixture(t)

	w := f.admin(http.MethodPut, "/api/admin/settings/return_window_days", "admin-key", `{"value":"30"}`)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, settings.KeyReturnWindowDays, f.settings.key)
	assert.Equal(t, "30", f.settings.value)

	f.settings.err = errors.Wrap(settings.ErrUnknownKey, `"color"`)
	w = f.admin(http.MethodPut, "/api/admin/settings/color", "admin-key", `{"value":"red"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.settings.err = errors.Wrap(settings.ErrInvalidValue, "currency")
	w = f.admin(http.MethodPut, "/api/admin/settings/currency", "admin-key", `{"value":"EURO"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhook(t *testing.T) {
	f := newFixture(t)
	paid := sampleOrder("o-1")
	paid.PaymentStatus = order.PaymentPaid
	f.orders.confirmRes = &order.ConfirmPaymentResult{
		Order: paid,
		Event: &payment.WebhookEvent{Provider: "kashier", OrderID: "o-1", TransactionID: "tx-1", Paid: true},
	}

	w := f.do(http.MethodPost, "/api/payments/kashier/webhook?source=test", `{"data":{}}`, func(r *http.Request) {
		r.Header.Set("X-Kashier-Signature", "sig")
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":false,"payment_status":"paid"}`, w.Body.String())
	assert.Equal(t, "kashier", f.orders.provider)
	assert.Equal(t, `{"data":{}}`, string(f.orders.webhook.Body))
	assert.Equal(t, "sig", f.orders.webhook.Header.Get("X-Kashier-Signature"))
	assert.Equal(t, "test", f.orders.webhook.Query.Get("source"))
}

func TestPaymentWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		res      *order.ConfirmPaymentResult
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "duplicate",
			res:      &order.ConfirmPaymentResult{Event: &payment.WebhookEvent{OrderID: "o-1"}, Duplicate: true},
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok","duplicate":true}`,
		},
		{
			name:     "ignored event",
			err:      errors.Wrap(payment.ErrNotApplicable, "stripe event"),
			wantCode: http.StatusOK,
			wantBody: `{"status":"ignored"}`,
		},
		{
			name:     "bad signature",
			err:      payment.ErrInvalidSignature,
			wantCode: http.StatusUnauthorized,
			wantBody: `{"code":401,"message":"unauthorized"}`,
		},
		{
			name:     "amount mismatch",
			err:      &order.ValidationError{Field: "amount", Reason: "does not match order total"},
			wantCode: http.StatusBadRequest,
			wantBody: `{"code":400,"message":"amount: does not match order total"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.confirmRes, f.orders.err = tt.res, tt.err

			w := f.do(http.MethodPost, "/api/payments/stripe/webhook", `{}`, func(*http.Request) {})
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestRouteNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/products", "", func(*http.Request) {})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"message":"route not found"}`, w.Body.String())
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(Config{MaxBodyBytes: 16}, f.orders, f.settings, f.tokens, nil)
	f.server = h.Router()

	w := f.customer(t, http.MethodPost, "/api/orders", checkoutJSON)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too large")
}
