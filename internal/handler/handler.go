// Package handler implements the storefront HTTP API on top of the order
// service.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// OrderService is the subset of order.Service served over HTTP.
type OrderService interface {
	EvaluateOrder(ctx context.Context, req order.EvaluateRequest) (*order.Evaluation, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id, userID string) (*order.Order, error)
	CancelOrder(ctx context.Context, req order.CancelRequest) (*order.Order, error)
	RequestReturn(ctx context.Context, req order.ReturnRequest) (*order.Order, error)

	MarkShipped(ctx context.Context, id string) (*order.Order, error)
	MarkDelivered(ctx context.Context, id string) (*order.Order, error)
	ProcessRefund(ctx context.Context, id string) (*order.Order, error)
	ApproveReturn(ctx context.Context, id string) (*order.Order, error)
	RejectReturn(ctx context.Context, id, reason string) (*order.Order, error)
	CompleteReturn(ctx context.Context, id string) (*order.Order, error)

	ConfirmPayment(ctx context.Context, provider string, req payment.WebhookRequest) (*order.ConfirmPaymentResult, error)
}

// SettingsService updates store settings.
type SettingsService interface {
	Update(ctx context.Context, key settings.Key, value string) error
}

// TokenParser verifies customer bearer tokens.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// KeyAuthenticator verifies admin API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

var (
	_ OrderService     = (*order.Service)(nil)
	_ SettingsService  = (*settings.Service)(nil)
	_ TokenParser      = (*auth.Tokens)(nil)
	_ KeyAuthenticator = (*auth.KeyAuthenticator)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// MaxBodyBytes limits request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the customer, admin and webhook routes.
type Handler struct {
	orders   OrderService
	settings SettingsService
	tokens   TokenParser
	keys     KeyAuthenticator
	maxBody  int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, orders OrderService, st SettingsService, tokens TokenParser, keys KeyAuthenticator) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		orders:   orders,
		settings: st,
		tokens:   tokens,
		keys:     keys,
		maxBody:  cfg.MaxBodyBytes,
	}
}

// Router registers every API route on a new chi router.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireCustomer)
		r.Post("/api/checkout/evaluate", h.EvaluateCheckout)
		r.Post("/api/orders", h.PlaceOrder)
		r.Get("/api/orders/{id}", h.GetOrder)
		r.Post("/api/orders/{id}/cancel", h.CancelOrder)
		r.Post("/api/orders/{id}/return", h.RequestReturn)
	})

	r.Post("/api/payments/{provider}/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.requireKey(auth.ScopeOrders))
		r.Post("/api/admin/orders/{id}/ship", h.adminAction("ship", h.orders.MarkShipped))
		r.Post("/api/admin/orders/{id}/deliver", h.adminAction("deliver", h.orders.MarkDelivered))
		r.Post("/api/admin/orders/{id}/cancel", h.adminAction("cancel", h.adminCancel))
		r.Post("/api/admin/orders/{id}/return/approve", h.adminAction("approve_return", h.orders.ApproveReturn))
		r.Post("/api/admin/orders/{id}/return/reject", h.RejectReturn)
		r.Post("/api/admin/orders/{id}/return/complete", h.adminAction("complete_return", h.orders.CompleteReturn))
	})
	r.With(h.requireKey(auth.ScopeRefunds)).
		Post("/api/admin/orders/{id}/refund", h.adminAction("refund", h.orders.ProcessRefund))
	r.With(h.requireKey(auth.ScopeSettings)).
		Put("/api/admin/settings/{key}", h.UpdateSetting)

	return r
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}
