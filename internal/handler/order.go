package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

// EvaluateCheckout prices a cart without placing the order.
func (h *Handler) EvaluateCheckout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeCheckout(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ev, err := h.orders.EvaluateOrder(r.Context(), order.EvaluateRequest{
		UserID:     UserIDFromContext(r.Context()),
		AddressID:  req.AddressID,
		CouponCode: req.CouponCode,
		Lines:      req.Lines,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeEvaluation(e, ev) })
}

// PlaceOrder places the order and returns the payment redirect, if any. A
// gateway failure after the order was written is reported in payment_error
// with 201, since the order exists and payment can be retried.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeCheckout(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:        UserIDFromContext(r.Context()),
		AddressID:     req.AddressID,
		PaymentMethod: payment.Method(req.PaymentMethod),
		CouponCode:    req.CouponCode,
		Notes:         req.Notes,
		Lines:         req.Lines,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.PaymentErr != nil {
		zctx.From(r.Context()).Warn("Payment redirect failed",
			zap.String("order_id", res.Order.ID),
			zap.Error(res.PaymentErr),
		)
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			if res.Redirect != nil {
				e.Field("redirect", func(e *jx.Encoder) { encodeRedirect(e, res.Redirect) })
			}
			if res.PaymentErr != nil {
				e.Field("payment_error", func(e *jx.Encoder) { e.Str("payment provider unavailable, retry payment later") })
			}
		})
	})
}

// GetOrder returns one of the customer's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// CancelOrder cancels one of the customer's orders.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), order.CancelRequest{
		OrderID: chi.URLParam(r, "id"),
		UserID:  UserIDFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// RequestReturn opens a return with the reason from the body.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reason, err := decodeField(body, "reason")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.RequestReturn(r.Context(), order.ReturnRequest{
		OrderID: chi.URLParam(r, "id"),
		UserID:  UserIDFromContext(r.Context()),
		Reason:  reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}
