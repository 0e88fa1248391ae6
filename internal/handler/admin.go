package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settings"
)

// adminAction serves an order operation that needs only the order id.
func (h *Handler) adminAction(name string, op func(ctx context.Context, id string) (*order.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		o, err := op(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		zctx.From(r.Context()).Info("Admin order action",
			zap.String("action", name),
			zap.String("order_id", id),
			zap.String("status", string(o.Status)),
		)
		writeOrder(w, http.StatusOK, o)
	}
}

func (h *Handler) adminCancel(ctx context.Context, id string) (*order.Order, error) {
	return h.orders.CancelOrder(ctx, order.CancelRequest{OrderID: id})
}

// RejectReturn rejects a requested return with the reason from the body.
func (h *Handler) RejectReturn(w http.ResponseWriter, r *http.Request) {
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
	h.adminAction("reject_return", func(ctx context.Context, id string) (*order.Order, error) {
		return h.orders.RejectReturn(ctx, id, reason)
	})(w, r)
}

// UpdateSetting stores a setting and invalidates cached settings.
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	value, err := decodeField(body, "value")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := settings.Key(chi.URLParam(r, "key"))
	if err := h.settings.Update(r.Context(), key, value); err != nil {
		h.fail(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Setting updated", zap.String("key", string(key)))
	w.WriteHeader(http.StatusNoContent)
}
