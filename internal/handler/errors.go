package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// statusFor maps domain errors to HTTP status codes and client messages.
// Unknown errors are internal and their message is not exposed.
func statusFor(err error) (int, string) {
	var refund *order.RefundFailedError
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, payment.ErrNotApplicable):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return http.StatusBadRequest, "unsupported payment provider"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, settings.ErrUnknownKey):
		return http.StatusNotFound, "unknown setting"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrConcurrentUpdate):
		return http.StatusConflict, "order was modified concurrently, retry"
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrVariantNotFound),
		errors.Is(err, inventory.ErrVariantInactive),
		errors.Is(err, promotion.ErrInvalid):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &refund):
		return http.StatusBadGateway, refund.Error()
	case errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway, "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		lg.Warn("Request not authorized", zap.Int("status", status), zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	httpmiddleware.WriteError(w, r, status, msg)
}
