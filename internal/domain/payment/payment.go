// Package payment abstracts the payment providers an order can be paid with.
package payment

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method is the payment method chosen at checkout.
type Method string

const (
	// MethodCashOnDelivery is paid to the courier on delivery.
	MethodCashOnDelivery Method = "cash_on_delivery"
	// MethodCreditCard is paid through a Stripe checkout session.
	MethodCreditCard Method = "credit_card"
	// MethodGateway is paid through the Kashier hosted payment page.
	MethodGateway Method = "gateway"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCashOnDelivery, MethodCreditCard, MethodGateway:
		return true
	default:
		return false
	}
}

var (
	// ErrGateway marks network or provider-side failures.
	ErrGateway = errors.New("payment gateway error")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupportedMethod is returned when no gateway serves a method.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrNotApplicable is returned for operations a gateway does not offer.
	ErrNotApplicable = errors.New("operation not applicable to payment method")
)

// Charge describes what the customer is asked to pay.
type Charge struct {
	OrderID     string
	OrderNumber string
	CustomerID  string
	Amount      decimal.Decimal
	Currency    string
	Items       []ChargeItem
}

// ChargeItem is an order line shown on hosted checkout pages.
type ChargeItem struct {
	Name      string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Redirect is what the client needs to continue payment off-site.
type Redirect struct {
	Provider  string
	URL       string
	SessionID string
	// Params holds the signed fields for providers that post a form.
	Params map[string]string
	ExpiresAt time.Time
}

// WebhookRequest is an inbound provider callback.
type WebhookRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// WebhookEvent is a verified payment outcome.
type WebhookEvent struct {
	Provider      string
	OrderID       string
	TransactionID string
	// Reference identifies the payment for later refunds.
	Reference   string
	Paid        bool
	Amount      decimal.Decimal
	Currency    string
	GatewayCode string
	Message     string
}

// RefundRequest asks a provider to return money for an order.
type RefundRequest struct {
	OrderID          string
	PaymentReference string
	Amount           decimal.Decimal
	Currency         string
	Reason           string
}

// RefundResult is the typed outcome of a refund attempt. Transport and
// provider failures are reported here rather than as errors.
type RefundResult struct {
	Success        bool
	Provider       string
	TransactionID  string
	OrderReference string
	GatewayCode    string
	Message        string
	Amount         decimal.Decimal
	Currency       string
	ProcessedAt    time.Time
	Cause          error
}

func failedRefund(provider string, cause error, now time.Time) RefundResult {
	return RefundResult{
		Provider:    provider,
		Message:     cause.Error(),
		ProcessedAt: now,
		Cause:       cause,
	}
}

// Gateway is a payment provider.
type Gateway interface {
	// Name is the provider name used in webhook routes.
	Name() string
	// BuildPaymentRedirect returns nil when no redirect is needed.
	BuildPaymentRedirect(ctx context.Context, c Charge) (*Redirect, error)
	ValidateWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error)
	Refund(ctx context.Context, req RefundRequest) RefundResult
}

// minorUnits converts an amount to the smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
