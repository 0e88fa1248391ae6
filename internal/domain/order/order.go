package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
)

// Order is the root aggregate of a customer purchase.
type Order struct {
	ID                string
	Number            string
	UserID            string
	Status            Status
	PaymentStatus     PaymentStatus
	PaymentMethod     payment.Method
	ShippingAddressID string
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	CouponCode        string
	PromotionID       string
	Notes             string

	ReturnStatus          ReturnStatus
	ReturnReason          string
	ReturnRejectionReason string

	PaymentReference string
	RefundReference  string

	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	ReturnRequestedAt *time.Time
	ReturnedAt        *time.Time
	RefundedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Version is incremented on every update.
	Version int

	Items []Item
}

// Item is an order line. Items are not modified after placement.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	VariantID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Address is a customer's shipping address.
type Address struct {
	ID      string
	UserID  string
	Name    string
	Phone   string
	Line1   string
	Line2   string
	City    string
	Country string
}

// Lines returns the inventory lines held by the order.
func (o *Order) Lines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		if it.VariantID == "" {
			continue
		}
		lines = append(lines, inventory.Line{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return lines
}

// RefundOwed reports whether money was collected through a provider and has
// not been returned.
func (o *Order) RefundOwed() bool {
	return o.PaymentStatus == PaymentPaid && o.PaymentMethod != payment.MethodCashOnDelivery
}

// CheckTotals verifies total == subtotal + shipping - discount with no
// negative amounts.
func (o *Order) CheckTotals() error {
	for _, v := range []decimal.Decimal{o.Subtotal, o.ShippingCost, o.Discount, o.Total} {
		if v.IsNegative() {
			return errors.New("order amounts must not be negative")
		}
	}
	if !o.Subtotal.Add(o.ShippingCost).Sub(o.Discount).Equal(o.Total) {
		return errors.Errorf("total %s does not equal %s + %s - %s", o.Total, o.Subtotal, o.ShippingCost, o.Discount)
	}
	return nil
}

func (o *Order) invalid(op, reason string) error {
	from := string(o.Status)
	if o.ReturnStatus != ReturnNone {
		from += "/" + o.ReturnStatus.String()
	}
	return &InvalidTransitionError{Op: op, From: from, Reason: reason}
}

func (o *Order) moveTo(op string, next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return o.invalid(op, "")
	}
	o.Status = next
	return nil
}

func (o *Order) ship(now time.Time) error {
	if err := o.moveTo("ship", StatusShipped); err != nil {
		return err
	}
	o.ShippedAt = &now
	return nil
}

func (o *Order) deliver(now time.Time) error {
	if err := o.moveTo("deliver", StatusDelivered); err != nil {
		return err
	}
	o.DeliveredAt = &now
	if o.PaymentMethod == payment.MethodCashOnDelivery && o.PaymentStatus == PaymentPending {
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &now
	}
	return nil
}

func (o *Order) cancel(now time.Time) error {
	if err := o.moveTo("cancel", StatusCancelled); err != nil {
		return err
	}
	o.CancelledAt = &now
	return nil
}

// checkRefundable verifies a provider refund may be issued now.
func (o *Order) checkRefundable() error {
	switch {
	case o.PaymentMethod == payment.MethodCashOnDelivery:
		return o.invalid("refund", "cash on delivery orders are not refunded through a gateway")
	case o.PaymentStatus == PaymentRefunded:
		return o.invalid("refund", "order is already refunded")
	case o.PaymentStatus != PaymentPaid:
		return o.invalid("refund", "order is not paid")
	case o.Status != StatusCancelled && o.ReturnStatus != ReturnItemReturned:
		return o.invalid("refund", "order must be cancelled or its items returned")
	}
	return nil
}

func (o *Order) markRefunded(res payment.RefundResult, now time.Time) {
	o.PaymentStatus = PaymentRefunded
	o.RefundedAt = &now
	o.RefundReference = res.TransactionID
	if o.ReturnStatus == ReturnItemReturned {
		o.ReturnStatus = ReturnRefundProcessed
	}
}

func (o *Order) moveReturn(op string, next ReturnStatus, allowAfterRejection bool) error {
	if o.Status != StatusDelivered {
		return o.invalid(op, "order is not delivered")
	}
	if !o.ReturnStatus.CanTransitionTo(next, allowAfterRejection) {
		return o.invalid(op, "")
	}
	o.ReturnStatus = next
	return nil
}

func (o *Order) requestReturn(now time.Time, reason string, window time.Duration, allowAfterRejection bool) error {
	if window > 0 && o.DeliveredAt != nil && now.After(o.DeliveredAt.Add(window)) {
		return o.invalid("request return", "return window has closed")
	}
	if err := o.moveReturn("request return", ReturnRequested, allowAfterRejection); err != nil {
		return err
	}
	o.ReturnReason = reason
	o.ReturnRejectionReason = ""
	o.ReturnRequestedAt = &now
	return nil
}

func (o *Order) approveReturn() error {
	return o.moveReturn("approve return", ReturnApproved, false)
}

func (o *Order) rejectReturn(reason string) error {
	if err := o.moveReturn("reject return", ReturnRejected, false); err != nil {
		return err
	}
	o.ReturnRejectionReason = reason
	return nil
}

func (o *Order) completeReturn(now time.Time) error {
	if err := o.moveReturn("complete return", ReturnItemReturned, false); err != nil {
		return err
	}
	o.ReturnedAt = &now
	return nil
}

// confirmPayment applies a verified provider outcome. It reports false when
// the order already reflects a settled payment.
func (o *Order) confirmPayment(paid bool, reference string, now time.Time) bool {
	switch o.PaymentStatus {
	case PaymentPaid, PaymentRefunded:
		return false
	}
	if !paid {
		if o.PaymentStatus == PaymentFailed {
			return false
		}
		o.PaymentStatus = PaymentFailed
		return true
	}
	o.PaymentStatus = PaymentPaid
	o.PaymentReference = reference
	o.PaidAt = &now
	return true
}
