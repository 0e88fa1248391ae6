// Package notify implements order.Notifier adapters.
package notify

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/xenking/storefront/internal/domain/order"
)

// Kind names a notification.
type Kind string

const (
	KindOrderPlaced     Kind = "order_placed"
	KindOrderCancelled  Kind = "order_cancelled"
	KindReturnRequested Kind = "return_requested"
	KindStatusChanged   Kind = "status_changed"
)

// Event is the payload delivered to the mailer.
type Event struct {
	Kind          Kind
	Recipient     order.Recipient
	OrderID       string
	OrderNumber   string
	UserID        string
	Status        string
	PaymentStatus string
	ReturnStatus  string
	Total         decimal.Decimal
	Currency      string
	// DisplayTotal is Total formatted for the store locale.
	DisplayTotal string
	RefundOwed   bool
	Reason       string
	Subject      string
	OccurredAt   time.Time
}

// Formatter renders amounts for humans.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter returns a Formatter for a BCP 47 locale tag.
func NewFormatter(locale string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, errors.Wrapf(err, "parse locale %q", locale)
	}
	return &Formatter{printer: message.NewPrinter(tag)}, nil
}

// Amount formats v in the given ISO 4217 currency. Unknown currencies fall
// back to "<code> <amount>".
func (f *Formatter) Amount(v decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code + " " + v.StringFixed(2)
	}
	return f.printer.Sprint(currency.Symbol(unit.Amount(v.InexactFloat64())))
}

func subject(kind Kind, o *order.Order, to order.Recipient) string {
	switch kind {
	case KindOrderPlaced:
		if to == order.RecipientAdmin {
			return "New order " + o.Number
		}
		return "Order " + o.Number + " received"
	case KindOrderCancelled:
		if o.RefundOwed() {
			if to == order.RecipientAdmin {
				return "Order " + o.Number + " cancelled, refund required"
			}
			return "Order " + o.Number + " cancelled, your refund is being processed"
		}
		return "Order " + o.Number + " cancelled"
	case KindReturnRequested:
		return "Return requested for order " + o.Number
	default:
		return "Order " + o.Number + " update"
	}
}

func (f *Formatter) event(kind Kind, o *order.Order, to order.Recipient, now time.Time) Event {
	ev := Event{
		Kind:          kind,
		Recipient:     to,
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		ReturnStatus:  o.ReturnStatus.String(),
		Total:         o.Total,
		Currency:      o.Currency,
		DisplayTotal:  f.Amount(o.Total, o.Currency),
		RefundOwed:    o.RefundOwed(),
		Subject:       subject(kind, o, to),
		OccurredAt:    now.UTC(),
	}
	switch {
	case kind == KindReturnRequested:
		ev.Reason = o.ReturnReason
	case o.ReturnStatus == order.ReturnRejected:
		ev.Reason = o.ReturnRejectionReason
	}
	return ev
}

// Encode writes the event as a JSON object.
func (ev Event) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(ev.Kind))
	e.FieldStart("recipient")
	e.Str(string(ev.Recipient))
	e.FieldStart("order_id")
	e.Str(ev.OrderID)
	e.FieldStart("order_number")
	e.Str(ev.OrderNumber)
	e.FieldStart("user_id")
	e.Str(ev.UserID)
	e.FieldStart("status")
	e.Str(ev.Status)
	e.FieldStart("payment_status")
	e.Str(ev.PaymentStatus)
	e.FieldStart("return_status")
	e.Str(ev.ReturnStatus)
	e.FieldStart("total")
	e.Str(ev.Total.StringFixed(2))
	e.FieldStart("currency")
	e.Str(ev.Currency)
	e.FieldStart("display_total")
	e.Str(ev.DisplayTotal)
	e.FieldStart("refund_owed")
	e.Bool(ev.RefundOwed)
	if ev.Reason != "" {
		e.FieldStart("reason")
		e.Str(ev.Reason)
	}
	e.FieldStart("subject")
	e.Str(ev.Subject)
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.Format(time.RFC3339))
	e.ObjEnd()
}
