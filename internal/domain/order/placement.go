package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// CartLine is a requested quantity of a variant.
type CartLine struct {
	VariantID string
	Quantity  int
}

// EvaluateRequest describes a checkout preview.
type EvaluateRequest struct {
	UserID     string
	AddressID  string
	CouponCode string
	Lines      []CartLine
}

// PlaceOrderRequest describes a checkout.
type PlaceOrderRequest struct {
	UserID        string
	AddressID     string
	PaymentMethod payment.Method
	CouponCode    string
	Notes         string
	Lines         []CartLine
}

// Evaluation is the priced checkout before the order is written.
type Evaluation struct {
	AddressID string
	Subtotal  decimal.Decimal
	Shipping  shipping.Quote
	// ShippingCost is the charged shipping after promotions.
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Currency     string
	Promotion    *promotion.Promotion
	CouponCode   string
}

// withoutPromotion returns the evaluation priced with no promotion applied.
func (ev *Evaluation) withoutPromotion() *Evaluation {
	c := *ev
	c.Promotion = nil
	c.CouponCode = ""
	c.Discount = decimal.Zero
	c.ShippingCost = ev.Shipping.Cost.Round(2)
	c.Total = c.Subtotal.Add(c.ShippingCost)
	return &c
}

// PlaceOrderResult is the outcome of a successful checkout.
type PlaceOrderResult struct {
	Order      *Order
	Evaluation *Evaluation
	// Redirect is set for methods paid off-site.
	Redirect *payment.Redirect
	// PaymentErr reports a gateway failure after the order was committed.
	// The order stays pending and payment can be retried.
	PaymentErr error
}

func validateLines(lines []CartLine) ([]inventory.Line, error) {
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	out := make([]inventory.Line, len(lines))
	for i, l := range lines {
		if l.VariantID == "" {
			return nil, &ValidationError{Field: "items.variant_id", Reason: "is required"}
		}
		if l.Quantity <= 0 {
			return nil, &ValidationError{Field: "items.quantity", Reason: "must be greater than 0"}
		}
		out[i] = inventory.Line{VariantID: l.VariantID, Quantity: l.Quantity}
	}
	return out, nil
}

// ownedAddress loads the address and checks it belongs to userID.
func (s *Service) ownedAddress(ctx context.Context, userID, addressID string) (*Address, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if addressID == "" {
		return nil, &ValidationError{Field: "address_id", Reason: "is required"}
	}
	addr, err := s.addresses.Get(ctx, addressID)
	if err != nil {
		if errors.Is(err, ErrAddressNotFound) {
			return nil, &ValidationError{Field: "address_id", Reason: "address not found"}
		}
		return nil, errors.Wrap(err, "get address")
	}
	if addr.UserID != userID {
		return nil, &ValidationError{Field: "address_id", Reason: "address does not belong to the customer"}
	}
	return addr, nil
}

// evaluate prices lines against variants, applies the promotion and quotes
// shipping.
func (s *Service) evaluate(ctx context.Context, userID string, addr *Address, variants map[string]inventory.Variant, lines []CartLine, code, currency string) (*Evaluation, error) {
	cart := promotion.Cart{CustomerID: userID, Lines: make([]promotion.Line, 0, len(lines))}
	for _, l := range lines {
		v := variants[l.VariantID]
		cart.Lines = append(cart.Lines, promotion.Line{
			ProductID:  v.ProductID,
			VariantID:  v.ID,
			CategoryID: v.CategoryID,
			BrandID:    v.BrandID,
			UnitPrice:  v.UnitPrice(),
			Quantity:   l.Quantity,
		})
	}
	subtotal := cart.Subtotal().Round(2)

	quote, err := s.shipping.Quote(ctx, addr.City, subtotal)
	if err != nil {
		return nil, errors.Wrap(err, "quote shipping")
	}
	cart.ShippingCost = quote.Cost

	d, err := s.promotions.Evaluate(ctx, cart, code)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		AddressID:    addr.ID,
		Subtotal:     subtotal,
		Shipping:     quote,
		ShippingCost: quote.Cost.Round(2),
		Discount:     decimal.Zero,
		Currency:     currency,
	}
	if d != nil {
		ev.Promotion = d.Promotion
		ev.CouponCode = d.Promotion.Code
		ev.Discount = decimal.Min(d.Amount, subtotal).Round(2)
		if d.FreeShipping {
			ev.ShippingCost = decimal.Zero
		}
	}
	ev.Total = ev.Subtotal.Add(ev.ShippingCost).Sub(ev.Discount)
	return ev, nil
}

// EvaluateOrder prices a cart without reserving stock or writing anything.
func (s *Service) EvaluateOrder(ctx context.Context, req EvaluateRequest) (_ *Evaluation, err error) {
	ctx, span := s.startSpan(ctx, "EvaluateOrder", "")
	defer func() { endSpan(span, err) }()

	lines, err := validateLines(req.Lines)
	if err != nil {
		return nil, err
	}
	addr, err := s.ownedAddress(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get settings")
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.VariantID)
	}
	slices.Sort(ids)
	variants, err := s.catalog.GetByIDs(ctx, slices.Compact(ids))
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}
	byID, err := inventory.Check(variants, lines)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, req.UserID, addr, byID, req.Lines, req.CouponCode, st.Currency)
}

// PlaceOrder reserves stock, prices the cart and writes the order in one
// transaction, then starts payment and sends notifications.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, err error) {
	ctx, span := s.startSpan(ctx, "PlaceOrder", "")
	defer func() { endSpan(span, err) }()

	lines, err := validateLines(req.Lines)
	if err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Valid() {
		return nil, &ValidationError{Field: "payment_method", Reason: "unsupported payment method"}
	}
	gateway, err := s.payments.For(req.PaymentMethod)
	if err != nil {
		return nil, &ValidationError{Field: "payment_method", Reason: "payment method is not available"}
	}
	notes, err := s.cleanText("notes", req.Notes, false)
	if err != nil {
		return nil, err
	}
	addr, err := s.ownedAddress(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get settings")
	}

	var (
		o  *Order
		ev *Evaluation
	)
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		variants, err := inventory.NewLedger(tx.Inventory()).ReserveAll(ctx, lines)
		if err != nil {
			return err
		}
		ev, err = s.evaluate(ctx, req.UserID, addr, variants, req.Lines, req.CouponCode, st.Currency)
		if err != nil {
			return err
		}
		if ev.Promotion != nil {
			switch err := tx.Promotions().Consume(ctx, ev.Promotion.ID); {
			case err == nil:
			case ev.Promotion.Automatic() && errors.Is(err, promotion.ErrLimitReached):
				// Used up by a concurrent checkout: place at full price.
				zctx.From(ctx).Info("Automatic promotion exhausted",
					zap.String("promotion_id", ev.Promotion.ID),
				)
				ev = ev.withoutPromotion()
			default:
				return err
			}
		}

		o = s.assemble(req, notes, ev, variants)
		if err := o.CheckTotals(); err != nil {
			return errors.Wrap(err, "assemble order")
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if ev.Promotion == nil {
			return nil
		}
		if err := tx.Promotions().RecordUsage(ctx, promotion.Usage{
			PromotionID:    ev.Promotion.ID,
			UserID:         o.UserID,
			OrderID:        o.ID,
			DiscountAmount: ev.Discount,
			UsedAt:         o.CreatedAt,
		}); err != nil {
			return errors.Wrap(err, "record promotion usage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, "place", o)
	span.SetAttributes(orderIDAttr(o.ID))
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))
	lg.Info("Order placed",
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.StringFixed(2)),
	)

	res := &PlaceOrderResult{Order: o, Evaluation: ev}
	if o.PaymentMethod != payment.MethodCashOnDelivery {
		res.Redirect, res.PaymentErr = gateway.BuildPaymentRedirect(ctx, chargeFor(o))
		if res.PaymentErr != nil {
			lg.Warn("Payment redirect failed", zap.Error(res.PaymentErr))
		}
	}

	s.notify(ctx, "order_placed", o, func(ctx context.Context) error {
		return s.notifier.SendOrderPlaced(ctx, o)
	})
	return res, nil
}

func (s *Service) assemble(req PlaceOrderRequest, notes string, ev *Evaluation, variants map[string]inventory.Variant) *Order {
	now := s.clock()
	o := &Order{
		ID:                s.newID(),
		Number:            s.newNumber(now),
		UserID:            req.UserID,
		Status:            StatusProcessing,
		PaymentStatus:     PaymentPending,
		PaymentMethod:     req.PaymentMethod,
		ShippingAddressID: ev.AddressID,
		Subtotal:          ev.Subtotal,
		ShippingCost:      ev.ShippingCost,
		Discount:          ev.Discount,
		Total:             ev.Total,
		Currency:          ev.Currency,
		CouponCode:        ev.CouponCode,
		Notes:             notes,
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             make([]Item, 0, len(req.Lines)),
	}
	if ev.Promotion != nil {
		o.PromotionID = ev.Promotion.ID
	}
	for _, l := range req.Lines {
		v := variants[l.VariantID]
		price := v.UnitPrice()
		o.Items = append(o.Items, Item{
			ID:        s.newID(),
			OrderID:   o.ID,
			ProductID: v.ProductID,
			VariantID: v.ID,
			SKU:       v.SKU,
			Name:      v.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Subtotal:  price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2),
		})
	}
	return o
}

func chargeFor(o *Order) payment.Charge {
	c := payment.Charge{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.UserID,
		Amount:      o.Total,
		Currency:    o.Currency,
		Items:       make([]payment.ChargeItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		c.Items = append(c.Items, payment.ChargeItem{
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return c
}
