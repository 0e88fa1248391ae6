package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/inventory"
)

const maxTextLength = 2000

// Options tunes business rules left to the store operator.
type Options struct {
	// AllowReturnAfterRejection lets a customer request a new return after a
	// previous request was rejected.
	AllowReturnAfterRejection bool
	// WebhookReplayTTL is how long processed webhook deliveries are remembered.
	WebhookReplayTTL time.Duration
}

// ServiceDeps holds the collaborators of Service.
type ServiceDeps struct {
	Tx         TxRunner
	Addresses  AddressRepository
	Catalog    inventory.Reader
	Promotions PromotionEvaluator
	Shipping   ShippingQuoter
	Settings   SettingsProvider
	Payments   Gateways
	Notifier   Notifier
	// Replay is optional. Without it duplicate webhooks are absorbed by the
	// payment status check alone.
	Replay ReplayGuard

	Meter  metric.Meter
	Tracer trace.Tracer
	Clock  func() time.Time
	NewID  func() string
	// NewNumber returns a customer-facing order number.
	NewNumber func(now time.Time) string

	Options Options
}

// Service is the order state machine. Every operation validates the current
// state, applies its side effects inside one transaction and dispatches
// notifications after commit.
type Service struct {
	tx         TxRunner
	addresses  AddressRepository
	catalog    inventory.Reader
	promotions PromotionEvaluator
	shipping   ShippingQuoter
	settings   SettingsProvider
	payments   Gateways
	notifier   Notifier
	replay     ReplayGuard

	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
	newID       func() string
	newNumber   func(time.Time) string
	sanitizer   *bluemonday.Policy
	opts        Options
}

// NewService validates deps and returns a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, errors.New("order: tx runner is required")
	case deps.Addresses == nil:
		return nil, errors.New("order: address repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order: catalog reader is required")
	case deps.Promotions == nil:
		return nil, errors.New("order: promotion evaluator is required")
	case deps.Shipping == nil:
		return nil, errors.New("order: shipping quoter is required")
	case deps.Settings == nil:
		return nil, errors.New("order: settings provider is required")
	case deps.Payments == nil:
		return nil, errors.New("order: payment gateways are required")
	case deps.Notifier == nil:
		return nil, errors.New("order: notifier is required")
	}

	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	transitions, err := meter.Int64Counter("storefront.order.transitions",
		metric.WithDescription("Order state transitions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}

	s := &Service{
		tx:          deps.Tx,
		addresses:   deps.Addresses,
		catalog:     deps.Catalog,
		promotions:  deps.Promotions,
		shipping:    deps.Shipping,
		settings:    deps.Settings,
		payments:    deps.Payments,
		notifier:    deps.Notifier,
		replay:      deps.Replay,
		tracer:      tracer,
		transitions: transitions,
		now:         deps.Clock,
		newID:       deps.NewID,
		newNumber:   deps.NewNumber,
		sanitizer:   bluemonday.StrictPolicy(),
		opts:        deps.Options,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.newNumber == nil {
		s.newNumber = func(now time.Time) string {
			return "SO-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
		}
	}
	if s.opts.WebhookReplayTTL <= 0 {
		s.opts.WebhookReplayTTL = 72 * time.Hour
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// cleanText strips markup and surrounding space from free-form input.
func (s *Service) cleanText(field, v string, required bool) (string, error) {
	v = strings.TrimSpace(s.sanitizer.Sanitize(v))
	if required && v == "" {
		return "", &ValidationError{Field: field, Reason: "is required"}
	}
	if len(v) > maxTextLength {
		return "", &ValidationError{Field: field, Reason: "is too long"}
	}
	return v, nil
}

func (s *Service) startSpan(ctx context.Context, op, orderID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "order."+op)
	if orderID != "" {
		span.SetAttributes(orderIDAttr(orderID))
	}
	return ctx, span
}

func orderIDAttr(id string) attribute.KeyValue {
	return attribute.String("order.id", id)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) recordTransition(ctx context.Context, op string, o *Order) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", string(o.Status)),
		attribute.String("return_status", o.ReturnStatus.String()),
		attribute.String("payment_status", string(o.PaymentStatus)),
	))
}

// notify runs a notifier call and logs its failure.
func (s *Service) notify(ctx context.Context, kind string, o *Order, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		zctx.From(ctx).Warn("Notification failed",
			zap.String("kind", kind),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// mutate loads the order under a row lock, applies fn and persists the result
// in one transaction. A non-empty userID restricts access to that customer's
// orders.
func (s *Service) mutate(ctx context.Context, id, userID string, fn func(ctx context.Context, tx Tx, o *Order) error) (*Order, error) {
	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && o.UserID != userID {
			return ErrNotFound
		}
		if err := fn(ctx, tx, o); err != nil {
			return err
		}
		o.UpdatedAt = s.clock()
		if err := tx.Orders().Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder returns an order. A non-empty userID restricts the lookup to that
// customer's orders.
func (s *Service) GetOrder(ctx context.Context, id, userID string) (*Order, error) {
	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		if userID != "" && o.UserID != userID {
			return ErrNotFound
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
