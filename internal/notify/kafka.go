package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Notifier = (*Kafka)(nil)

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns a synchronous writer that waits for all replicas.
// Messages are partitioned by key so events of one order stay ordered.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// Kafka publishes notification events for the mailer service.
type Kafka struct {
	w   MessageWriter
	f   *Formatter
	now func() time.Time
}

// NewKafka returns a Kafka notifier.
func NewKafka(w MessageWriter, f *Formatter) *Kafka {
	return &Kafka{w: w, f: f, now: time.Now}
}

func (k *Kafka) publish(ctx context.Context, kind Kind, o *order.Order, to ...order.Recipient) error {
	msgs := make([]kafka.Message, 0, len(to))
	for _, r := range to {
		ev := k.f.event(kind, o, r, k.now())

		e := jx.GetEncoder()
		ev.Encode(e)
		value := append([]byte(nil), e.Bytes()...)
		jx.PutEncoder(e)

		msgs = append(msgs, kafka.Message{
			Key:   []byte(o.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(kind)},
				{Key: "recipient", Value: []byte(r)},
			},
			Time: ev.OccurredAt,
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "publish %s", kind)
	}
	return nil
}

// SendOrderPlaced notifies the customer and the admin.
func (k *Kafka) SendOrderPlaced(ctx context.Context, o *order.Order) error {
	return k.publish(ctx, KindOrderPlaced, o, order.RecipientCustomer, order.RecipientAdmin)
}

// SendOrderCancelled notifies one recipient of a cancellation.
func (k *Kafka) SendOrderCancelled(ctx context.Context, o *order.Order, to order.Recipient) error {
	return k.publish(ctx, KindOrderCancelled, o, to)
}

// SendReturnRequested notifies the admin.
func (k *Kafka) SendReturnRequested(ctx context.Context, o *order.Order) error {
	return k.publish(ctx, KindReturnRequested, o, order.RecipientAdmin)
}

// SendStatusChanged notifies the customer.
func (k *Kafka) SendStatusChanged(ctx context.Context, o *order.Order) error {
	return k.publish(ctx, KindStatusChanged, o, order.RecipientCustomer)
}
