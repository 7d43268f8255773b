package intake

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/logger"
	"github.com/DaniloDobras/ois/store"
)

// EventTypeOrderCreated is the event_type header of every order event.
const EventTypeOrderCreated = "order.created"

// OrderTx is the slice of a store transaction the intake path needs.
type OrderTx interface {
	Lookup
	InsertOrder(ctx context.Context, o *store.Order) error
	InsertBucket(ctx context.Context, b *store.Bucket) error
	InsertBucketAction(ctx context.Context, a *store.BucketAction) error
	InsertOutboxEvent(ctx context.Context, e *store.OutboxEvent) error
}

// Written is what one Write produced.
type Written struct {
	OrderID  int64
	OutboxID int64
	Event    OrderEvent
}

// Writer persists a validated order graph together with its outbox row. It
// never talks to the bus.
type Writer struct {
	topic      string
	log        *zap.Logger
	newEventID func() string
}

func NewWriter(topic string, log *zap.Logger) *Writer {
	return &Writer{topic: topic, log: logger.OrNop(log), newEventID: uuid.NewString}
}

// Write inserts the order, its buckets (loading) and actions, then exactly one
// outbox row, all in tx. Any error leaves tx for the caller to roll back.
func (w *Writer) Write(ctx context.Context, tx OrderTx, v *ValidatedOrder) (*Written, error) {
	order := &store.Order{Priority: v.Priority, OrderType: string(v.Type)}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, persistence("insert order", err)
	}

	event := OrderEvent{
		OrderID:   order.ID,
		Priority:  order.Priority,
		OrderType: v.Type,
		Actions:   make([]ActionEvent, 0, len(v.Actions)),
	}
	for _, ra := range v.Actions {
		bucket := ra.Bucket
		if ra.NewBucket {
			bucket = &store.Bucket{}
			if err := tx.InsertBucket(ctx, bucket); err != nil {
				return nil, persistence("allocate bucket", err)
			}
		}
		action := &store.BucketAction{
			OrderID:  order.ID,
			Seq:      ra.Index,
			BucketID: bucket.ID,
		}
		if ra.Source != nil {
			action.SourcePositionID = &ra.Source.ID
		}
		if ra.Target != nil {
			action.TargetPositionID = &ra.Target.ID
		}
		if err := tx.InsertBucketAction(ctx, action); err != nil {
			return nil, persistence("insert bucket action", err)
		}
		event.Actions = append(event.Actions, ActionEvent{
			BucketID:       bucket.ID,
			SourcePosition: positionRef(ra.Source),
			TargetPosition: positionRef(ra.Target),
		})
	}

	value, err := event.Encode()
	if err != nil {
		return nil, persistence("encode order event", err)
	}
	key := strconv.FormatInt(order.ID, 10)
	outbox := &store.OutboxEvent{
		Topic: w.topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			"aggregate_type": "order",
			"aggregate_id":   key,
			"event_type":     EventTypeOrderCreated,
			"event_id":       w.newEventID(),
		},
	}
	if err := tx.InsertOutboxEvent(ctx, outbox); err != nil {
		return nil, persistence("enqueue order event", err)
	}

	w.log.Debug("order written",
		zap.Int64("order_id", order.ID),
		zap.Int64("outbox_id", outbox.ID),
		zap.Int("actions", len(event.Actions)),
	)
	return &Written{OrderID: order.ID, OutboxID: outbox.ID, Event: event}, nil
}
