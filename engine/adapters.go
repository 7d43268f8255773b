package engine

import "time"

// intakeEmitter bridges intake.Emitter to the EventBus.
type intakeEmitter struct {
	bus *EventBus
}

func (e *intakeEmitter) EmitOrderCommitted(orderID, outboxID int64, orderType string, actions int) {
	e.bus.Emit(Event{Type: EventOrderCommitted, Payload: OrderCommittedEvent{
		OrderID:   orderID,
		OutboxID:  outboxID,
		OrderType: orderType,
		Actions:   actions,
	}})
}

// relayEmitter bridges messaging.RelayEmitter to the EventBus.
type relayEmitter struct {
	bus *EventBus
}

func (e *relayEmitter) EmitOutboxPublished(id int64, topic string, attempts int) {
	e.bus.Emit(Event{Type: EventOutboxPublished, Payload: OutboxPublishedEvent{
		OutboxID: id,
		Topic:    topic,
		Attempts: attempts,
	}})
}

func (e *relayEmitter) EmitOutboxPublishFailed(id int64, topic string, attempts int, err error, retryAt time.Time) {
	e.bus.Emit(Event{Type: EventOutboxPublishFailed, Payload: OutboxPublishFailedEvent{
		OutboxID: id,
		Topic:    topic,
		Attempts: attempts,
		Error:    err.Error(),
		RetryAt:  retryAt,
	}})
}
