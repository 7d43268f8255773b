package engine

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

const auditActor = "system"

func (e *Engine) wireEventHandlers() {
	// A fresh outbox row: wake the local relay, tell remote relays, audit.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderCommittedEvent)
		if e.runRelay {
			e.relay.Wake()
		}
		e.background("order committed", func(ctx context.Context) {
			if err := e.notifier.Notify(ctx, ev.OrderID); err != nil {
				e.log.Debug("relay wake-up not sent", zap.Int64("order_id", ev.OrderID), zap.Error(err))
			}
			e.audit(ctx, "order", ev.OrderID, "received",
				fmt.Sprintf("%s, %d actions, outbox %d", ev.OrderType, ev.Actions, ev.OutboxID))
		})
	}, EventOrderCommitted)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OutboxPublishedEvent)
		e.log.Debug("outbox event published",
			zap.Int64("outbox_id", ev.OutboxID),
			zap.String("topic", ev.Topic),
			zap.Int("attempt", ev.Attempts),
		)
		if ev.Attempts > 1 {
			e.background("outbox recovered", func(ctx context.Context) {
				e.audit(ctx, "outbox", ev.OutboxID, "published", "after "+strconv.Itoa(ev.Attempts)+" attempts")
			})
		}
	}, EventOutboxPublished)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OutboxPublishFailedEvent)
		e.background("outbox publish failed", func(ctx context.Context) {
			e.audit(ctx, "outbox", ev.OutboxID, "publish_failed",
				fmt.Sprintf("attempt %d: %s (retry at %s)", ev.Attempts, ev.Error, ev.RetryAt.Format("15:04:05")))
		})
	}, EventOutboxPublishFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		if evt.Type == EventMessagingConnected {
			e.log.Info(ev.Detail, zap.String("backend", ev.Backend))
			if e.runRelay {
				e.relay.Wake()
			}
			return
		}
		e.log.Warn(ev.Detail, zap.String("backend", ev.Backend))
	}, EventMessagingConnected, EventMessagingDisconnected)
}

// background runs fn on the worker pool so event handlers never block the
// goroutine that emitted.
func (e *Engine) background(what string, fn func(ctx context.Context)) {
	if err := e.pool.SubmitDetached(fn); err != nil {
		e.log.Warn("background task dropped", zap.String("task", what), zap.Error(err))
	}
}

func (e *Engine) audit(ctx context.Context, entityType string, id int64, action, detail string) {
	if err := e.db.AppendAudit(ctx, entityType, id, action, "", detail, auditActor); err != nil {
		e.log.Warn("audit append failed",
			zap.String("entity", entityType),
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}
