package engine

import "time"

const (
	EventOrderCommitted EventType = iota + 1
	EventOutboxPublished
	EventOutboxPublishFailed
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventOrderCommitted:        "order_committed",
	EventOutboxPublished:       "outbox_published",
	EventOutboxPublishFailed:   "outbox_publish_failed",
	EventMessagingConnected:    "messaging_connected",
	EventMessagingDisconnected: "messaging_disconnected",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type OrderCommittedEvent struct {
	OrderID   int64
	OutboxID  int64
	OrderType string
	Actions   int
}

type OutboxPublishedEvent struct {
	OutboxID int64
	Topic    string
	Attempts int
}

type OutboxPublishFailedEvent struct {
	OutboxID int64
	Topic    string
	Attempts int
	Error    string
	RetryAt  time.Time
}

type ConnectionEvent struct {
	Backend string
	Detail  string
}
