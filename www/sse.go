package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/engine"
)

type SSEEvent struct {
	Event string
	Data  string
}

// EventHub fans engine events out to server-sent-event clients. Slow clients
// lose events rather than stall the hub.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	log       *zap.Logger
}

func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		log:       log,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.send(evt)
		case <-keepalive.C:
			h.send(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) send(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Broadcast queues data, marshalled as JSON, for every client.
func (h *EventHub) Broadcast(event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		h.log.Warn("sse marshal", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: string(b)}:
	default:
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.OrderCommittedEvent)
		h.Broadcast("order-update", map[string]any{
			"type":       "received",
			"order_id":   ev.OrderID,
			"order_type": ev.OrderType,
			"actions":    ev.Actions,
		})
	}, engine.EventOrderCommitted)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.OutboxPublishedEvent)
		h.Broadcast("outbox-update", map[string]any{
			"type":      "sent",
			"outbox_id": ev.OutboxID,
			"attempts":  ev.Attempts,
		})
	}, engine.EventOutboxPublished)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.OutboxPublishFailedEvent)
		h.Broadcast("outbox-update", map[string]any{
			"type":      "retrying",
			"outbox_id": ev.OutboxID,
			"attempts":  ev.Attempts,
			"error":     ev.Error,
			"retry_at":  ev.RetryAt,
		})
	}, engine.EventOutboxPublishFailed)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		state := "connected"
		if evt.Type == engine.EventMessagingDisconnected {
			state = "disconnected"
		}
		h.Broadcast("system-status", map[string]string{"messaging": state})
	}, engine.EventMessagingConnected, engine.EventMessagingDisconnected)
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// registered before the headers go out, so a client that has its
	// response sees every later event
	ch := h.AddClient()
	defer h.RemoveClient(ch)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.log.Debug("sse write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}
