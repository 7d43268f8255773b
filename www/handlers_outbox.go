package www

import (
	"net/http"

	"github.com/DaniloDobras/ois/store"
)

// outboxStates maps the ?state= filter to the store's states. "pending" is
// accepted for rows that have never been tried.
var outboxStates = map[string]store.OutboxState{
	"":         "",
	"pending":  store.OutboxNew,
	"new":      store.OutboxNew,
	"retrying": store.OutboxRetrying,
	"sent":     store.OutboxSent,
}

func (h *Handlers) apiListOutbox(w http.ResponseWriter, r *http.Request) {
	state, ok := outboxStates[r.URL.Query().Get("state")]
	if !ok {
		h.jsonError(w, http.StatusBadRequest, "INVALID_STATE", "state must be pending, retrying or sent")
		return
	}
	events, err := h.engine.DB().ListOutbox(r.Context(), state, queryLimit(r))
	if err != nil {
		h.storeError(w, "outbox", err)
		return
	}
	h.jsonOK(w, events)
}

func (h *Handlers) apiGetOutboxEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.jsonError(w, http.StatusBadRequest, "INVALID_ID", "invalid outbox id")
		return
	}
	ev, err := h.engine.DB().GetOutboxEvent(r.Context(), id)
	if err != nil {
		h.storeError(w, "outbox event", err)
		return
	}
	h.jsonOK(w, ev)
}

func (h *Handlers) apiOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.DB().OutboxStats(r.Context())
	if err != nil {
		h.storeError(w, "outbox stats", err)
		return
	}
	h.jsonOK(w, stats)
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(r.Context(), queryLimit(r))
	if err != nil {
		h.storeError(w, "audit log", err)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	health.SSEClients = h.eventHub.ClientCount()
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.jsonStatus(w, status, health)
}
