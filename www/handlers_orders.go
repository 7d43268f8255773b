package www

import (
	"net/http"

	"github.com/DaniloDobras/ois/intake"
)

type orderReceived struct {
	Status  string `json:"status"`
	OrderID int64  `json:"order_id"`
}

func (h *Handlers) apiSubmitOrder(w http.ResponseWriter, r *http.Request) {
	req, err := intake.DecodeOrderRequest(r.Body)
	if err != nil {
		h.intakeError(w, err)
		return
	}
	orderID, err := h.engine.Intake().Submit(r.Context(), req)
	if err != nil {
		h.intakeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, orderReceived{Status: "order received", OrderID: orderID})
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.DB().ListOrders(r.Context(), queryLimit(r))
	if err != nil {
		h.storeError(w, "orders", err)
		return
	}
	h.jsonOK(w, orders)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.jsonError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}
	order, err := h.engine.DB().GetOrder(r.Context(), id)
	if err != nil {
		h.storeError(w, "order", err)
		return
	}
	h.jsonOK(w, order)
}
