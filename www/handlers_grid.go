package www

import (
	"encoding/json"
	"net/http"

	"github.com/DaniloDobras/ois/store"
)

type positionRequest struct {
	X *int64 `json:"x"`
	Y *int64 `json:"y"`
	Z *int64 `json:"z"`
}

func (h *Handlers) apiCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request")
		return
	}
	if req.X == nil || req.Y == nil || req.Z == nil {
		h.jsonError(w, http.StatusUnprocessableEntity, "POSITION_MISSING_FIELD", "x, y and z are required")
		return
	}
	p := &store.Position{X: *req.X, Y: *req.Y, Z: *req.Z}
	if err := h.engine.DB().CreatePosition(r.Context(), p); err != nil {
		if store.IsUniqueViolation(err) {
			h.jsonError(w, http.StatusConflict, "POSITION_EXISTS", "a position already exists at these coordinates")
			return
		}
		h.storeError(w, "position", err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, p)
}

func (h *Handlers) apiListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.DB().ListPositions(r.Context(), queryLimit(r))
	if err != nil {
		h.storeError(w, "positions", err)
		return
	}
	h.jsonOK(w, positions)
}

func (h *Handlers) apiGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.jsonError(w, http.StatusBadRequest, "INVALID_ID", "invalid position id")
		return
	}
	p, err := h.engine.DB().GetPosition(r.Context(), id)
	if err != nil {
		h.storeError(w, "position", err)
		return
	}
	h.jsonOK(w, p)
}

func (h *Handlers) apiCreateBucket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID *int64 `json:"position_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request")
		return
	}
	b := &store.Bucket{PositionID: req.PositionID}
	if err := h.engine.DB().CreateBucket(r.Context(), b); err != nil {
		switch {
		case store.IsForeignKeyViolation(err):
			h.jsonError(w, http.StatusNotFound, "POSITION_NOT_FOUND", "position not found")
		case store.IsUniqueViolation(err):
			h.jsonError(w, http.StatusConflict, "POSITION_OCCUPIED", "position already holds a bucket")
		default:
			h.storeError(w, "bucket", err)
		}
		return
	}
	h.jsonStatus(w, http.StatusCreated, b)
}

func (h *Handlers) apiGetBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.jsonError(w, http.StatusBadRequest, "INVALID_ID", "invalid bucket id")
		return
	}
	b, err := h.engine.DB().GetBucket(r.Context(), id)
	if err != nil {
		h.storeError(w, "bucket", err)
		return
	}
	h.jsonOK(w, b)
}
