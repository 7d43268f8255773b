package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/intake"
	"github.com/DaniloDobras/ois/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// apiError is the body of every non-2xx JSON response.
type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, status int, code, msg string) {
	h.jsonStatus(w, status, apiError{Code: code, Message: msg})
}

// intakeStatus maps an intake error kind to its HTTP status.
func intakeStatus(k intake.Kind) int {
	switch k {
	case intake.KindMissingField, intake.KindInvalidOrder:
		return http.StatusUnprocessableEntity
	case intake.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) intakeError(w http.ResponseWriter, err error) {
	var ie *intake.Error
	if !errors.As(err, &ie) {
		h.jsonError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	body := apiError{Code: ie.Code, Message: ie.Message, Params: ie.Params}
	if ie.Kind == intake.KindPersistence {
		// storage details stay in the log
		body.Message = "order could not be stored, retry later"
		w.Header().Set("Retry-After", "1")
	}
	h.jsonStatus(w, intakeStatus(ie.Kind), body)
}

// storeError answers a failed store read.
func (h *Handlers) storeError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.jsonError(w, http.StatusNotFound, "NOT_FOUND", what+" not found")
		return
	}
	h.log.Error("store read failed", zap.String("what", what), zap.Error(err))
	h.jsonError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}
