package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/engine"
	"github.com/DaniloDobras/ois/logger"
)

// maxBodyBytes caps a request body; orders are small.
const maxBodyBytes = 1 << 20

type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
	log      *zap.Logger
}

// NewRouter builds the HTTP API. The returned func stops the SSE hub.
func NewRouter(eng *engine.Engine, log *zap.Logger) (http.Handler, func()) {
	log = logger.OrNop(log)
	hub := NewEventHub(log.Named("sse"))
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		eventHub: hub,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/events", hub.SSEHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Use(middleware.RequestSize(maxBodyBytes))
			r.Post("/orders", h.apiSubmitOrder)
			r.Post("/positions", h.apiCreatePosition)
			r.Post("/buckets", h.apiCreateBucket)
		})

		r.Get("/orders", h.apiListOrders)
		r.Get("/orders/{id}", h.apiGetOrder)
		r.Get("/positions", h.apiListPositions)
		r.Get("/positions/{id}", h.apiGetPosition)
		r.Get("/buckets/{id}", h.apiGetBucket)
		r.Get("/outbox", h.apiListOutbox)
		r.Get("/outbox/stats", h.apiOutboxStats)
		r.Get("/outbox/{id}", h.apiGetOutboxEvent)
		r.Get("/audit", h.apiAuditLog)
	})

	return r, hub.Stop
}

// requestLogger logs one line per request at debug, and at warn for 5xx.
func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			h.log.Warn("http request", fields...)
			return
		}
		h.log.Debug("http request", fields...)
	})
}
