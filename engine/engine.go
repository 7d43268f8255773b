package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/config"
	"github.com/DaniloDobras/ois/intake"
	"github.com/DaniloDobras/ois/logger"
	"github.com/DaniloDobras/ois/messaging"
	"github.com/DaniloDobras/ois/notify"
	"github.com/DaniloDobras/ois/store"
	"github.com/DaniloDobras/ois/worker"
)

// Bus is the slice of the message bus client the engine needs.
// *messaging.Client implements it.
type Bus interface {
	messaging.Publisher
	IsConnected() bool
	Backend() string
}

type Config struct {
	App      *config.Config
	DB       *store.DB
	Bus      Bus
	Notifier *notify.RedisNotifier // optional
	Log      *zap.Logger
	// RunRelay starts the outbox relay in this process.
	RunRelay bool
}

// Engine owns every long-lived component and their lifecycle.
type Engine struct {
	cfg      *config.Config
	db       *store.DB
	bus      Bus
	notifier *notify.RedisNotifier
	pool     *worker.Pool
	intake   *intake.Service
	relay    *messaging.Relay
	runRelay bool
	log      *zap.Logger

	Events *EventBus

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu           sync.Mutex
	msgConnected bool
}

func New(c Config) (*Engine, error) {
	log := logger.OrNop(c.Log)
	pool, err := worker.New(context.Background(), "engine", c.App.Worker.PoolSize, log.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}

	e := &Engine{
		cfg:      c.App,
		db:       c.DB,
		bus:      c.Bus,
		notifier: c.Notifier,
		pool:     pool,
		runRelay: c.RunRelay,
		log:      log,
		Events:   NewEventBus(log.Named("events")),
	}

	e.intake = intake.NewService(c.DB, intake.ServiceConfig{
		Topic:     c.App.Messaging.OrderEventsTopic,
		TxTimeout: c.App.Database.TxTimeout,
	}, &intakeEmitter{bus: e.Events}, log.Named("intake"))

	rc := c.App.Relay
	e.relay = messaging.NewRelay(c.DB, c.Bus, pool, messaging.RelayConfig{
		Interval:       rc.Interval,
		BatchSize:      rc.BatchSize,
		Workers:        rc.Workers,
		LeaseDuration:  rc.LeaseDuration,
		PublishTimeout: c.App.Messaging.PublishTimeout,
		BackoffBase:    rc.BackoffBase,
		BackoffMax:     rc.BackoffMax,
		PurgeAfter:     rc.PurgeAfter,
	}, &relayEmitter{bus: e.Events}, log.Named("relay"))

	e.wireEventHandlers()
	return e, nil
}

func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	if e.runRelay {
		e.relay.Start(ctx)
		if e.notifier != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.notifier.Listen(ctx, e.relay.Wake)
			}()
		}
	}

	e.checkConnectionStatus()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.connectionHealthLoop(ctx)
	}()

	e.log.Info("engine started",
		zap.Bool("relay", e.runRelay),
		zap.String("backend", e.bus.Backend()),
		zap.String("db", e.db.Driver()),
	)
}

// Stop halts the relay, background loops and the worker pool. The bus and
// database stay open; main closes them afterwards.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.relay.Stop()
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.pool.Shutdown(10 * time.Second)
		e.log.Info("engine stopped")
	})
}

// Accessors
func (e *Engine) DB() *store.DB             { return e.db }
func (e *Engine) AppConfig() *config.Config { return e.cfg }
func (e *Engine) Intake() *intake.Service   { return e.intake }
func (e *Engine) Relay() *messaging.Relay   { return e.relay }
func (e *Engine) Pool() *worker.Pool        { return e.pool }
func (e *Engine) Bus() Bus                  { return e.bus }
func (e *Engine) RelayRunning() bool        { return e.runRelay }

func (e *Engine) checkConnectionStatus() {
	connected := e.bus.IsConnected()

	e.mu.Lock()
	changed := connected != e.msgConnected
	e.msgConnected = connected
	e.mu.Unlock()
	if !changed {
		return
	}

	if connected {
		e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{
			Backend: e.bus.Backend(), Detail: "messaging connected",
		}})
	} else {
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{
			Backend: e.bus.Backend(), Detail: "messaging disconnected",
		}})
	}
}

func (e *Engine) connectionHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

// Health is the snapshot served by /api/health.
type Health struct {
	Status     string             `json:"status"`
	Database   string             `json:"database"`
	Messaging  string             `json:"messaging"`
	Backend    string             `json:"backend"`
	Redis      string             `json:"redis,omitempty"`
	Relay      bool               `json:"relay"`
	Outbox     *store.OutboxStats `json:"outbox,omitempty"`
	Workers    map[string]int     `json:"workers"`
	SSEClients int                `json:"sse_clients"`
}

// Health reports component state. Status is "degraded" when the database is
// unreachable; a broker outage only delays delivery, so it does not degrade
// intake. Messaging is "n/a" in a process that does not run the relay.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:    "ok",
		Database:  "ok",
		Messaging: "connected",
		Backend:   e.bus.Backend(),
		Relay:     e.runRelay,
		Workers:   e.pool.Stats(),
	}
	if err := e.db.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Database = err.Error()
	} else if stats, err := e.db.OutboxStats(ctx); err == nil {
		h.Outbox = stats
	}
	switch {
	case !e.runRelay:
		// only the relay holds a broker connection
		h.Messaging = "n/a"
	case !e.bus.IsConnected():
		h.Messaging = "disconnected"
	}
	if e.notifier != nil {
		h.Redis = "ok"
		if err := e.notifier.Ping(ctx); err != nil {
			h.Redis = err.Error()
		}
	}
	return h
}
