package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/logger"
	"github.com/DaniloDobras/ois/store"
	"github.com/DaniloDobras/ois/worker"
)

// OutboxStore is the storage side of the relay. *store.DB implements it.
type OutboxStore interface {
	ClaimOutbox(ctx context.Context, owner string, limit int, lease time.Duration) ([]*store.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id int64, owner string) error
	MarkOutboxFailed(ctx context.Context, id int64, owner, lastError string, retryAt time.Time) error
	ReleaseOutboxClaims(ctx context.Context, owner string) (int64, error)
	PurgeSentOutbox(ctx context.Context, before time.Time) (int64, error)
	Now() time.Time
}

// RelayEmitter is told about every settled publish attempt.
type RelayEmitter interface {
	EmitOutboxPublished(id int64, topic string, attempts int)
	EmitOutboxPublishFailed(id int64, topic string, attempts int, err error, retryAt time.Time)
}

type RelayConfig struct {
	Interval       time.Duration
	BatchSize      int
	Workers        int
	LeaseDuration  time.Duration
	PublishTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	PurgeAfter     time.Duration
}

// settleTimeout bounds the bookkeeping write after a publish. It runs on a
// context detached from shutdown so an acked message still gets marked.
const settleTimeout = 5 * time.Second

// Relay moves outbox rows to the bus. Several relays, in one process or many,
// can run against the same table: rows are leased before publishing, so a
// row is only re-published when its lease holder died or was too slow.
// Delivery is at-least-once.
type Relay struct {
	store   OutboxStore
	pub     Publisher
	pool    *worker.Pool
	emitter RelayEmitter
	cfg     RelayConfig
	backoff Backoff
	log     *zap.Logger

	id  string
	seq atomic.Uint64

	wake      chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	lastPurge time.Time
}

func NewRelay(st OutboxStore, pub Publisher, pool *worker.Pool, cfg RelayConfig, emitter RelayEmitter, log *zap.Logger) *Relay {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.LeaseDuration <= cfg.PublishTimeout {
		cfg.LeaseDuration = 2 * cfg.PublishTimeout
	}
	id := uuid.NewString()
	return &Relay{
		store:    st,
		pub:      pub,
		pool:     pool,
		emitter:  emitter,
		cfg:      cfg,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		log:      logger.OrNop(log).With(zap.String("relay_id", id)),
		id:       id,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID identifies this relay instance in claimed_by.
func (r *Relay) ID() string { return r.id }

func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		r.log.Info("outbox relay started",
			zap.Duration("interval", r.cfg.Interval),
			zap.Int("workers", r.cfg.Workers),
			zap.Int("batch_size", r.cfg.BatchSize),
		)
		go r.run(ctx)
	})
}

// Stop ends the loop and waits for the current drain to settle.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	if r.started.Load() {
		<-r.done
	}
}

// Wake triggers a drain without waiting for the next tick. It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
		case <-r.wake:
		}
		r.Drain(ctx)
		r.maybePurge(ctx)
	}
}

// Drain runs batches on every worker until the backlog of due rows is empty,
// a publish fails, or ctx ends. It returns the number of rows published.
func (r *Relay) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		published, more := r.drainRound(ctx)
		total += published
		if !more {
			break
		}
	}
	return total
}

// drainRound runs one batch per worker in parallel.
func (r *Relay) drainRound(ctx context.Context) (int, bool) {
	var (
		wg        sync.WaitGroup
		published atomic.Int64
		more      atomic.Bool
	)
	more.Store(true)
	batch := func(ctx context.Context) {
		defer wg.Done()
		n, full := r.drainOnce(ctx)
		published.Add(int64(n))
		if !full {
			more.Store(false)
		}
	}

	for i := 0; i < r.cfg.Workers && ctx.Err() == nil; i++ {
		wg.Add(1)
		if r.pool == nil {
			go batch(ctx)
			continue
		}
		// Submitted under a context the pool cannot cancel, so the task
		// always runs and always reaches wg.Done; batch checks ctx itself.
		err := r.pool.Submit(context.WithoutCancel(ctx), func(context.Context) {
			if ctx.Err() != nil {
				wg.Done()
				more.Store(false)
				return
			}
			batch(ctx)
		})
		if err != nil {
			wg.Done()
			more.Store(false)
			if !errors.Is(err, worker.ErrPoolClosed) {
				r.log.Warn("relay batch not scheduled", zap.Error(err))
			}
		}
	}
	wg.Wait()
	return int(published.Load()), more.Load()
}

// drainOnce claims one batch and publishes it in order. It reports how many
// rows were published and whether the batch ran clean and full, meaning more
// rows are probably due.
func (r *Relay) drainOnce(ctx context.Context) (published int, full bool) {
	owner := fmt.Sprintf("%s/%d", r.id, r.seq.Add(1))
	events, err := r.store.ClaimOutbox(ctx, owner, r.cfg.BatchSize, r.cfg.LeaseDuration)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("claim outbox", zap.Error(err))
		}
		return 0, false
	}
	if len(events) == 0 {
		return 0, false
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	clean := true
	for _, ev := range events {
		if ctx.Err() != nil {
			clean = false
			break
		}
		// Do not start a publish the lease cannot cover; another relay may
		// already own the row by the time the ack arrives.
		if ev.ClaimedUntil != nil && r.store.Now().Add(r.cfg.PublishTimeout).After(*ev.ClaimedUntil) {
			clean = false
			break
		}
		if err := r.publish(ctx, ev); err != nil {
			// A publish cut short by shutdown is not a broker failure; the
			// row is released below without counting an attempt.
			if ctx.Err() == nil {
				r.fail(settleCtx, owner, ev, err)
			}
			clean = false
			break
		}
		published++
		if err := r.store.MarkOutboxSent(settleCtx, ev.ID, owner); err != nil {
			// The broker has the message; the row will be sent again once the
			// lease lapses.
			r.log.Error("mark outbox sent",
				zap.Int64("outbox_id", ev.ID),
				zap.Error(err),
			)
			continue
		}
		if r.emitter != nil {
			r.emitter.EmitOutboxPublished(ev.ID, ev.Topic, ev.Attempts+1)
		}
	}

	if !clean {
		if n, err := r.store.ReleaseOutboxClaims(settleCtx, owner); err != nil {
			r.log.Warn("release outbox claims", zap.Error(err))
		} else if n > 0 {
			r.log.Debug("released untried outbox rows", zap.Int64("rows", n))
		}
	}
	return published, clean && len(events) == r.cfg.BatchSize
}

func (r *Relay) publish(ctx context.Context, ev *store.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	msg := Message{
		Topic:   ev.Topic,
		Value:   ev.Value,
		Headers: ev.Headers,
	}
	if ev.Key != "" {
		msg.Key = []byte(ev.Key)
	}
	return r.pub.Publish(ctx, msg)
}

func (r *Relay) fail(ctx context.Context, owner string, ev *store.OutboxEvent, cause error) {
	attempts := ev.Attempts + 1
	retryAt := r.store.Now().Add(r.backoff.Delay(attempts))
	if err := r.store.MarkOutboxFailed(ctx, ev.ID, owner, cause.Error(), retryAt); err != nil {
		r.log.Error("mark outbox failed",
			zap.Int64("outbox_id", ev.ID),
			zap.NamedError("publish_error", cause),
			zap.Error(err),
		)
		return
	}
	r.log.Warn("outbox publish failed",
		zap.Int64("outbox_id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.Int("attempts", attempts),
		zap.Time("retry_at", retryAt),
		zap.Error(cause),
	)
	if r.emitter != nil {
		r.emitter.EmitOutboxPublishFailed(ev.ID, ev.Topic, attempts, cause, retryAt)
	}
}

// maybePurge reaps old sent rows when a retention is configured.
func (r *Relay) maybePurge(ctx context.Context) {
	if r.cfg.PurgeAfter <= 0 {
		return
	}
	every := min(r.cfg.PurgeAfter, time.Hour)
	now := r.store.Now()
	if now.Sub(r.lastPurge) < every {
		return
	}
	r.lastPurge = now
	n, err := r.store.PurgeSentOutbox(ctx, now.Add(-r.cfg.PurgeAfter))
	if err != nil {
		r.log.Warn("purge outbox", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("purged sent outbox rows", zap.Int64("rows", n))
	}
}
