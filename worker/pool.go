// Package worker wraps an ants goroutine pool with context-aware submission.
//
// The relay drains and the post-commit side effects (audit, wake-up
// notifications) run here rather than on naked goroutines.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/logger"
)

// ErrPoolClosed is returned when submitting to a released pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware unit of work.
type Task func(ctx context.Context)

// Pool wraps ants.Pool. Detached tasks run under the pool's service context,
// which is cancelled on Shutdown.
type Pool struct {
	pool *ants.Pool
	name string
	log  *zap.Logger

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// New creates a pool of at most size goroutines.
func New(ctx context.Context, name string, size int, log *zap.Logger) (*Pool, error) {
	log = logger.OrNop(log)
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p any) {
		log.Error("worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	ap, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}
	return &Pool{
		pool:          ap,
		name:          name,
		log:           log,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit runs task with the caller's context. A context cancelled before the
// task starts skips it.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			p.log.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached runs task under the pool's service context so it outlives the
// request that queued it but still stops on Shutdown.
func (p *Pool) SubmitDetached(task Task) error {
	return p.Submit(p.serviceCtx, task)
}

// Shutdown cancels detached work and waits up to timeout for running tasks.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.serviceCancel()
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.log.Warn("worker pool shutdown timeout", zap.String("pool", p.name), zap.Error(err))
	}
}

// Stats reports pool occupancy for the health endpoint.
func (p *Pool) Stats() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
