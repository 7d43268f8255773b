package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DaniloDobras/ois/config"
	"github.com/DaniloDobras/ois/intake"
	"github.com/DaniloDobras/ois/messaging"
	"github.com/DaniloDobras/ois/store"
)

type fakeBus struct {
	mu        sync.Mutex
	msgs      []messaging.Message
	connected atomic.Bool
	fail      atomic.Bool
}

func (b *fakeBus) Publish(_ context.Context, m messaging.Message) error {
	if b.fail.Load() {
		return &messaging.PublishError{Backend: "fake", Topic: m.Topic, Err: errors.New("broker down")}
	}
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func (b *fakeBus) IsConnected() bool { return b.connected.Load() }
func (b *fakeBus) Backend() string   { return "fake" }

func newTestEngine(t *testing.T, runRelay bool) (*Engine, *fakeBus) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "engine.db")
	cfg.Relay.Interval = time.Hour
	cfg.Messaging.PublishTimeout = time.Second

	db, err := store.Open(context.Background(), &cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := &fakeBus{}
	bus.connected.Store(true)
	e, err := New(Config{App: cfg, DB: db, Bus: bus, Log: zaptest.NewLogger(t), RunRelay: runRelay})
	require.NoError(t, err)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, bus
}

func seedUnloading(t *testing.T, db *store.DB) intake.OrderRequest {
	t.Helper()
	ctx := context.Background()
	pos := &store.Position{X: 1, Y: 1, Z: 0}
	require.NoError(t, db.CreatePosition(ctx, pos))
	b := &store.Bucket{PositionID: &pos.ID}
	require.NoError(t, db.CreateBucket(ctx, b))
	return intake.OrderRequest{
		Priority:  1,
		OrderType: intake.Unloading,
		Actions:   []intake.ActionRequest{{BucketID: &b.ID, TargetPositionID: &pos.ID}},
	}
}

func TestCommittedOrderIsRelayedAndAudited(t *testing.T) {
	e, bus := newTestEngine(t, true)

	orderID, err := e.Intake().Submit(context.Background(), seedUnloading(t, e.DB()))
	require.NoError(t, err)

	// the commit wakes the relay; no tick needed
	require.Eventually(t, func() bool { return bus.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		entries, err := e.DB().ListEntityAudit(context.Background(), "order", orderID)
		return err == nil && len(entries) == 1
	}, 3*time.Second, 10*time.Millisecond)

	entries, _ := e.DB().ListEntityAudit(context.Background(), "order", orderID)
	assert.Equal(t, "received", entries[0].Action)
	assert.Equal(t, auditActor, entries[0].Actor)
}

func TestAPIOnlyEngineLeavesOutboxPending(t *testing.T) {
	e, bus := newTestEngine(t, false)

	_, err := e.Intake().Submit(context.Background(), seedUnloading(t, e.DB()))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, bus.count())
	stats, err := e.DB().OutboxStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New)
}

func TestPublishFailureIsAudited(t *testing.T) {
	e, bus := newTestEngine(t, true)
	bus.fail.Store(true)

	_, err := e.Intake().Submit(context.Background(), seedUnloading(t, e.DB()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := e.DB().ListAuditLog(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, a := range entries {
			if a.EntityType == "outbox" && a.Action == "publish_failed" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	stats, err := e.DB().OutboxStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retrying)
}

func TestConnectionTransitionsEmitOnce(t *testing.T) {
	e, bus := newTestEngine(t, false)

	var down, up atomic.Int32
	e.Events.SubscribeTypes(func(Event) { down.Add(1) }, EventMessagingDisconnected)
	e.Events.SubscribeTypes(func(Event) { up.Add(1) }, EventMessagingConnected)

	bus.connected.Store(false)
	e.checkConnectionStatus()
	e.checkConnectionStatus()
	bus.connected.Store(true)
	e.checkConnectionStatus()

	assert.Equal(t, int32(1), down.Load())
	assert.Equal(t, int32(1), up.Load())
}

func TestHealth(t *testing.T) {
	e, bus := newTestEngine(t, true)

	h := e.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "connected", h.Messaging)
	assert.Equal(t, "fake", h.Backend)
	assert.True(t, h.Relay)
	require.NotNil(t, h.Outbox)
	assert.Empty(t, h.Redis)

	bus.connected.Store(false)
	h = e.Health(context.Background())
	assert.Equal(t, "ok", h.Status, "a broker outage does not stop intake")
	assert.Equal(t, "disconnected", h.Messaging)
}

func TestHealthWithoutRelay(t *testing.T) {
	e, bus := newTestEngine(t, false)
	bus.connected.Store(false)

	h := e.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "n/a", h.Messaging)
	assert.False(t, h.Relay)
}
