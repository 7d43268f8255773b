package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DaniloDobras/ois/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(context.Background(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(db *DB) *testClock {
	c := &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	db.SetClock(c.Now)
	return c
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func enqueue(t *testing.T, db *DB, topic string) *OutboxEvent {
	t.Helper()
	e := &OutboxEvent{
		Topic:   topic,
		Key:     "1",
		Value:   []byte(`{"order_id":1}`),
		Headers: map[string]string{"event_type": "order.created"},
	}
	if err := db.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertOutboxEvent(context.Background(), e)
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return e
}

// --- Position / bucket tests ---

func TestPositionCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := &Position{X: 1, Y: 2, Z: 3}
	if err := db.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("ID should be assigned")
	}

	got, err := db.GetPosition(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.X != 1 || got.Y != 2 || got.Z != 3 {
		t.Errorf("coords = (%d,%d,%d), want (1,2,3)", got.X, got.Y, got.Z)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if err := db.CreatePosition(ctx, &Position{X: 1, Y: 2, Z: 3}); !IsUniqueViolation(err) {
		t.Errorf("duplicate coordinates error = %v, want unique violation", err)
	}

	list, err := db.ListPositions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}

	if _, err := db.GetPosition(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing position error = %v, want ErrNotFound", err)
	}
}

func TestBucketCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := &Position{X: 0, Y: 0, Z: 0}
	if err := db.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create position: %v", err)
	}

	placed := &Bucket{PositionID: &p.ID}
	if err := db.CreateBucket(ctx, placed); err != nil {
		t.Fatalf("create placed bucket: %v", err)
	}
	offGrid := &Bucket{}
	if err := db.CreateBucket(ctx, offGrid); err != nil {
		t.Fatalf("create off-grid bucket: %v", err)
	}

	got, err := db.GetBucket(ctx, placed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PositionID == nil || *got.PositionID != p.ID {
		t.Errorf("PositionID = %v, want %d", got.PositionID, p.ID)
	}
	got, err = db.GetBucket(ctx, offGrid.ID)
	if err != nil {
		t.Fatalf("get off-grid: %v", err)
	}
	if got.PositionID != nil {
		t.Errorf("off-grid PositionID = %d, want nil", *got.PositionID)
	}

	// at most one bucket per position
	if err := db.CreateBucket(ctx, &Bucket{PositionID: &p.ID}); !IsUniqueViolation(err) {
		t.Errorf("second bucket on one position error = %v, want unique violation", err)
	}
	missing := int64(999)
	if err := db.CreateBucket(ctx, &Bucket{PositionID: &missing}); !IsForeignKeyViolation(err) {
		t.Errorf("bucket on missing position error = %v, want foreign key violation", err)
	}

	n, err := db.CountBuckets(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("buckets = %d, want 2", n)
	}
}

func TestLockMissingRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.LockBucket(ctx, 42); !errors.Is(err, ErrNotFound) {
			t.Errorf("LockBucket error = %v, want ErrNotFound", err)
		}
		if _, err := tx.LockPosition(ctx, 43); !errors.Is(err, ErrNotFound) {
			t.Errorf("LockPosition error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

// --- Order tests ---

func TestOrderWithActions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	src := &Position{X: 1, Y: 1, Z: 0}
	dst := &Position{X: 2, Y: 1, Z: 0}
	for _, p := range []*Position{src, dst} {
		if err := db.CreatePosition(ctx, p); err != nil {
			t.Fatalf("create position: %v", err)
		}
	}
	b1, b2 := &Bucket{PositionID: &src.ID}, &Bucket{}
	for _, b := range []*Bucket{b1, b2} {
		if err := db.CreateBucket(ctx, b); err != nil {
			t.Fatalf("create bucket: %v", err)
		}
	}

	o := &Order{Priority: 5, OrderType: "place_changing"}
	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		// inserted out of seq order on purpose; reads must follow seq
		if err := tx.InsertBucketAction(ctx, &BucketAction{OrderID: o.ID, Seq: 1, BucketID: b2.ID, TargetPositionID: &dst.ID}); err != nil {
			return err
		}
		return tx.InsertBucketAction(ctx, &BucketAction{OrderID: o.ID, Seq: 0, BucketID: b1.ID, SourcePositionID: &src.ID, TargetPositionID: &dst.ID})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	got, err := db.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Priority != 5 || got.OrderType != "place_changing" {
		t.Errorf("order = %+v", got)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(got.Actions))
	}
	if got.Actions[0].BucketID != b1.ID || got.Actions[1].BucketID != b2.ID {
		t.Errorf("actions out of seq order: %d, %d", got.Actions[0].BucketID, got.Actions[1].BucketID)
	}
	if got.Actions[1].SourcePositionID != nil {
		t.Error("second action should have no source")
	}

	list, err := db.ListOrders(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != o.ID {
		t.Errorf("ListOrders = %v", list)
	}
}

func TestOrderTypeConstraint(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertOrder(ctx, &Order{Priority: 1, OrderType: "teleport"})
	})
	if err == nil {
		t.Fatal("unknown order type should violate the CHECK constraint")
	}
}

func TestWithTxRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		o := &Order{Priority: 1, OrderType: "loading"}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOutboxEvent(ctx, &OutboxEvent{Topic: "orders", Value: []byte(`{}`)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	counts, err := db.CountRows(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts != (RowCounts{}) {
		t.Errorf("rows after rollback = %+v, want none", counts)
	}
}

func TestSQLiteLockWaitHonorsLockTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		SQLite:      config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "lock.db")},
		LockTimeout: 200 * time.Millisecond,
	}
	holder, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	waiter, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open waiter: %v", err)
	}
	defer waiter.Close()

	// BEGIN IMMEDIATE takes the write lock and keeps it until rollback.
	held, err := holder.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin holder tx: %v", err)
	}
	defer held.Rollback()

	start := time.Now()
	err = waiter.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertOrder(ctx, &Order{Priority: 1, OrderType: "loading"})
	})
	waited := time.Since(start)

	if err == nil {
		t.Fatal("WithTx succeeded while another handle held the write lock")
	}
	if !IsLockTimeout(err) {
		t.Errorf("IsLockTimeout(%v) = false", err)
	}
	if waited < 150*time.Millisecond || waited > 2*time.Second {
		t.Errorf("waited %v for the lock, want about 200ms", waited)
	}
}

func TestWithTxPanicRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic should propagate")
			}
		}()
		db.WithTx(ctx, func(tx *Tx) error {
			if err := tx.InsertOrder(ctx, &Order{Priority: 1, OrderType: "loading"}); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	}()

	counts, err := db.CountRows(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Orders != 0 {
		t.Errorf("orders = %d, want 0", counts.Orders)
	}
}

// --- Outbox tests ---

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := newTestClock(db)

	e := enqueue(t, db, "orders")
	if e.ID == 0 {
		t.Fatal("ID should be assigned")
	}

	got, err := db.GetOutboxEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State() != OutboxNew || got.Attempts != 0 || got.SentAt != nil {
		t.Errorf("new row = %+v", got)
	}
	if got.Headers["event_type"] != "order.created" {
		t.Errorf("headers = %v", got.Headers)
	}
	if string(got.Value) != `{"order_id":1}` {
		t.Errorf("value = %s", got.Value)
	}

	claimed, err := db.ClaimOutbox(ctx, "relay-a", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ClaimedBy != "relay-a" {
		t.Fatalf("claimed = %+v", claimed)
	}

	clock.Advance(time.Second)
	if err := db.MarkOutboxSent(ctx, e.ID, "relay-a"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	got, err = db.GetOutboxEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Sent || got.SentAt == nil {
		t.Fatalf("sent row = %+v", got)
	}
	if !got.SentAt.Equal(clock.Now()) {
		t.Errorf("SentAt = %v, want %v", got.SentAt, clock.Now())
	}
	if got.ClaimedBy != "" || got.ClaimedUntil != nil {
		t.Error("claim should be cleared once sent")
	}

	// sent rows are never handed out again
	clock.Advance(time.Hour)
	claimed, err = db.ClaimOutbox(ctx, "relay-b", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("sent row reclaimed: %+v", claimed)
	}

	// and cannot flip back or be marked twice
	if err := db.MarkOutboxSent(ctx, e.ID, "relay-a"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("second mark error = %v, want ErrClaimLost", err)
	}
}

func TestOutboxClaimSkipsLeasedRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := newTestClock(db)

	e := enqueue(t, db, "orders")

	first, err := db.ClaimOutbox(ctx, "relay-a", 10, 30*time.Second)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	second, err := db.ClaimOutbox(ctx, "relay-b", 10, 30*time.Second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("live lease was stolen: %+v", second)
	}

	// relay-a dies; once its lease runs out the row is claimable again
	clock.Advance(31 * time.Second)
	third, err := db.ClaimOutbox(ctx, "relay-b", 10, 30*time.Second)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if len(third) != 1 || third[0].ID != e.ID {
		t.Fatalf("expired lease not reclaimed: %+v", third)
	}

	if err := db.MarkOutboxSent(ctx, e.ID, "relay-a"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("stale owner mark error = %v, want ErrClaimLost", err)
	}
	if err := db.MarkOutboxSent(ctx, e.ID, "relay-b"); err != nil {
		t.Errorf("current owner mark: %v", err)
	}
}

func TestOutboxClaimOldestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := newTestClock(db)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, db, "orders").ID)
		clock.Advance(time.Millisecond)
	}

	claimed, err := db.ClaimOutbox(ctx, "relay-a", 3, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d, want 3", len(claimed))
	}
	for i, e := range claimed {
		if e.ID != ids[i] {
			t.Errorf("claimed[%d] = %d, want %d", i, e.ID, ids[i])
		}
	}

	rest, err := db.ClaimOutbox(ctx, "relay-b", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim rest: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != ids[3] || rest[1].ID != ids[4] {
		t.Errorf("rest = %+v", rest)
	}
}

func TestOutboxFailureBackoff(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := newTestClock(db)

	e := enqueue(t, db, "orders")
	if _, err := db.ClaimOutbox(ctx, "relay-a", 10, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	retryAt := clock.Now().Add(4 * time.Second)
	if err := db.MarkOutboxFailed(ctx, e.ID, "relay-a", "broker unavailable", retryAt); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := db.GetOutboxEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 1 || got.LastError != "broker unavailable" || got.State() != OutboxRetrying {
		t.Errorf("failed row = %+v", got)
	}
	if got.Sent || got.SentAt != nil {
		t.Error("failed row must stay unsent")
	}

	// gated until retryAt
	clock.Advance(3 * time.Second)
	claimed, _ := db.ClaimOutbox(ctx, "relay-a", 10, time.Minute)
	if len(claimed) != 0 {
		t.Fatal("row claimed before its backoff elapsed")
	}
	clock.Advance(time.Second)
	claimed, _ = db.ClaimOutbox(ctx, "relay-a", 10, time.Minute)
	if len(claimed) != 1 {
		t.Fatal("row not claimable after backoff")
	}

	if err := db.MarkOutboxFailed(ctx, e.ID, "relay-a", "timeout", clock.Now()); err != nil {
		t.Fatalf("mark failed again: %v", err)
	}
	got, _ = db.GetOutboxEvent(ctx, e.ID)
	if got.Attempts != 2 || got.LastError != "timeout" {
		t.Errorf("attempts = %d, last_error = %q", got.Attempts, got.LastError)
	}
}

func TestReleaseOutboxClaims(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	newTestClock(db)

	enqueue(t, db, "orders")
	enqueue(t, db, "orders")
	if _, err := db.ClaimOutbox(ctx, "relay-a", 10, time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	n, err := db.ReleaseOutboxClaims(ctx, "relay-a")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if n != 2 {
		t.Errorf("released %d, want 2", n)
	}

	claimed, err := db.ClaimOutbox(ctx, "relay-b", 10, time.Hour)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Errorf("claimed %d after release, want 2", len(claimed))
	}
	for _, e := range claimed {
		if e.Attempts != 0 {
			t.Error("release must not count an attempt")
		}
	}
}

func TestOutboxStatsListPurge(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	clock := newTestClock(db)

	sent := enqueue(t, db, "orders")
	failed := enqueue(t, db, "orders")
	enqueue(t, db, "orders")

	if _, err := db.ClaimOutbox(ctx, "r", 2, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := db.MarkOutboxSent(ctx, sent.ID, "r"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := db.MarkOutboxFailed(ctx, failed.ID, "r", "nack", clock.Now().Add(time.Minute)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := db.OutboxStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.New != 1 || stats.Retrying != 1 || stats.Sent != 1 || stats.MaxAttempts != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.OldestPending == nil {
		t.Error("OldestPending should be set")
	}

	for state, want := range map[OutboxState]int{OutboxNew: 1, OutboxRetrying: 1, OutboxSent: 1, "": 3} {
		list, err := db.ListOutbox(ctx, state, 10)
		if err != nil {
			t.Fatalf("list %q: %v", state, err)
		}
		if len(list) != want {
			t.Errorf("list %q = %d rows, want %d", state, len(list), want)
		}
	}
	if _, err := db.ListOutbox(ctx, "lost", 10); err == nil {
		t.Error("unknown state should error")
	}

	clock.Advance(2 * time.Hour)
	n, err := db.PurgeSentOutbox(ctx, clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	counts, _ := db.CountRows(ctx)
	if counts.Outbox != 2 {
		t.Errorf("outbox rows = %d, want 2 unsent kept", counts.Outbox)
	}
}

// --- Migration tests ---

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	cfg := &config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: path}}
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), cfg)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		db.Close()
	}
}

func TestMigrateLegacyOutbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, err = raw.Exec(`CREATE TABLE outbox_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL, key TEXT, value TEXT NOT NULL, headers TEXT,
		sent INTEGER NOT NULL DEFAULT 0, sent_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0, last_error TEXT,
		created_at TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	_, err = raw.Exec(`INSERT INTO outbox_events (topic, value, created_at) VALUES ('orders', '{}', '2025-01-01 00:00:00')`)
	if err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}
	raw.Close()

	db, err := Open(context.Background(), &config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, col := range []string{"next_attempt_at", "claimed_by", "claimed_until"} {
		if !db.columnExists("outbox_events", col) {
			t.Errorf("column %s missing after migration", col)
		}
	}

	// the pre-relay row has no next_attempt_at and is due immediately
	claimed, err := db.ClaimOutbox(context.Background(), "relay", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("legacy row not claimable: %d", len(claimed))
	}
}

// --- Helpers ---

func TestRebind(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SELECT * FROM t WHERE a=? AND b=?", "SELECT * FROM t WHERE a=$1 AND b=$2"},
		{"INSERT INTO t (a) VALUES (?)", "INSERT INTO t (a) VALUES ($1)"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		got := Rebind(tt.input)
		if got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 8, 0, 0, 123456000, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"time value", want, want},
		{"sqlite format", "2026-03-01 08:00:00.123456+00:00", want},
		{"rfc3339", "2026-03-01T08:00:00.123456Z", want},
		{"offset converted to utc", "2026-03-01 10:00:00.123456+02:00", want},
		{"plain datetime", "2026-03-01 08:00:00", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"empty", "", time.Time{}},
		{"nil", nil, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTime(tt.in); !got.Equal(tt.want) {
				t.Errorf("parseTime(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPostgresDialect(t *testing.T) {
	d := postgresDialect{}
	if got := d.LockTimeout(1500 * time.Millisecond); got != "SET LOCAL lock_timeout = '1500ms'" {
		t.Errorf("LockTimeout = %q", got)
	}
	if d.LockTimeout(0) != "" {
		t.Error("zero lock timeout should produce no statement")
	}
	if (sqliteDialect{}).SkipLocked() != "" {
		t.Error("sqlite has no SKIP LOCKED")
	}
}

func TestAudit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.AppendAudit(ctx, "order", 7, "submitted", "", "loading", "intake"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.AppendAudit(ctx, "outbox", 3, "publish_failed", "", "timeout", "relay"); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := db.ListEntityAudit(ctx, "order", 7)
	if err != nil {
		t.Fatalf("list entity: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "submitted" || entries[0].Actor != "intake" {
		t.Errorf("entries = %+v", entries)
	}
	all, err := db.ListAuditLog(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("audit rows = %d, want 2", len(all))
	}
}
