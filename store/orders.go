package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Order struct {
	ID        int64           `json:"id"`
	Priority  int64           `json:"priority"`
	OrderType string          `json:"order_type"`
	CreatedAt time.Time       `json:"created_at"`
	Actions   []*BucketAction `json:"actions,omitempty"`
}

// BucketAction is one bucket movement inside an order. Seq keeps the order's
// actions in submission order.
type BucketAction struct {
	ID               int64     `json:"id"`
	OrderID          int64     `json:"order_id"`
	Seq              int       `json:"seq"`
	BucketID         int64     `json:"bucket_id"`
	SourcePositionID *int64    `json:"source_position_id"`
	TargetPositionID *int64    `json:"target_position_id"`
	CreatedAt        time.Time `json:"created_at"`
}

const orderSelectCols = `id, priority, order_type, created_at`

const actionSelectCols = `id, order_id, seq, bucket_id, source_position_id, target_position_id, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var createdAt any
	if err := row.Scan(&o.ID, &o.Priority, &o.OrderType, &createdAt); err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

func scanAction(row interface{ Scan(...any) error }) (*BucketAction, error) {
	var a BucketAction
	var source, target sql.NullInt64
	var createdAt any
	if err := row.Scan(&a.ID, &a.OrderID, &a.Seq, &a.BucketID, &source, &target, &createdAt); err != nil {
		return nil, err
	}
	if source.Valid {
		a.SourcePositionID = &source.Int64
	}
	if target.Valid {
		a.TargetPositionID = &target.Int64
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// InsertOrder writes the order header. Orders are never updated afterwards.
func (tx *Tx) InsertOrder(ctx context.Context, o *Order) error {
	o.CreatedAt = tx.db.now()
	err := tx.queryRow(ctx, `INSERT INTO orders (priority, order_type, created_at) VALUES (?, ?, ?) RETURNING id`,
		o.Priority, o.OrderType, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (tx *Tx) InsertBucketAction(ctx context.Context, a *BucketAction) error {
	a.CreatedAt = tx.db.now()
	err := tx.queryRow(ctx, `INSERT INTO bucket_actions (order_id, seq, bucket_id, source_position_id, target_position_id, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		a.OrderID, a.Seq, a.BucketID, nullInt64(a.SourcePositionID), nullInt64(a.TargetPositionID), a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert bucket action %d of order %d: %w", a.Seq, a.OrderID, err)
	}
	return nil
}

// GetOrder returns the order with its actions in submission order.
func (db *DB) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+orderSelectCols+` FROM orders WHERE id=?`), id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	o.Actions, err = db.ListBucketActions(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (db *DB) ListOrders(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+orderSelectCols+` FROM orders ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (db *DB) ListBucketActions(ctx context.Context, orderID int64) ([]*BucketAction, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+actionSelectCols+` FROM bucket_actions WHERE order_id=? ORDER BY seq`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []*BucketAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// RowCounts reports the number of rows per intake table.
type RowCounts struct {
	Orders  int `json:"orders"`
	Actions int `json:"actions"`
	Outbox  int `json:"outbox"`
}

func (db *DB) CountRows(ctx context.Context) (RowCounts, error) {
	var c RowCounts
	err := db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM orders),
		(SELECT COUNT(*) FROM bucket_actions),
		(SELECT COUNT(*) FROM outbox_events)`).Scan(&c.Orders, &c.Actions, &c.Outbox)
	return c, err
}
