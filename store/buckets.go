package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Bucket is a physical container. PositionID is nil while it is off-grid.
type Bucket struct {
	ID         int64     `json:"id"`
	PositionID *int64    `json:"position_id"`
	CreatedAt  time.Time `json:"created_at"`
}

const bucketSelectCols = `id, position_id, created_at`

func scanBucket(row interface{ Scan(...any) error }) (*Bucket, error) {
	var b Bucket
	var positionID sql.NullInt64
	var createdAt any
	if err := row.Scan(&b.ID, &positionID, &createdAt); err != nil {
		return nil, err
	}
	if positionID.Valid {
		b.PositionID = &positionID.Int64
	}
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (db *DB) CreateBucket(ctx context.Context, b *Bucket) error {
	b.CreatedAt = db.now()
	err := db.QueryRowContext(ctx, db.Q(`INSERT INTO buckets (position_id, created_at) VALUES (?, ?) RETURNING id`),
		nullInt64(b.PositionID), b.CreatedAt).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}
	return nil
}

func (db *DB) GetBucket(ctx context.Context, id int64) (*Bucket, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+bucketSelectCols+` FROM buckets WHERE id=?`), id)
	b, err := scanBucket(row)
	if err != nil {
		return nil, notFound(err, "bucket", id)
	}
	return b, nil
}

func (db *DB) CountBuckets(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets`).Scan(&n)
	return n, err
}

// InsertBucket allocates a bucket inside the transaction.
func (tx *Tx) InsertBucket(ctx context.Context, b *Bucket) error {
	b.CreatedAt = tx.db.now()
	err := tx.queryRow(ctx, `INSERT INTO buckets (position_id, created_at) VALUES (?, ?) RETURNING id`,
		nullInt64(b.PositionID), b.CreatedAt).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}
	return nil
}

// LockBucket reads a bucket and holds an exclusive lock on it until the
// transaction ends. Concurrent orders for the same bucket serialize here.
func (tx *Tx) LockBucket(ctx context.Context, id int64) (*Bucket, error) {
	row := tx.queryRow(ctx, `SELECT `+bucketSelectCols+` FROM buckets WHERE id=?`+tx.db.dialect.ForUpdate(), id)
	b, err := scanBucket(row)
	if err != nil {
		return nil, notFound(err, "bucket", id)
	}
	return b, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
