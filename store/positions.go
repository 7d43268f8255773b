package store

import (
	"context"
	"fmt"
	"time"
)

// Position is a slot on the storage grid.
type Position struct {
	ID        int64     `json:"id"`
	X         int64     `json:"x"`
	Y         int64     `json:"y"`
	Z         int64     `json:"z"`
	CreatedAt time.Time `json:"created_at"`
}

const positionSelectCols = `id, x, y, z, created_at`

func scanPosition(row interface{ Scan(...any) error }) (*Position, error) {
	var p Position
	var createdAt any
	if err := row.Scan(&p.ID, &p.X, &p.Y, &p.Z, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (db *DB) CreatePosition(ctx context.Context, p *Position) error {
	p.CreatedAt = db.now()
	err := db.QueryRowContext(ctx, db.Q(`INSERT INTO positions (x, y, z, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		p.X, p.Y, p.Z, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (db *DB) GetPosition(ctx context.Context, id int64) (*Position, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+positionSelectCols+` FROM positions WHERE id=?`), id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "position", id)
	}
	return p, nil
}

func (db *DB) ListPositions(ctx context.Context, limit int) ([]*Position, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+positionSelectCols+` FROM positions ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// LockPosition reads a position and holds a shared lock on it until the
// transaction ends, so it cannot be deleted under a pending order.
func (tx *Tx) LockPosition(ctx context.Context, id int64) (*Position, error) {
	row := tx.queryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id=?`+tx.db.dialect.ForShare(), id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "position", id)
	}
	return p, nil
}
