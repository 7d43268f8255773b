package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is a write transaction. Entity inserts and row-locking lookups hang off it
// so callers compose them into one atomic unit.
type Tx struct {
	tx *sql.Tx
	db *DB
}

// WithTx runs fn inside a transaction. fn's error (or panic) rolls back;
// otherwise the transaction commits and the commit error is returned.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx, db: db}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if stmt := db.dialect.LockTimeout(db.lockTimeout); stmt != "" {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			sqlTx.Rollback()
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Now returns the store clock.
func (tx *Tx) Now() time.Time { return tx.db.now() }

func (tx *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.tx.ExecContext(ctx, tx.db.Q(query), args...)
}

func (tx *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(ctx, tx.db.Q(query), args...)
}
