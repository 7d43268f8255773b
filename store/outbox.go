package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrClaimLost is returned when a relay tries to settle a row it no longer
// holds: its lease expired and another relay claimed or sent the row.
var ErrClaimLost = errors.New("outbox claim lost")

// OutboxState is derived from sent and attempts.
type OutboxState string

const (
	OutboxNew      OutboxState = "new"
	OutboxRetrying OutboxState = "retrying"
	OutboxSent     OutboxState = "sent"
)

// OutboxEvent is a message waiting for (or done with) relay to the bus.
type OutboxEvent struct {
	ID            int64             `json:"id"`
	Topic         string            `json:"topic"`
	Key           string            `json:"key,omitempty"`
	Value         json.RawMessage   `json:"value"`
	Headers       map[string]string `json:"headers,omitempty"`
	Sent          bool              `json:"sent"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	ClaimedBy     string            `json:"claimed_by,omitempty"`
	ClaimedUntil  *time.Time        `json:"claimed_until,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (e *OutboxEvent) State() OutboxState {
	switch {
	case e.Sent:
		return OutboxSent
	case e.Attempts > 0:
		return OutboxRetrying
	default:
		return OutboxNew
	}
}

const outboxSelectCols = `id, topic, key, value, headers, sent, sent_at, attempts, last_error, next_attempt_at, claimed_by, claimed_until, created_at`

func scanOutbox(row interface{ Scan(...any) error }) (*OutboxEvent, error) {
	var e OutboxEvent
	var key, headers, lastError, claimedBy sql.NullString
	var value string
	var sentAt, nextAttemptAt, claimedUntil, createdAt any
	err := row.Scan(&e.ID, &e.Topic, &key, &value, &headers, &e.Sent, &sentAt,
		&e.Attempts, &lastError, &nextAttemptAt, &claimedBy, &claimedUntil, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Key = key.String
	e.Value = json.RawMessage(value)
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &e.Headers); err != nil {
			return nil, fmt.Errorf("outbox %d headers: %w", e.ID, err)
		}
	}
	e.SentAt = parseTimePtr(sentAt)
	e.LastError = lastError.String
	e.NextAttemptAt = parseTimePtr(nextAttemptAt)
	e.ClaimedBy = claimedBy.String
	e.ClaimedUntil = parseTimePtr(claimedUntil)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func scanOutboxRows(rows *sql.Rows) ([]*OutboxEvent, error) {
	defer rows.Close()
	var events []*OutboxEvent
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertOutboxEvent enqueues e in the caller's transaction. The row is due
// immediately.
func (tx *Tx) InsertOutboxEvent(ctx context.Context, e *OutboxEvent) error {
	var headers sql.NullString
	if len(e.Headers) > 0 {
		b, err := json.Marshal(e.Headers)
		if err != nil {
			return fmt.Errorf("encode outbox headers: %w", err)
		}
		headers = sql.NullString{String: string(b), Valid: true}
	}
	now := tx.db.now()
	e.CreatedAt = now
	e.NextAttemptAt = &now
	e.Sent = false
	e.SentAt = nil
	e.Attempts = 0
	err := tx.queryRow(ctx, `INSERT INTO outbox_events (topic, key, value, headers, sent, attempts, next_attempt_at, created_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?) RETURNING id`,
		e.Topic, nullString(e.Key), string(e.Value), headers, false, now, now).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimOutbox leases up to limit due rows to owner, oldest first. A row is due
// when it is unsent, its backoff has elapsed and no live lease covers it.
// Concurrent claimers skip each other's rows; a lease that runs out makes the
// row claimable again, which is what gives crash recovery its at-least-once
// guarantee.
func (db *DB) ClaimOutbox(ctx context.Context, owner string, limit int, lease time.Duration) ([]*OutboxEvent, error) {
	now := db.now()
	query := `UPDATE outbox_events SET claimed_by=?, claimed_until=?
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE sent=? AND (next_attempt_at IS NULL OR next_attempt_at<=?) AND (claimed_until IS NULL OR claimed_until<?)
			ORDER BY created_at, id
			LIMIT ?` + db.dialect.SkipLocked() + `
		)
		RETURNING ` + outboxSelectCols
	rows, err := db.QueryContext(ctx, db.Q(query), owner, now.Add(lease), false, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	events, err := scanOutboxRows(rows)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// MarkOutboxSent records the broker ack. sent only ever goes false to true.
func (db *DB) MarkOutboxSent(ctx context.Context, id int64, owner string) error {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE outbox_events SET sent=?, sent_at=?, claimed_by=NULL, claimed_until=NULL WHERE id=? AND sent=? AND claimed_by=?`),
		true, db.now(), id, false, owner)
	if err != nil {
		return fmt.Errorf("mark outbox %d sent: %w", id, err)
	}
	return claimResult(res, id)
}

// MarkOutboxFailed counts a failed attempt, keeps the error text and gates the
// row until retryAt.
func (db *DB) MarkOutboxFailed(ctx context.Context, id int64, owner, lastError string, retryAt time.Time) error {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE outbox_events SET attempts=attempts+1, last_error=?, next_attempt_at=?, claimed_by=NULL, claimed_until=NULL WHERE id=? AND sent=? AND claimed_by=?`),
		lastError, retryAt.UTC().Truncate(time.Microsecond), id, false, owner)
	if err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", id, err)
	}
	return claimResult(res, id)
}

// ReleaseOutboxClaims hands back rows owner claimed but did not try, without
// counting an attempt.
func (db *DB) ReleaseOutboxClaims(ctx context.Context, owner string) (int64, error) {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE outbox_events SET claimed_by=NULL, claimed_until=NULL WHERE claimed_by=? AND sent=?`),
		owner, false)
	if err != nil {
		return 0, fmt.Errorf("release outbox claims: %w", err)
	}
	return res.RowsAffected()
}

func claimResult(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox %d: %w", id, ErrClaimLost)
	}
	return nil
}

func (db *DB) GetOutboxEvent(ctx context.Context, id int64) (*OutboxEvent, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+outboxSelectCols+` FROM outbox_events WHERE id=?`), id)
	e, err := scanOutbox(row)
	if err != nil {
		return nil, notFound(err, "outbox event", id)
	}
	return e, nil
}

// ListOutbox lists rows in one state, or all rows when state is empty.
// Unsent rows come oldest first, sent rows newest first.
func (db *DB) ListOutbox(ctx context.Context, state OutboxState, limit int) ([]*OutboxEvent, error) {
	var where, order string
	var args []any
	switch state {
	case OutboxNew:
		where, order = `WHERE sent=? AND attempts=0`, `created_at, id`
		args = append(args, false)
	case OutboxRetrying:
		where, order = `WHERE sent=? AND attempts>0`, `created_at, id`
		args = append(args, false)
	case OutboxSent:
		where, order = `WHERE sent=?`, `id DESC`
		args = append(args, true)
	case "":
		order = `id DESC`
	default:
		return nil, fmt.Errorf("unknown outbox state %q", state)
	}
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+outboxSelectCols+` FROM outbox_events `+where+` ORDER BY `+order+` LIMIT ?`), args...)
	if err != nil {
		return nil, err
	}
	return scanOutboxRows(rows)
}

// OutboxStats summarizes the relay backlog.
type OutboxStats struct {
	New           int        `json:"new"`
	Retrying      int        `json:"retrying"`
	Sent          int        `json:"sent"`
	MaxAttempts   int        `json:"max_attempts"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

func (db *DB) OutboxStats(ctx context.Context) (*OutboxStats, error) {
	var s OutboxStats
	var newCount, retrying, sent, maxAttempts sql.NullInt64
	var oldest any
	err := db.QueryRowContext(ctx, db.Q(`SELECT
		SUM(CASE WHEN sent=? AND attempts=0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN sent=? AND attempts>0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN sent=? THEN 1 ELSE 0 END),
		MAX(CASE WHEN sent=? THEN attempts END),
		MIN(CASE WHEN sent=? THEN created_at END)
		FROM outbox_events`), false, false, true, false, false).Scan(&newCount, &retrying, &sent, &maxAttempts, &oldest)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	s.New = int(newCount.Int64)
	s.Retrying = int(retrying.Int64)
	s.Sent = int(sent.Int64)
	s.MaxAttempts = int(maxAttempts.Int64)
	s.OldestPending = parseTimePtr(oldest)
	return &s, nil
}

// PurgeSentOutbox deletes sent rows whose sent_at is before the cutoff.
// Unsent rows are never touched.
func (db *DB) PurgeSentOutbox(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, db.Q(`DELETE FROM outbox_events WHERE sent=? AND sent_at<?`),
		true, before.UTC().Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}
