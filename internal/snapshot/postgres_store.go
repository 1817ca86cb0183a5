package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, snap *Snapshot) error {
	return p.put(ctx, p.db, snap)
}

// PutTx stores snap inside the caller's transaction.
func (p *PostgresStore) PutTx(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	return p.put(ctx, tx, snap)
}

func (p *PostgresStore) put(ctx context.Context, q execer, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}

	// Insert only when strictly newer than everything stored for the
	// user and kind; a replayed ID is a no-op.
	res, err := q.ExecContext(ctx, `
		INSERT INTO behavior_snapshots (id, user_id, kind, taken_at, payload)
		SELECT $1::text, $2::text, $3::text, $4::timestamptz, $5::jsonb
		WHERE NOT EXISTS (
			SELECT 1 FROM behavior_snapshots
			WHERE user_id = $2 AND kind = $3 AND taken_at >= $4
		)
		ON CONFLICT (id) DO NOTHING
	`, snap.ID, snap.UserID, string(snap.Kind), snap.TakenAt.UTC(), string(snap.Payload))
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM behavior_snapshots WHERE id = $1)`, snap.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check snapshot: %w", err)
	}
	if exists {
		return nil
	}
	return ErrOutOfOrder
}

func (p *PostgresStore) Latest(ctx context.Context, userID string, kind Kind) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, taken_at, payload
		FROM behavior_snapshots
		WHERE user_id = $1 AND kind = $2
		ORDER BY taken_at DESC
		LIMIT 1
	`, userID, string(kind))

	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) History(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `
		SELECT id, user_id, kind, taken_at, payload
		FROM behavior_snapshots
		WHERE user_id = $1`

	args := []any{q.UserID}
	argIdx := 2

	if q.Kind != "" {
		query += " AND kind = $" + strconv.Itoa(argIdx)
		args = append(args, string(q.Kind))
		argIdx++
	}
	if !q.From.IsZero() {
		query += " AND taken_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From.UTC())
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND taken_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To.UTC())
		argIdx++
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query += " ORDER BY taken_at DESC LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// Ping verifies the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*Snapshot, error) {
	s := &Snapshot{}
	var kind string
	var payload []byte
	if err := sc.Scan(&s.ID, &s.UserID, &kind, &s.TakenAt, &payload); err != nil {
		return nil, err
	}
	s.Kind = Kind(kind)
	s.Payload = payload
	return s, nil
}
