package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/idgen"
)

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists financial events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event *Event) (string, error) {
	return s.append(ctx, s.db, event)
}

// AppendTx appends event inside the caller's transaction.
func (s *PostgresStore) AppendTx(ctx context.Context, tx *sql.Tx, event *Event) (string, error) {
	return s.append(ctx, tx, event)
}

func (s *PostgresStore) append(ctx context.Context, q queryRower, event *Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	key := event.IdempotencyKey
	if key == "" {
		key = ContentHash(event)
	}
	id := event.ID
	if id == "" {
		id = idgen.WithPrefix("evt_")
	}

	var contextJSON []byte
	if event.Context != nil {
		b, err := json.Marshal(event.Context)
		if err != nil {
			return "", fmt.Errorf("failed to marshal incident context: %w", err)
		}
		contextJSON = b
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO financial_events
			(id, user_id, kind, occurred_at, goal_id, expected_amount, actual_amount,
			 reason_text, context, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`,
		id,
		event.UserID,
		string(event.Kind),
		event.Timestamp.UTC(),
		event.GoalID,
		nullDecimal(event.ExpectedAmount),
		nullDecimal(event.ActualAmount),
		event.ReasonText,
		nullJSON(contextJSON),
		key,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Already recorded under this key.
		err = q.QueryRowContext(ctx,
			`SELECT id FROM financial_events WHERE idempotency_key = $1`, key,
		).Scan(&id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to append event: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, occurred_at, goal_id, expected_amount, actual_amount,
		       reason_text, context, idempotency_key
		FROM financial_events
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC, id ASC
	`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		e := &Event{}
		var kind string
		var expected, actual decimal.NullDecimal
		var contextJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Timestamp, &e.GoalID,
			&expected, &actual, &e.ReasonText, &contextJSON, &e.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = Kind(kind)
		if expected.Valid {
			e.ExpectedAmount = &expected.Decimal
		}
		if actual.Valid {
			e.ActualAmount = &actual.Decimal
		}
		ic, err := decodeStoredContext(e.ID, contextJSON)
		if err != nil {
			return nil, err
		}
		e.Context = ic
		result = append(result, e)
	}
	return result, rows.Err()
}

// decodeStoredContext reads the context column. Contexts are written by
// Append, so one that does not decode means the row is damaged.
func decodeStoredContext(id string, raw []byte) (*IncidentContext, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ic IncidentContext
	if err := json.Unmarshal(raw, &ic); err != nil {
		return nil, fmt.Errorf("%w: event %s has an unreadable context: %v", ErrCorruptEvent, id, err)
	}
	return &ic, nil
}

func (s *PostgresStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM financial_events ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
