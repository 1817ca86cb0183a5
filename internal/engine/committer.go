package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/snapshot"
)

// PostgresCommitter writes an incident and its profile snapshot in one
// transaction.
type PostgresCommitter struct {
	db        *sql.DB
	events    *events.PostgresStore
	snapshots *snapshot.PostgresStore
}

// NewPostgresCommitter creates a committer over the given stores, which must
// share db.
func NewPostgresCommitter(db *sql.DB, ev *events.PostgresStore, snaps *snapshot.PostgresStore) *PostgresCommitter {
	return &PostgresCommitter{db: db, events: ev, snapshots: snaps}
}

// CommitIncident appends incident and puts snap atomically.
func (c *PostgresCommitter) CommitIncident(ctx context.Context, incident *events.Event, snap *snapshot.Snapshot) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := c.events.AppendTx(ctx, tx, incident); err != nil {
		return fmt.Errorf("failed to append incident: %w", err)
	}
	if err := c.snapshots.PutTx(ctx, tx, snap); err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident: %w", err)
	}
	return nil
}
