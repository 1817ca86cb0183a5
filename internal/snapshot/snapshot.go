// Package snapshot stores timestamped, append-only copies of derived
// per-user state: behavior analyses and risk assessments. The latest
// snapshot of a kind is the current state; older ones are history.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/idgen"
)

// ErrOutOfOrder is returned by Put when a snapshot is not newer than the
// latest one already stored for the same user and kind.
var ErrOutOfOrder = errors.New("snapshot is not newer than the latest stored snapshot")

// Kind distinguishes the derived state a snapshot carries.
type Kind string

const (
	KindBehaviorAnalysis Kind = "behavior_analysis"
	KindRiskAssessment   Kind = "risk_assessment"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBehaviorAnalysis || k == KindRiskAssessment
}

// Snapshot is one persisted version of a user's derived state.
type Snapshot struct {
	ID      string          `json:"id"`
	UserID  string          `json:"userId"`
	Kind    Kind            `json:"kind"`
	TakenAt time.Time       `json:"takenAt"`
	Payload json.RawMessage `json:"payload"`
}

// New encodes payload into a snapshot with a fresh ID.
func New(userID string, kind Kind, takenAt time.Time, payload any) (*Snapshot, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s snapshot: %w", kind, err)
	}
	return &Snapshot{
		ID:      idgen.WithPrefix("snap_"),
		UserID:  userID,
		Kind:    kind,
		TakenAt: takenAt,
		Payload: b,
	}, nil
}

// Decode unmarshals the payload into v.
func (s *Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s snapshot %s: %w", s.Kind, s.ID, err)
	}
	return nil
}

func (s *Snapshot) validate() error {
	switch {
	case s.ID == "":
		return errors.New("snapshot id is required")
	case s.UserID == "":
		return errors.New("snapshot user id is required")
	case !s.Kind.Valid():
		return fmt.Errorf("unknown snapshot kind %q", s.Kind)
	case s.TakenAt.IsZero():
		return errors.New("snapshot time is required")
	case len(s.Payload) == 0:
		return errors.New("snapshot payload is required")
	}
	return nil
}

// HistoryQuery selects snapshots for History.
type HistoryQuery struct {
	UserID string
	Kind   Kind
	From   time.Time
	To     time.Time
	Limit  int
}

// DefaultHistoryLimit applies when HistoryQuery.Limit is not positive.
const DefaultHistoryLimit = 100

// Store persists snapshots.
type Store interface {
	// Put stores snap. Putting a snapshot whose ID is already stored is a
	// no-op; otherwise TakenAt must be strictly after the latest snapshot
	// of the same user and kind.
	Put(ctx context.Context, snap *Snapshot) error

	// Latest returns the newest snapshot of kind for the user, or nil.
	Latest(ctx context.Context, userID string, kind Kind) (*Snapshot, error)

	// History returns matching snapshots, newest first.
	History(ctx context.Context, q HistoryQuery) ([]*Snapshot, error)
}

// NextTakenAt returns a snapshot time no earlier than now and strictly
// after latest, so a new snapshot always becomes the latest.
func NextTakenAt(latest *Snapshot, now time.Time) time.Time {
	if latest != nil && !now.After(latest.TakenAt) {
		return latest.TakenAt.Add(time.Microsecond)
	}
	return now
}
