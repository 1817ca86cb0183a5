// Package events is the append-only record of a user's financial events:
// goal contributions, expected-vs-actual savings comparisons, and reported
// under-saving incidents. Events are immutable once appended.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidEvent is returned by stores for events missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

// ErrCorruptEvent is returned when a stored event cannot be read back.
var ErrCorruptEvent = errors.New("corrupt stored event")

// Kind classifies a financial event.
type Kind string

const (
	KindContribution Kind = "contribution"
	KindExpectation  Kind = "expectation"
	KindIncident     Kind = "incident"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindContribution, KindExpectation, KindIncident:
		return true
	}
	return false
}

// IncidentContext is the optional structured context of an under-saving report.
// Every field may be absent.
type IncidentContext struct {
	GoalID          string           `json:"goalId,omitempty" validate:"omitempty,max=128"`
	ExpectedAmount  *decimal.Decimal `json:"expectedAmount,omitempty"`
	ActualAmount    *decimal.Decimal `json:"actualAmount,omitempty"`
	Month           int              `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Year            int              `json:"year,omitempty" validate:"omitempty,min=1970,max=9999"`
	AdditionalNotes string           `json:"additionalNotes,omitempty" validate:"omitempty,max=2000"`
}

// Event is one observed financial fact for a user.
type Event struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	Kind           Kind             `json:"kind"`
	Timestamp      time.Time        `json:"timestamp"`
	GoalID         string           `json:"goalId,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`
	ActualAmount   *decimal.Decimal `json:"actualAmount,omitempty"`
	ReasonText     string           `json:"reasonText,omitempty"`
	Context        *IncidentContext `json:"context,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// Shortfall reports whether the event records saving less than expected.
// ok is false when either amount is missing.
func (e *Event) Shortfall() (short bool, ok bool) {
	exp, act, ok := e.Amounts()
	if !ok {
		return false, false
	}
	return act.LessThan(exp), true
}

// Amounts returns the expected and actual amounts, falling back to the
// incident context when the top-level fields are empty.
func (e *Event) Amounts() (expected, actual decimal.Decimal, ok bool) {
	exp, act := e.ExpectedAmount, e.ActualAmount
	if e.Context != nil {
		if exp == nil {
			exp = e.Context.ExpectedAmount
		}
		if act == nil {
			act = e.Context.ActualAmount
		}
	}
	if exp == nil || act == nil {
		return decimal.Zero, decimal.Zero, false
	}
	return *exp, *act, true
}

// DeviationRatio returns (actual-expected)/expected. ok is false when amounts
// are missing or expected is not positive.
func (e *Event) DeviationRatio() (float64, bool) {
	exp, act, ok := e.Amounts()
	if !ok || !exp.IsPositive() {
		return 0, false
	}
	return act.Sub(exp).Div(exp).InexactFloat64(), true
}

// Month returns the calendar month the event applies to: the incident
// context month when set, else the expectation timestamp's month. Incidents
// without a context month return 0 so seasonal learning skips them.
func (e *Event) Month() int {
	if e.Context != nil && e.Context.Month >= 1 && e.Context.Month <= 12 {
		return e.Context.Month
	}
	if e.Kind == KindExpectation && !e.Timestamp.IsZero() {
		return int(e.Timestamp.Month())
	}
	return 0
}

// ContentHash derives a stable idempotency key from the event content.
// Replaying the same append yields the same key; IDs are excluded.
func ContentHash(e *Event) string {
	payload := struct {
		UserID    string           `json:"u"`
		Kind      Kind             `json:"k"`
		Timestamp int64            `json:"t"`
		GoalID    string           `json:"g,omitempty"`
		Expected  *decimal.Decimal `json:"e,omitempty"`
		Actual    *decimal.Decimal `json:"a,omitempty"`
		Reason    string           `json:"r,omitempty"`
		Context   *IncidentContext `json:"c,omitempty"`
	}{e.UserID, e.Kind, e.Timestamp.UnixNano(), e.GoalID, e.ExpectedAmount, e.ActualAmount, e.ReasonText, e.Context}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Validate checks the fields every store requires.
func (e *Event) Validate() error {
	if e.UserID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("userId is required"))
	}
	if !e.Kind.Valid() {
		return errors.Join(ErrInvalidEvent, errors.New("unknown event kind"))
	}
	if e.Timestamp.IsZero() {
		return errors.Join(ErrInvalidEvent, errors.New("timestamp is required"))
	}
	return nil
}

// Store persists and queries immutable financial events.
type Store interface {
	// Append records event and returns its ID. Appending an event whose
	// IdempotencyKey was already recorded returns the existing ID.
	Append(ctx context.Context, event *Event) (string, error)

	// List returns the user's events with Timestamp >= since, oldest first.
	List(ctx context.Context, userID string, since time.Time) ([]*Event, error)

	// Users returns every user with at least one event.
	Users(ctx context.Context) ([]string, error)
}

// SortChronological orders events oldest first, breaking ties by ID.
func SortChronological(evs []*Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
			return evs[i].Timestamp.Before(evs[j].Timestamp)
		}
		return evs[i].ID < evs[j].ID
	})
}
