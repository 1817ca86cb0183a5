package behavior

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/validation"
)

// ErrBlankReason is returned when an incident's reason is empty.
var ErrBlankReason = errors.New("reason is required")

// Bounds, in bytes, on the stored incident text fields.
const (
	MaxReasonLength = 500
	MaxGoalIDLength = 128
	MaxNotesLength  = 2000
)

// Learner applies single incidents to an existing profile.
type Learner struct {
	params Params
}

// NewLearner creates a learner with the given model constants.
func NewLearner(params Params) *Learner {
	return &Learner{params: params}
}

// NewIncident builds the event recorded for an under-saving report.
// The reason is required; the context is sanitized and never rejected.
func NewIncident(userID, reason string, ctx *events.IncidentContext, at time.Time) (*events.Event, error) {
	reason = validation.SanitizeString(reason, MaxReasonLength)
	if reason == "" {
		return nil, ErrBlankReason
	}

	ic := SanitizeContext(ctx)
	ev := &events.Event{
		UserID:     userID,
		Kind:       events.KindIncident,
		Timestamp:  at,
		ReasonText: reason,
		Context:    ic,
	}
	if ic != nil {
		ev.GoalID = ic.GoalID
	}
	ev.IdempotencyKey = events.ContentHash(ev)
	return ev, nil
}

// SanitizeContext drops context fields that cannot be used rather than
// failing: out-of-range months and years, negative amounts. A context with
// nothing left returns nil.
func SanitizeContext(ctx *events.IncidentContext) *events.IncidentContext {
	if ctx == nil {
		return nil
	}
	ic := *ctx
	ic.GoalID = validation.SanitizeString(ic.GoalID, MaxGoalIDLength)
	ic.AdditionalNotes = validation.SanitizeString(ic.AdditionalNotes, MaxNotesLength)
	if ic.Month < 1 || ic.Month > 12 {
		ic.Month = 0
	}
	if ic.Year < 1970 || ic.Year > 9999 {
		ic.Year = 0
	}
	if ic.ExpectedAmount != nil && ic.ExpectedAmount.IsNegative() {
		ic.ExpectedAmount = nil
	}
	if ic.ActualAmount != nil && ic.ActualAmount.IsNegative() {
		ic.ActualAmount = nil
	}
	if ic == (events.IncidentContext{}) {
		return nil
	}
	return &ic
}

// Apply folds one incident into p in place.
func (l *Learner) Apply(p *Profile, incident *events.Event) error {
	if incident.Kind != events.KindIncident {
		return fmt.Errorf("learner only applies incidents, got %q", incident.Kind)
	}
	p.Observe(incident, l.params)
	return nil
}
