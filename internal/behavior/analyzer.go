package behavior

import (
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
)

// Analyzer recomputes a profile from scratch over a user's full event
// history. The result depends only on the events, never on wall-clock time,
// so identical histories yield identical profiles.
type Analyzer struct {
	params Params
}

// NewAnalyzer creates an analyzer with the given model constants.
func NewAnalyzer(params Params) *Analyzer {
	return &Analyzer{params: params}
}

// Params returns the analyzer's model constants.
func (a *Analyzer) Params() Params {
	return a.params
}

// Rebuild folds history, oldest first, into a fresh profile.
func (a *Analyzer) Rebuild(history []*events.Event) *Profile {
	ordered := make([]*events.Event, len(history))
	copy(ordered, history)
	events.SortChronological(ordered)

	p := NewProfile()
	for _, ev := range ordered {
		if ev == nil {
			continue
		}
		p.Observe(ev, a.params)
	}
	return p
}

// Analyze classifies a user's behavior from history. It never fails: with
// too little evidence the pattern is insufficient_data.
func (a *Analyzer) Analyze(userID string, history []*events.Event, computedAt time.Time) *Analysis {
	return Summarize(userID, a.Rebuild(history), a.params, computedAt)
}
