package behavior

import (
	"sort"
	"time"
)

// Pattern is the dominant saving behavior of a user.
type Pattern string

const (
	PatternConsistentSaver     Pattern = "consistent_saver"
	PatternOccasionalShortfall Pattern = "occasional_shortfall"
	PatternChronicUnderSaver   Pattern = "chronic_under_saver"
	PatternInsufficientData    Pattern = "insufficient_data"
)

// Analysis is a point-in-time classification of a user's saving behavior.
type Analysis struct {
	UserID          string           `json:"userId"`
	ComputedAt      time.Time        `json:"computedAt"`
	DominantPattern Pattern          `json:"dominantPattern"`
	Profile         *Profile         `json:"profile"`
	TopReasons      []ReasonCategory `json:"topReasons"`
}

// Classify maps a profile onto a dominant pattern by its under-saving rate.
func Classify(p *Profile, params Params) Pattern {
	switch {
	case p.SampleCount < params.MinEvidence:
		return PatternInsufficientData
	case p.UnderSavingRate >= params.ChronicRate:
		return PatternChronicUnderSaver
	case p.UnderSavingRate >= params.OccasionalRate:
		return PatternOccasionalShortfall
	default:
		return PatternConsistentSaver
	}
}

// TopReasons returns up to n categories with positive weight, heaviest
// first, ties broken by enum order.
func TopReasons(hist map[ReasonCategory]float64, n int) []ReasonCategory {
	out := make([]ReasonCategory, 0, len(hist))
	for c, w := range hist {
		if w > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := hist[out[i]], hist[out[j]]
		if wi != wj {
			return wi > wj
		}
		return out[i].Order() < out[j].Order()
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Summarize builds an Analysis from a profile. The profile is copied.
func Summarize(userID string, p *Profile, params Params, computedAt time.Time) *Analysis {
	cp := p.Clone()
	return &Analysis{
		UserID:          userID,
		ComputedAt:      computedAt,
		DominantPattern: Classify(cp, params),
		Profile:         cp,
		TopReasons:      TopReasons(cp.ReasonHistogram, params.TopReasonCount),
	}
}

// TopReason returns the heaviest reason, or "" when none was reported.
func (a *Analysis) TopReason() ReasonCategory {
	if a == nil || len(a.TopReasons) == 0 {
		return ""
	}
	return a.TopReasons[0]
}
