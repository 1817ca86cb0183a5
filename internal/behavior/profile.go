// Package behavior holds the learned per-user saving profile and the pure
// rules that build it: a from-scratch analyzer over event history and an
// incremental learner that folds in one incident at a time. Both paths use
// the same fold, so they converge on the same profile for the same events.
package behavior

import (
	"fmt"
	"math"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
)

// Params are the fixed model constants.
type Params struct {
	// HalfLife is the age at which an observation counts half as much as
	// the newest one.
	HalfLife time.Duration
	// ConfidenceScale is the evidence count at which confidence reaches
	// 1-1/e.
	ConfidenceScale float64
	// MinEvidence is the observation count below which a profile is
	// classified as insufficient_data.
	MinEvidence int
	// ChronicRate and OccasionalRate are the lower bounds of the
	// chronic_under_saver and occasional_shortfall bands.
	ChronicRate    float64
	OccasionalRate float64
	// TopReasonCount caps Analysis.TopReasons.
	TopReasonCount int
}

// DefaultParams returns the production model constants.
func DefaultParams() Params {
	return Params{
		HalfLife:        90 * 24 * time.Hour,
		ConfidenceScale: 10,
		MinEvidence:     3,
		ChronicRate:     0.5,
		OccasionalRate:  0.15,
		TopReasonCount:  3,
	}
}

// Profile is the durable learned state for one user.
type Profile struct {
	SampleCount     int                        `json:"sampleCount"`
	IncidentCount   int                        `json:"incidentCount"`
	UnderSavingRate float64                    `json:"underSavingRate"`
	ReasonHistogram map[ReasonCategory]float64 `json:"reasonHistogram"`
	SeasonalPattern map[int]float64            `json:"seasonalPattern"`
	Confidence      float64                    `json:"confidence"`
	LastUpdated     time.Time                  `json:"lastUpdated"`

	// Running sums kept so a single new observation can be folded in
	// without replaying history. Weights are relative to LastUpdated.
	WeightedUnder float64         `json:"weightedUnder"`
	WeightedTotal float64         `json:"weightedTotal"`
	SeasonalSum   map[int]float64 `json:"seasonalSum"`
	SeasonalCount map[int]int     `json:"seasonalCount"`
}

// NewProfile returns an empty profile with a neutral seasonal pattern.
func NewProfile() *Profile {
	p := &Profile{
		ReasonHistogram: make(map[ReasonCategory]float64),
		SeasonalPattern: make(map[int]float64, 12),
		SeasonalSum:     make(map[int]float64),
		SeasonalCount:   make(map[int]int),
	}
	for m := 1; m <= 12; m++ {
		p.SeasonalPattern[m] = 0
	}
	return p
}

// ConfidenceFor maps an evidence count onto a saturating [0,1) curve.
func ConfidenceFor(samples int, scale float64) float64 {
	if samples <= 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	return 1 - math.Exp(-float64(samples)/scale)
}

// Observe folds one event into the profile and reports whether the event
// counted as evidence. Expectation events count when both amounts are
// present; incidents always count as an under-saving observation;
// contributions carry no saving-behavior evidence.
func (p *Profile) Observe(ev *events.Event, params Params) bool {
	p.ensureMaps()

	switch ev.Kind {
	case events.KindExpectation:
		short, ok := ev.Shortfall()
		if !ok {
			return false
		}
		x := 0.0
		if short {
			x = 1
		}
		p.foldRate(ev.Timestamp, x, params.HalfLife)
	case events.KindIncident:
		p.foldRate(ev.Timestamp, 1, params.HalfLife)
		p.IncidentCount++
		notes := ""
		if ev.Context != nil {
			notes = ev.Context.AdditionalNotes
		}
		p.ReasonHistogram[Categorize(ev.ReasonText, notes)]++
	default:
		return false
	}

	if m := ev.Month(); m > 0 {
		if dev, ok := ev.DeviationRatio(); ok {
			p.SeasonalSum[m] += dev
			p.SeasonalCount[m]++
			p.SeasonalPattern[m] = p.SeasonalSum[m] / float64(p.SeasonalCount[m])
		}
	}

	p.SampleCount++
	if c := ConfidenceFor(p.SampleCount, params.ConfidenceScale); c > p.Confidence {
		p.Confidence = c
	}
	return true
}

// foldRate adds observation x at time t to the exponentially decayed sums.
// Newer observations rescale the existing mass; older (backdated) ones are
// discounted instead, so the ratio is independent of arrival order.
func (p *Profile) foldRate(t time.Time, x float64, halfLife time.Duration) {
	switch {
	case p.WeightedTotal == 0:
		p.WeightedUnder = x
		p.WeightedTotal = 1
		p.LastUpdated = t
	case t.After(p.LastUpdated):
		d := decay(t.Sub(p.LastUpdated), halfLife)
		p.WeightedUnder = p.WeightedUnder*d + x
		p.WeightedTotal = p.WeightedTotal*d + 1
		p.LastUpdated = t
	default:
		w := decay(p.LastUpdated.Sub(t), halfLife)
		p.WeightedUnder += w * x
		p.WeightedTotal += w
	}

	rate := p.WeightedUnder / p.WeightedTotal
	p.UnderSavingRate = math.Min(1, math.Max(0, rate))
}

func decay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

// Seasonal returns the deviation ratio for month (1-12); 0 when unseen.
func (p *Profile) Seasonal(month int) float64 {
	return p.SeasonalPattern[month]
}

// HistogramTotal sums the reason histogram weights.
func (p *Profile) HistogramTotal() float64 {
	var total float64
	for _, w := range p.ReasonHistogram {
		total += w
	}
	return total
}

// CheckInvariants verifies the structural invariants of a profile.
func (p *Profile) CheckInvariants() error {
	if p.UnderSavingRate < 0 || p.UnderSavingRate > 1 {
		return fmt.Errorf("under-saving rate %f outside [0,1]", p.UnderSavingRate)
	}
	if p.IncidentCount > p.SampleCount {
		return fmt.Errorf("incident count %d exceeds sample count %d", p.IncidentCount, p.SampleCount)
	}
	if total := p.HistogramTotal(); math.Abs(total-float64(p.IncidentCount)) > 1e-9 {
		return fmt.Errorf("histogram total %f does not match incident count %d", total, p.IncidentCount)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", p.Confidence)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.ReasonHistogram = make(map[ReasonCategory]float64, len(p.ReasonHistogram))
	for k, v := range p.ReasonHistogram {
		cp.ReasonHistogram[k] = v
	}
	cp.SeasonalPattern = make(map[int]float64, len(p.SeasonalPattern))
	for k, v := range p.SeasonalPattern {
		cp.SeasonalPattern[k] = v
	}
	cp.SeasonalSum = make(map[int]float64, len(p.SeasonalSum))
	for k, v := range p.SeasonalSum {
		cp.SeasonalSum[k] = v
	}
	cp.SeasonalCount = make(map[int]int, len(p.SeasonalCount))
	for k, v := range p.SeasonalCount {
		cp.SeasonalCount[k] = v
	}
	return &cp
}

// ensureMaps repairs profiles decoded from snapshots with null maps.
func (p *Profile) ensureMaps() {
	if p.ReasonHistogram == nil {
		p.ReasonHistogram = make(map[ReasonCategory]float64)
	}
	if p.SeasonalPattern == nil {
		p.SeasonalPattern = make(map[int]float64, 12)
		for m := 1; m <= 12; m++ {
			p.SeasonalPattern[m] = 0
		}
	}
	if p.SeasonalSum == nil {
		p.SeasonalSum = make(map[int]float64)
	}
	if p.SeasonalCount == nil {
		p.SeasonalCount = make(map[int]int)
	}
}
