package risk

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
)

// Assessor computes risk assessments. It holds no per-user state and is
// safe for concurrent use.
type Assessor struct {
	window               time.Duration
	minProbability       float64
	minVolatilitySamples int
}

// NewAssessor creates an assessor with default thresholds.
func NewAssessor() *Assessor {
	return &Assessor{
		window:               DefaultWindow,
		minProbability:       DefaultMinProbability,
		minVolatilitySamples: DefaultMinVolatilitySamples,
	}
}

// WithWindow overrides how far back recent events reach.
func (a *Assessor) WithWindow(d time.Duration) *Assessor {
	a.window = d
	return a
}

// WithMinProbability overrides the probability below which risks are dropped.
func (a *Assessor) WithMinProbability(p float64) *Assessor {
	a.minProbability = p
	return a
}

// Window returns the recent-events lookback.
func (a *Assessor) Window() time.Duration {
	return a.window
}

// Assess builds an assessment from the user's profile and recent events.
// A nil profile is treated as empty. Events outside the window are ignored.
func (a *Assessor) Assess(userID string, profile *behavior.Profile, recent []*events.Event, now time.Time) *Assessment {
	if profile == nil {
		profile = behavior.NewProfile()
	}

	cutoff := now.Add(-a.window)
	inWindow := make([]*events.Event, 0, len(recent))
	for _, ev := range recent {
		if ev != nil && !ev.Timestamp.Before(cutoff) {
			inWindow = append(inWindow, ev)
		}
	}

	candidates := []Risk{
		goalSlippage(profile, inWindow),
		a.incomeVolatility(inWindow),
		overspendPattern(profile, inWindow),
		lowConfidence(profile),
	}

	risks := make([]Risk, 0, len(candidates))
	for _, r := range candidates {
		if r.Probability > a.minProbability {
			r.Probability = round3(r.Probability)
			r.Severity = round3(r.Severity)
			risks = append(risks, r)
		}
	}
	sortRisks(risks)

	return &Assessment{
		UserID:       userID,
		LastAssessed: now,
		Risks:        risks,
	}
}

// sortRisks orders by expected impact, then category enum order, then
// most recent evidence first.
func sortRisks(risks []Risk) {
	sort.SliceStable(risks, func(i, j int) bool {
		si, sj := risks[i].Score(), risks[j].Score()
		if si != sj {
			return si > sj
		}
		oi, oj := risks[i].Category.Order(), risks[j].Category.Order()
		if oi != oj {
			return oi < oj
		}
		return risks[i].LatestEvidence.After(risks[j].LatestEvidence)
	})
}

// goalSlippage: probability is the learned under-saving rate; severity is
// the share of goals seen in the window whose cumulative actual savings
// trail their cumulative expectation.
func goalSlippage(p *behavior.Profile, recent []*events.Event) Risk {
	type tally struct{ expected, actual decimal.Decimal }
	goals := make(map[string]*tally)

	for _, ev := range recent {
		if ev.GoalID == "" {
			continue
		}
		exp, act, ok := ev.Amounts()
		if !ok {
			continue
		}
		g := goals[ev.GoalID]
		if g == nil {
			g = &tally{}
			goals[ev.GoalID] = g
		}
		g.expected = g.expected.Add(exp)
		g.actual = g.actual.Add(act)
	}

	severity := DefaultUnknownSeverity
	if len(goals) > 0 {
		behind := 0
		for _, g := range goals {
			if g.actual.LessThan(g.expected) {
				behind++
			}
		}
		severity = float64(behind) / float64(len(goals))
	}

	return Risk{
		Category:       CategoryGoalSlippage,
		Probability:    p.UnderSavingRate,
		Severity:       severity,
		EvidenceCount:  p.SampleCount,
		LatestEvidence: p.LastUpdated,
	}
}

// incomeVolatility: probability is the coefficient of variation of the
// actual amounts of recent expectation events; severity is the largest
// shortfall ratio among them. Contributions and incidents do not count.
func (a *Assessor) incomeVolatility(recent []*events.Event) Risk {
	r := Risk{Category: CategoryIncomeVolatility}

	var amounts []float64
	for _, ev := range recent {
		if ev.Kind != events.KindExpectation || ev.ActualAmount == nil {
			continue
		}
		amounts = append(amounts, ev.ActualAmount.InexactFloat64())
		if ev.Timestamp.After(r.LatestEvidence) {
			r.LatestEvidence = ev.Timestamp
		}
		if s, ok := shortfallRatio(ev); ok && s > r.Severity {
			r.Severity = s
		}
	}
	r.EvidenceCount = len(amounts)
	if len(amounts) < a.minVolatilitySamples {
		return r
	}
	r.Probability = math.Min(1, coefficientOfVariation(amounts))
	return r
}

// overspendPattern: probability is the share of learned incidents in
// spending-related categories; severity is the mean shortfall ratio of the
// recent spending incidents that carry amounts.
func overspendPattern(p *behavior.Profile, recent []*events.Event) Risk {
	r := Risk{Category: CategoryOverspendPattern, LatestEvidence: p.LastUpdated}

	var spending float64
	for c, w := range p.ReasonHistogram {
		if c.SpendingRelated() {
			spending += w
		}
	}
	if total := p.HistogramTotal(); total > 0 {
		r.Probability = spending / total
	}
	r.EvidenceCount = int(spending)

	var sum float64
	var n int
	var latest time.Time
	for _, ev := range recent {
		if ev.Kind != events.KindIncident || !incidentCategory(ev).SpendingRelated() {
			continue
		}
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
		if s, ok := shortfallRatio(ev); ok {
			sum += s
			n++
		}
	}
	if !latest.IsZero() {
		r.LatestEvidence = latest
	}
	r.Severity = DefaultUnknownSeverity
	if n > 0 {
		r.Severity = sum / float64(n)
	}
	return r
}

// lowConfidence flags profiles built on little evidence.
func lowConfidence(p *behavior.Profile) Risk {
	return Risk{
		Category:       CategoryLowConfidenceData,
		Probability:    1 - p.Confidence,
		Severity:       DefaultLowConfidenceSeverity,
		EvidenceCount:  p.SampleCount,
		LatestEvidence: p.LastUpdated,
	}
}

func incidentCategory(ev *events.Event) behavior.ReasonCategory {
	notes := ""
	if ev.Context != nil {
		notes = ev.Context.AdditionalNotes
	}
	return behavior.Categorize(ev.ReasonText, notes)
}

// shortfallRatio returns (expected-actual)/expected clamped to [0, 1].
func shortfallRatio(ev *events.Event) (float64, bool) {
	dev, ok := ev.DeviationRatio()
	if !ok {
		return 0, false
	}
	return math.Min(1, math.Max(0, -dev)), true
}

func coefficientOfVariation(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq/float64(len(xs))) / mean
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
