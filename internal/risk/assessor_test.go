package risk

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func amt(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func expectation(goal string, daysAgo int, expected, actual float64) *events.Event {
	return &events.Event{
		UserID:         "u",
		Kind:           events.KindExpectation,
		Timestamp:      now.AddDate(0, 0, -daysAgo),
		GoalID:         goal,
		ExpectedAmount: amt(expected),
		ActualAmount:   amt(actual),
	}
}

func incident(reason string, daysAgo int, ctx *events.IncidentContext) *events.Event {
	return &events.Event{
		UserID:     "u",
		Kind:       events.KindIncident,
		Timestamp:  now.AddDate(0, 0, -daysAgo),
		ReasonText: reason,
		Context:    ctx,
	}
}

func profileFor(evs []*events.Event) *behavior.Profile {
	return behavior.NewAnalyzer(behavior.DefaultParams()).Rebuild(evs)
}

func TestAssess_NewUserOnlyLowConfidence(t *testing.T) {
	a := NewAssessor().Assess("u", nil, nil, now)

	if len(a.Risks) != 1 {
		t.Fatalf("expected only low_confidence_data, got %+v", a.Risks)
	}
	r := a.Risks[0]
	if r.Category != CategoryLowConfidenceData || r.Probability != 1 || r.Severity != DefaultLowConfidenceSeverity {
		t.Errorf("unexpected risk: %+v", r)
	}
	if !a.LastAssessed.Equal(now) {
		t.Errorf("expected LastAssessed %v, got %v", now, a.LastAssessed)
	}
}

func TestAssess_BoundsAndOrdering(t *testing.T) {
	evs := []*events.Event{
		expectation("g1", 10, 500, 100),
		expectation("g1", 40, 500, 480),
		expectation("g2", 70, 300, 350),
		expectation("g3", 100, 200, 20),
		incident("impulse shopping", 5, &events.IncidentContext{ExpectedAmount: amt(400), ActualAmount: amt(100)}),
		incident("restaurant dinners", 15, nil),
		incident("car breakdown", 20, nil),
	}
	a := NewAssessor().Assess("u", profileFor(evs), evs, now)

	if len(a.Risks) == 0 {
		t.Fatal("expected risks")
	}
	for i, r := range a.Risks {
		if r.Probability < 0 || r.Probability > 1 || r.Severity < 0 || r.Severity > 1 {
			t.Errorf("risk %s out of bounds: %+v", r.Category, r)
		}
		if r.Probability <= DefaultMinProbability {
			t.Errorf("risk %s below floor kept: %f", r.Category, r.Probability)
		}
		if i > 0 && a.Risks[i-1].Score() < r.Score() {
			t.Errorf("risks not ordered by p*severity at %d", i)
		}
	}

	over, ok := a.Find(CategoryOverspendPattern)
	if !ok {
		t.Fatal("expected overspend_pattern")
	}
	if math.Abs(over.Probability-0.667) > 1e-9 {
		t.Errorf("expected 2/3 spending incidents, got %f", over.Probability)
	}
	if math.Abs(over.Severity-0.75) > 1e-9 {
		t.Errorf("expected severity 0.75 from the one spending incident with amounts, got %f", over.Severity)
	}

	slip, ok := a.Find(CategoryGoalSlippage)
	if !ok {
		t.Fatal("expected goal_slippage")
	}
	// g1 (580 of 1000) and g3 are behind, g2 is ahead.
	if math.Abs(slip.Severity-0.667) > 1e-9 {
		t.Errorf("expected 2/3 goals behind, got %f", slip.Severity)
	}
}

func TestAssess_GoalSlippageWithoutGoalsUsesDefaultSeverity(t *testing.T) {
	evs := []*events.Event{
		expectation("", 1, 100, 10),
		expectation("", 2, 100, 10),
		expectation("", 3, 100, 10),
	}
	a := NewAssessor().Assess("u", profileFor(evs), evs, now)
	slip, ok := a.Find(CategoryGoalSlippage)
	if !ok {
		t.Fatal("expected goal_slippage")
	}
	if slip.Severity != DefaultUnknownSeverity {
		t.Errorf("expected default severity, got %f", slip.Severity)
	}
	if slip.Probability != 1 {
		t.Errorf("expected probability 1, got %f", slip.Probability)
	}
}

func TestAssess_IncomeVolatilityNeedsThreeSamples(t *testing.T) {
	two := []*events.Event{
		expectation("g", 1, 100, 10),
		expectation("g", 2, 100, 190),
	}
	a := NewAssessor().Assess("u", profileFor(two), two, now)
	if _, ok := a.Find(CategoryIncomeVolatility); ok {
		t.Fatal("income_volatility needs at least three amounts")
	}

	three := append(two, expectation("g", 3, 100, 100))
	a = NewAssessor().Assess("u", profileFor(three), three, now)
	vol, ok := a.Find(CategoryIncomeVolatility)
	if !ok {
		t.Fatal("expected income_volatility")
	}
	if vol.EvidenceCount != 3 {
		t.Errorf("expected 3 samples, got %d", vol.EvidenceCount)
	}
	if math.Abs(vol.Severity-0.9) > 1e-9 {
		t.Errorf("expected largest shortfall 0.9, got %f", vol.Severity)
	}
}

func TestAssess_SteadySaverHasNoVolatility(t *testing.T) {
	var evs []*events.Event
	for i := 0; i < 30; i++ {
		evs = append(evs, expectation("g", i*5, 250, 250))
	}
	a := NewAssessor().Assess("u", profileFor(evs), evs, now)
	for _, r := range a.Risks {
		if r.Category == CategoryIncomeVolatility || r.Category == CategoryGoalSlippage {
			t.Errorf("steady saver should not carry %s: %+v", r.Category, r)
		}
	}
}

func TestAssess_VolatilityIgnoresContributionsAndIncidents(t *testing.T) {
	var evs []*events.Event
	for i := 0; i < 6; i++ {
		evs = append(evs, expectation("g", i+1, 100, 100))
	}
	for i, v := range []float64{5, 500, 20, 1000} {
		evs = append(evs, &events.Event{
			UserID:       "u",
			Kind:         events.KindContribution,
			Timestamp:    now.AddDate(0, 0, -(10 + i)),
			ActualAmount: amt(v),
		})
	}
	evs = append(evs, incident("impulse shopping", 3, &events.IncidentContext{
		ExpectedAmount: amt(400),
		ActualAmount:   amt(1),
	}))

	a := NewAssessor().Assess("u", profileFor(evs), evs, now)
	if vol, ok := a.Find(CategoryIncomeVolatility); ok {
		t.Fatalf("flat expectations must not report income_volatility: %+v", vol)
	}
}

func TestAssess_IgnoresEventsOutsideWindow(t *testing.T) {
	evs := []*events.Event{
		expectation("g", 400, 100, 0),
		expectation("g", 401, 100, 300),
		expectation("g", 402, 100, 20),
	}
	a := NewAssessor().Assess("u", behavior.NewProfile(), evs, now)
	if _, ok := a.Find(CategoryIncomeVolatility); ok {
		t.Fatal("events older than the window must be ignored")
	}
}

func TestAssess_TieBreakByCategoryOrder(t *testing.T) {
	risks := []Risk{
		{Category: CategoryLowConfidenceData, Probability: 0.5, Severity: 0.4},
		{Category: CategoryOverspendPattern, Probability: 0.4, Severity: 0.5},
		{Category: CategoryGoalSlippage, Probability: 0.2, Severity: 1},
	}
	sortRisks(risks)
	want := []Category{CategoryGoalSlippage, CategoryOverspendPattern, CategoryLowConfidenceData}
	for i, c := range want {
		if risks[i].Category != c {
			t.Fatalf("position %d: expected %s, got %s", i, c, risks[i].Category)
		}
	}
}

func TestAssess_Deterministic(t *testing.T) {
	evs := []*events.Event{
		expectation("g1", 3, 100, 40),
		expectation("g2", 9, 100, 120),
		incident("vacation", 4, nil),
		incident("doctor", 6, nil),
	}
	p := profileFor(evs)
	first := NewAssessor().Assess("u", p, evs, now)
	second := NewAssessor().Assess("u", p, evs, now)
	if len(first.Risks) != len(second.Risks) {
		t.Fatal("assessment not deterministic")
	}
	for i := range first.Risks {
		if first.Risks[i] != second.Risks[i] {
			t.Fatalf("risk %d differs: %+v vs %+v", i, first.Risks[i], second.Risks[i])
		}
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	if cv := coefficientOfVariation([]float64{5, 5, 5}); cv != 0 {
		t.Errorf("expected 0, got %f", cv)
	}
	if cv := coefficientOfVariation([]float64{0, 0, 0}); cv != 0 {
		t.Errorf("expected 0 for zero mean, got %f", cv)
	}
	if cv := coefficientOfVariation([]float64{0, 10}); math.Abs(cv-1) > 1e-9 {
		t.Errorf("expected 1, got %f", cv)
	}
}
