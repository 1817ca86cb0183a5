package advisor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/risk"
)

var now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func analysis(pattern behavior.Pattern, rate, confidence float64, reasons ...behavior.ReasonCategory) *behavior.Analysis {
	p := behavior.NewProfile()
	p.UnderSavingRate = rate
	p.Confidence = confidence
	p.SampleCount = 20
	return &behavior.Analysis{
		UserID:          "u",
		ComputedAt:      now,
		DominantPattern: pattern,
		Profile:         p,
		TopReasons:      reasons,
	}
}

func allRisks() *risk.Assessment {
	return &risk.Assessment{
		UserID:       "u",
		LastAssessed: now,
		Risks: []risk.Risk{
			{Category: risk.CategoryGoalSlippage, Probability: 0.7, Severity: 0.8, LatestEvidence: now},
			{Category: risk.CategoryOverspendPattern, Probability: 0.6, Severity: 0.5, LatestEvidence: now},
			{Category: risk.CategoryIncomeVolatility, Probability: 0.4, Severity: 0.6, LatestEvidence: now},
			{Category: risk.CategoryLowConfidenceData, Probability: 0.3, Severity: 0.2, LatestEvidence: now},
		},
	}
}

func TestGenerate_NoAnalysisKeepTracking(t *testing.T) {
	recs := NewGenerator().Generate(Input{UserID: "u", Now: now})
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryKeepTracking, recs[0].Category)
	assert.Equal(t, 1, recs[0].Rank)
	assert.Equal(t, "u", recs[0].UserID)
	assert.Equal(t, now, recs[0].GeneratedAt)
	assert.NotEmpty(t, recs[0].Message)
}

func TestGenerate_InsufficientDataWithoutQualifyingRisk(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:   "u",
		Analysis: analysis(behavior.PatternInsufficientData, 0, 0.18),
		Assessment: &risk.Assessment{UserID: "u", LastAssessed: now, Risks: []risk.Risk{
			{Category: risk.CategoryLowConfidenceData, Probability: 0.82, Severity: 0.2, LatestEvidence: now},
		}},
		Now: now,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryKeepTracking, recs[0].Category)
	assert.Equal(t, 0.18, recs[0].Confidence)
}

func TestGenerate_InsufficientDataStillActsOnRisks(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:     "u",
		Analysis:   analysis(behavior.PatternInsufficientData, 1, 0.18),
		Assessment: allRisks(),
		Now:        now,
	})
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.NotEqual(t, CategoryKeepTracking, r.Category)
	}
	assert.Equal(t, CategoryGoalSlippage, recs[0].Category)
}

func TestGenerate_RanksQualifyingRisks(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:     "u",
		Analysis:   analysis(behavior.PatternChronicUnderSaver, 0.7, 0.9, behavior.ReasonLifestyle, behavior.ReasonUnexpectedBills),
		Assessment: allRisks(),
		Now:        now,
	})

	require.Len(t, recs, 3, "low_confidence_data has severity below 0.3")
	assert.Equal(t, CategoryGoalSlippage, recs[0].Category)
	assert.Equal(t, CategoryOverspendPattern, recs[1].Category)
	assert.Equal(t, CategoryIncomeVolatility, recs[2].Category)
	for i, r := range recs {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, 0.9, r.Confidence)
	}

	assert.Contains(t, recs[0].Message, "lifestyle spending")
	require.NotNil(t, recs[0].SuggestedAction.Months)
	assert.Equal(t, 4, *recs[0].SuggestedAction.Months)

	assert.Equal(t, ActionLimitSpending, recs[1].SuggestedAction.Kind)
	assert.Equal(t, behavior.ReasonLifestyle, recs[1].SuggestedAction.Category)
}

func TestGenerate_DedupesAndCaps(t *testing.T) {
	a := allRisks()
	a.Risks = append(a.Risks, risk.Risk{Category: risk.CategoryGoalSlippage, Probability: 0.2, Severity: 0.9})

	recs := NewGenerator().WithMaxResults(2).Generate(Input{
		UserID:     "u",
		Analysis:   analysis(behavior.PatternChronicUnderSaver, 0.7, 0.9),
		Assessment: a,
		Now:        now,
	})
	require.Len(t, recs, 2)

	seen := map[Category]bool{}
	for _, r := range recs {
		assert.False(t, seen[r.Category], "duplicate category %s", r.Category)
		seen[r.Category] = true
	}
}

func TestGenerate_NeverMoreThanFive(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:     "u",
		Analysis:   analysis(behavior.PatternChronicUnderSaver, 0.9, 0.9),
		Assessment: allRisks(),
		Now:        now,
	})
	assert.LessOrEqual(t, len(recs), DefaultMaxResults)
	assert.NotEmpty(t, recs)
}

func TestGenerate_NoQualifyingRiskGivesSavingsHabit(t *testing.T) {
	recent := []*events.Event{
		{Kind: events.KindExpectation, ExpectedAmount: dec("200"), ActualAmount: dec("210")},
		{Kind: events.KindExpectation, ExpectedAmount: dec("300"), ActualAmount: dec("300")},
	}
	recs := NewGenerator().Generate(Input{
		UserID:   "u",
		Analysis: analysis(behavior.PatternConsistentSaver, 0, 0.95),
		Assessment: &risk.Assessment{Risks: []risk.Risk{
			{Category: risk.CategoryLowConfidenceData, Probability: 0.06, Severity: 0.2},
		}},
		Recent: recent,
		Now:    now,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, CategorySavingsHabit, recs[0].Category)
	assert.Equal(t, ActionIncreaseContribution, recs[0].SuggestedAction.Kind)
	require.NotNil(t, recs[0].SuggestedAction.Amount)
	assert.True(t, recs[0].SuggestedAction.Amount.Equal(decimal.RequireFromString("12.5")),
		"5%% of the 250 typical target, got %s", recs[0].SuggestedAction.Amount)
}

func TestGenerate_OccasionalShortfallHabit(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:   "u",
		Analysis: analysis(behavior.PatternOccasionalShortfall, 0.2, 0.8, behavior.ReasonMedical),
		Now:      now,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, ActionAutomateTransfer, recs[0].SuggestedAction.Kind)
	assert.Contains(t, recs[0].Message, "medical costs")
}

func TestGenerate_AdaptsToTopReason(t *testing.T) {
	gen := NewGenerator()
	base := Input{UserID: "u", Assessment: allRisks(), Now: now}

	bills := base
	bills.Analysis = analysis(behavior.PatternChronicUnderSaver, 0.7, 0.9, behavior.ReasonUnexpectedBills)
	family := base
	family.Analysis = analysis(behavior.PatternChronicUnderSaver, 0.7, 0.9, behavior.ReasonFamily)

	assert.NotEqual(t, gen.Generate(bills)[0].Message, gen.Generate(family)[0].Message)
}

func TestGenerate_IncomeBufferAmount(t *testing.T) {
	recs := NewGenerator().Generate(Input{
		UserID:   "u",
		Analysis: analysis(behavior.PatternOccasionalShortfall, 0.3, 0.9),
		Assessment: &risk.Assessment{Risks: []risk.Risk{
			{Category: risk.CategoryIncomeVolatility, Probability: 0.5, Severity: 0.5},
		}},
		Recent: []*events.Event{{Kind: events.KindExpectation, ExpectedAmount: dec("400"), ActualAmount: dec("200")}},
		Now:    now,
	})
	require.Len(t, recs, 1)
	act := recs[0].SuggestedAction
	assert.Equal(t, ActionBuildBuffer, act.Kind)
	require.NotNil(t, act.Percent)
	assert.Equal(t, 20, *act.Percent)
	require.NotNil(t, act.Amount)
	assert.True(t, act.Amount.Equal(decimal.NewFromInt(200)))
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
