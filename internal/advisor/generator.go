package advisor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/risk"
)

// Input is everything a generation run looks at. Analysis and Assessment
// may be nil.
type Input struct {
	UserID     string
	Analysis   *behavior.Analysis
	Assessment *risk.Assessment
	// Recent events size amount-based suggestions; optional.
	Recent []*events.Event
	Now    time.Time
}

// Generator produces recommendations. It is stateless and safe for
// concurrent use.
type Generator struct {
	minSeverity float64
	maxResults  int
}

// NewGenerator creates a generator with default limits.
func NewGenerator() *Generator {
	return &Generator{
		minSeverity: DefaultMinSeverity,
		maxResults:  DefaultMaxResults,
	}
}

// WithMaxResults overrides the result cap.
func (g *Generator) WithMaxResults(n int) *Generator {
	if n > 0 {
		g.maxResults = n
	}
	return g
}

type candidate struct {
	rec      *Recommendation
	score    float64
	evidence time.Time
}

// Generate returns between one and maxResults recommendations, at most one
// per category, ranked by risk impact, then category order, then the
// recency of the evidence behind them. Without a profile, or with too
// little history and no qualifying risk, the result is a single
// keep-tracking recommendation.
func (g *Generator) Generate(in Input) []*Recommendation {
	a := in.Analysis
	if a == nil || a.Profile == nil {
		return []*Recommendation{g.keepTracking(in)}
	}

	confidence := round3(a.Profile.Confidence)
	reason := a.TopReason()
	typical := typicalExpected(in.Recent)

	seen := make(map[Category]bool)
	var cands []candidate
	if in.Assessment != nil {
		for _, r := range in.Assessment.Risks {
			if r.Severity < g.minSeverity {
				continue
			}
			rec := g.forRisk(r, a, reason, typical)
			if rec == nil || seen[rec.Category] {
				continue
			}
			seen[rec.Category] = true
			rec.UserID = in.UserID
			rec.GeneratedAt = in.Now
			rec.Confidence = confidence
			cands = append(cands, candidate{rec: rec, score: r.Score(), evidence: r.LatestEvidence})
		}
	}

	if len(cands) == 0 {
		if a.DominantPattern == behavior.PatternInsufficientData {
			return []*Recommendation{g.keepTracking(in)}
		}
		rec := savingsHabit(a, reason, typical)
		rec.UserID = in.UserID
		rec.GeneratedAt = in.Now
		rec.Confidence = confidence
		cands = append(cands, candidate{rec: rec})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		oi, oj := cands[i].rec.Category.Order(), cands[j].rec.Category.Order()
		if oi != oj {
			return oi < oj
		}
		return cands[i].evidence.After(cands[j].evidence)
	})

	if len(cands) > g.maxResults {
		cands = cands[:g.maxResults]
	}
	out := make([]*Recommendation, len(cands))
	for i, c := range cands {
		c.rec.Rank = i + 1
		out[i] = c.rec
	}
	return out
}

func (g *Generator) forRisk(r risk.Risk, a *behavior.Analysis, reason behavior.ReasonCategory, typical *decimal.Decimal) *Recommendation {
	switch r.Category {
	case risk.CategoryGoalSlippage:
		months := int(math.Max(1, math.Round(a.Profile.UnderSavingRate*6)))
		return &Recommendation{
			Category: CategoryGoalSlippage,
			Message: fmt.Sprintf("You have been falling behind on your savings goals%s. Extending your goal timeline by %d %s keeps it realistic.",
				because(reason), months, plural(months, "month", "months")),
			SuggestedAction: SuggestedAction{Kind: ActionExtendTimeline, Months: intPtr(months)},
		}

	case risk.CategoryIncomeVolatility:
		action := SuggestedAction{Kind: ActionBuildBuffer, Percent: intPtr(10 + int(math.Round(r.Probability*20)))}
		if typical != nil {
			buf := typical.Mul(decimal.NewFromFloat(r.Severity)).Round(2)
			if buf.IsPositive() {
				action.Amount = &buf
			}
		}
		return &Recommendation{
			Category: CategoryIncomeVolatility,
			Message: fmt.Sprintf("Your savings vary a lot from month to month%s. Put aside %d%% of good months into a buffer for the lean ones.",
				because(reason), *action.Percent),
			SuggestedAction: action,
		}

	case risk.CategoryOverspendPattern:
		target := spendingReason(a.TopReasons)
		pct := 10 + int(math.Round(r.Severity*20))
		return &Recommendation{
			Category: CategoryOverspendPattern,
			Message: fmt.Sprintf("Most of your shortfalls come from %s. Try a spending limit %d%% below your current %s budget.",
				reasonPhrase(target), pct, reasonPhrase(target)),
			SuggestedAction: SuggestedAction{Kind: ActionLimitSpending, Category: target, Percent: intPtr(pct)},
		}

	case risk.CategoryLowConfidenceData:
		return &Recommendation{
			Category:        CategoryLowConfidenceData,
			Message:         "A few more months of tracking will make these insights much more reliable. Log your contributions and any missed targets.",
			SuggestedAction: SuggestedAction{Kind: ActionLogMoreData, Months: intPtr(1)},
		}
	}
	return nil
}

func savingsHabit(a *behavior.Analysis, reason behavior.ReasonCategory, typical *decimal.Decimal) *Recommendation {
	rec := &Recommendation{Category: CategorySavingsHabit}
	switch a.DominantPattern {
	case behavior.PatternConsistentSaver:
		rec.Message = "You are hitting your savings targets consistently. Consider raising your monthly contribution by 5%."
		rec.SuggestedAction = SuggestedAction{Kind: ActionIncreaseContribution, Percent: intPtr(5)}
		if typical != nil {
			inc := typical.Mul(decimal.NewFromFloat(0.05)).Round(2)
			if inc.IsPositive() {
				rec.SuggestedAction.Amount = &inc
			}
		}
	default:
		rec.Message = fmt.Sprintf("Some months fall short%s. Scheduling an automatic transfer on payday makes saving the default.", because(reason))
		rec.SuggestedAction = SuggestedAction{Kind: ActionAutomateTransfer, Category: reason}
		if typical != nil && typical.IsPositive() {
			amt := typical.Round(2)
			rec.SuggestedAction.Amount = &amt
		}
	}
	return rec
}

func (g *Generator) keepTracking(in Input) *Recommendation {
	var confidence float64
	if in.Analysis != nil && in.Analysis.Profile != nil {
		confidence = round3(in.Analysis.Profile.Confidence)
	}
	return &Recommendation{
		UserID:          in.UserID,
		GeneratedAt:     in.Now,
		Category:        CategoryKeepTracking,
		Message:         "Keep tracking your savings. Once there is enough history you will get personalized suggestions.",
		SuggestedAction: SuggestedAction{Kind: ActionKeepTracking},
		Confidence:      confidence,
		Rank:            1,
	}
}

// typicalExpected is the mean expected amount of recent expectation events.
func typicalExpected(recent []*events.Event) *decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, ev := range recent {
		if ev == nil || ev.Kind != events.KindExpectation {
			continue
		}
		exp, _, ok := ev.Amounts()
		if !ok || !exp.IsPositive() {
			continue
		}
		sum = sum.Add(exp)
		n++
	}
	if n == 0 {
		return nil
	}
	mean := sum.Div(decimal.NewFromInt(int64(n))).Round(2)
	return &mean
}

func spendingReason(top []behavior.ReasonCategory) behavior.ReasonCategory {
	for _, c := range top {
		if c.SpendingRelated() {
			return c
		}
	}
	return behavior.ReasonOverspending
}

var reasonPhrases = map[behavior.ReasonCategory]string{
	behavior.ReasonUnexpectedBills: "unexpected bills",
	behavior.ReasonMedical:         "medical costs",
	behavior.ReasonIncomeDrop:      "drops in income",
	behavior.ReasonOverspending:    "discretionary spending",
	behavior.ReasonLifestyle:       "lifestyle spending",
	behavior.ReasonDebt:            "debt repayments",
	behavior.ReasonFamily:          "family expenses",
	behavior.ReasonEmergency:       "emergencies",
	behavior.ReasonOther:           "other expenses",
}

func reasonPhrase(c behavior.ReasonCategory) string {
	if p, ok := reasonPhrases[c]; ok {
		return p
	}
	return string(c)
}

// because renders the top reason as a trailing clause, or nothing when the
// reason is unknown or uninformative.
func because(c behavior.ReasonCategory) string {
	if c == "" || c == behavior.ReasonOther {
		return ""
	}
	return ", most often because of " + reasonPhrase(c)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
