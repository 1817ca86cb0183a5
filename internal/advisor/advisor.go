// Package advisor turns a behavior analysis and a risk assessment into a
// short, ranked list of actionable recommendations. Recommendations are
// derived on demand and never stored as ground truth.
package advisor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
)

// Category is what a recommendation addresses.
type Category string

// Categories in enum order.
const (
	CategoryGoalSlippage      Category = "goal_slippage"
	CategoryIncomeVolatility  Category = "income_volatility"
	CategoryOverspendPattern  Category = "overspend_pattern"
	CategoryLowConfidenceData Category = "low_confidence_data"
	CategorySavingsHabit      Category = "savings_habit"
	CategoryKeepTracking      Category = "keep_tracking"
)

var categoryOrder = []Category{
	CategoryGoalSlippage,
	CategoryIncomeVolatility,
	CategoryOverspendPattern,
	CategoryLowConfidenceData,
	CategorySavingsHabit,
	CategoryKeepTracking,
}

// Order returns the enum position of c; unknown categories sort last.
func (c Category) Order() int {
	for i, cat := range categoryOrder {
		if cat == c {
			return i
		}
	}
	return len(categoryOrder)
}

// ActionKind names the concrete step a recommendation suggests.
type ActionKind string

const (
	ActionExtendTimeline       ActionKind = "extend_goal_timeline"
	ActionBuildBuffer          ActionKind = "build_buffer"
	ActionLimitSpending        ActionKind = "limit_spending"
	ActionLogMoreData          ActionKind = "log_more_data"
	ActionIncreaseContribution ActionKind = "increase_contribution"
	ActionAutomateTransfer     ActionKind = "automate_transfer"
	ActionKeepTracking         ActionKind = "keep_tracking"
)

// SuggestedAction is the concrete step attached to a recommendation.
type SuggestedAction struct {
	Kind     ActionKind              `json:"kind"`
	Category behavior.ReasonCategory `json:"category,omitempty"`
	Percent  *int                    `json:"percent,omitempty"`
	Months   *int                    `json:"months,omitempty"`
	Amount   *decimal.Decimal        `json:"amount,omitempty"`
}

// Recommendation is one ranked, actionable suggestion.
type Recommendation struct {
	UserID          string          `json:"userId"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	Category        Category        `json:"category"`
	Message         string          `json:"message"`
	SuggestedAction SuggestedAction `json:"suggestedAction"`
	Confidence      float64         `json:"confidence"`
	Rank            int             `json:"rank"`
}

// Defaults for the generator.
const (
	DefaultMinSeverity = 0.3
	DefaultMaxResults  = 5
)

func intPtr(v int) *int {
	return &v
}
