// Package risk derives a categorized, probabilistic financial risk
// assessment from a learned behavior profile and a user's recent events.
//
// Each of the four categories (goal slippage, income volatility, overspend
// pattern, low-confidence data) gets a probability and a severity in [0, 1].
// Risks are ranked by expected impact, probability times severity.
package risk

import (
	"time"
)

// Category identifies a kind of financial risk.
type Category string

// Categories in enum order. Order breaks ranking ties.
const (
	CategoryGoalSlippage      Category = "goal_slippage"
	CategoryIncomeVolatility  Category = "income_volatility"
	CategoryOverspendPattern  Category = "overspend_pattern"
	CategoryLowConfidenceData Category = "low_confidence_data"
)

// AllCategories lists every category in enum order.
var AllCategories = []Category{
	CategoryGoalSlippage,
	CategoryIncomeVolatility,
	CategoryOverspendPattern,
	CategoryLowConfidenceData,
}

// Order returns the enum position of c; unknown categories sort last.
func (c Category) Order() int {
	for i, cat := range AllCategories {
		if cat == c {
			return i
		}
	}
	return len(AllCategories)
}

// Defaults for the assessor.
const (
	DefaultWindow                = 180 * 24 * time.Hour
	DefaultMinProbability        = 0.05
	DefaultMinVolatilitySamples  = 3
	DefaultUnknownSeverity       = 0.5
	DefaultLowConfidenceSeverity = 0.2
)

// Risk is one categorized risk.
type Risk struct {
	Category       Category  `json:"category"`
	Probability    float64   `json:"probability"`
	Severity       float64   `json:"severity"`
	EvidenceCount  int       `json:"evidenceCount"`
	LatestEvidence time.Time `json:"latestEvidence"`
}

// Score is the expected impact used for ranking.
func (r Risk) Score() float64 {
	return r.Probability * r.Severity
}

// Assessment is a point-in-time risk assessment for one user.
type Assessment struct {
	UserID       string    `json:"userId"`
	LastAssessed time.Time `json:"lastAssessed"`
	Risks        []Risk    `json:"risks"`
}

// Find returns the risk of category c, if present.
func (a *Assessment) Find(c Category) (Risk, bool) {
	if a == nil {
		return Risk{}, false
	}
	for _, r := range a.Risks {
		if r.Category == c {
			return r, true
		}
	}
	return Risk{}, false
}
