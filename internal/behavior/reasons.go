package behavior

import (
	"strings"
	"unicode"
)

// ReasonCategory is a normalized bucket for free-text under-saving reasons.
type ReasonCategory string

// Categories in their fixed enum order. Order breaks ties in rankings and
// decides which rule wins when a reason matches several.
const (
	ReasonUnexpectedBills ReasonCategory = "unexpected_bills"
	ReasonMedical         ReasonCategory = "medical"
	ReasonIncomeDrop      ReasonCategory = "income_drop"
	ReasonOverspending    ReasonCategory = "overspending"
	ReasonLifestyle       ReasonCategory = "lifestyle"
	ReasonDebt            ReasonCategory = "debt"
	ReasonFamily          ReasonCategory = "family"
	ReasonEmergency       ReasonCategory = "emergency"
	ReasonOther           ReasonCategory = "other"
)

// AllReasons lists every category in enum order.
var AllReasons = []ReasonCategory{
	ReasonUnexpectedBills,
	ReasonMedical,
	ReasonIncomeDrop,
	ReasonOverspending,
	ReasonLifestyle,
	ReasonDebt,
	ReasonFamily,
	ReasonEmergency,
	ReasonOther,
}

// Order returns the enum position of c; unknown categories sort last.
func (c ReasonCategory) Order() int {
	for i, r := range AllReasons {
		if r == c {
			return i
		}
	}
	return len(AllReasons)
}

// SpendingRelated reports whether the reason is discretionary spending.
func (c ReasonCategory) SpendingRelated() bool {
	return c == ReasonOverspending || c == ReasonLifestyle
}

type reasonRule struct {
	category ReasonCategory
	keywords []string
}

// reasonRules are evaluated in order; the first rule with a matching whole
// word or phrase wins.
var reasonRules = []reasonRule{
	{ReasonUnexpectedBills, []string{
		"bill", "bills", "unexpected", "utility", "utilities", "electricity", "water bill",
		"rent increase", "repair", "repairs", "fee", "fees", "insurance", "tax", "taxes",
	}},
	{ReasonMedical, []string{
		"medical", "doctor", "hospital", "health", "dental", "dentist", "pharmacy",
		"medicine", "prescription", "therapy", "vet",
	}},
	{ReasonIncomeDrop, []string{
		"income", "salary", "pay cut", "paycut", "fewer hours", "hours cut", "job",
		"laid off", "layoff", "unemployed", "unemployment", "paycheck", "late pay", "bonus",
		"commission", "freelance",
	}},
	{ReasonOverspending, []string{
		"overspent", "overspend", "overspending", "impulse", "shopping", "splurge",
		"spent too much", "online order", "amazon", "clothes", "sale",
	}},
	{ReasonLifestyle, []string{
		"dining", "restaurant", "restaurants", "eating out", "takeout", "takeaway",
		"entertainment", "concert", "party", "holiday", "vacation", "travel", "trip",
		"subscription", "subscriptions", "gift", "gifts", "christmas", "birthday",
	}},
	{ReasonDebt, []string{
		"debt", "loan", "credit card", "interest", "repayment", "mortgage", "overdraft",
	}},
	{ReasonFamily, []string{
		"family", "child", "children", "kids", "kid", "school", "tuition", "wedding",
		"parents", "partner", "baby", "childcare",
	}},
	{ReasonEmergency, []string{
		"emergency", "accident", "car", "breakdown", "stolen", "theft", "flood", "fire",
	}},
}

// NormalizeReason lowercases s, turns punctuation into spaces and collapses
// whitespace. The result is what category matching operates on.
func NormalizeReason(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// Categorize buckets a reported reason. The free-text reason is tried first,
// then the additional notes; anything unmatched (or empty after
// normalization) lands in ReasonOther.
func Categorize(reason, notes string) ReasonCategory {
	for _, text := range []string{reason, notes} {
		norm := NormalizeReason(text)
		if norm == "" {
			continue
		}
		padded := " " + norm + " "
		for _, rule := range reasonRules {
			for _, kw := range rule.keywords {
				if strings.Contains(padded, " "+kw+" ") {
					return rule.category
				}
			}
		}
	}
	return ReasonOther
}
