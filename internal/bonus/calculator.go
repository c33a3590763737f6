package bonus

import (
	"time"

	"github.com/meridian-crm/meridian/internal/shared"
)

// SelectRule picks the applicable rule for an amount on a date. Among the
// rules that match, the lowest priority number wins (lower = higher
// precedence); ties break toward the most recent effectiveFrom. The result is
// independent of the order rules are supplied in. Nil when nothing matches —
// no bonus is not an error.
func SelectRule(rules []Rule, amount float64, paymentDate time.Time, kind Kind) *Rule {
	var selected *Rule
	for i := range rules {
		r := &rules[i]
		if !ruleMatches(*r, amount, paymentDate, kind) {
			continue
		}
		if selected == nil ||
			r.Priority < selected.Priority ||
			(r.Priority == selected.Priority && r.EffectiveFrom.After(selected.EffectiveFrom)) {
			selected = r
		}
	}
	if selected == nil {
		return nil
	}
	out := *selected
	return &out
}

func ruleMatches(r Rule, amount float64, paymentDate time.Time, kind Kind) bool {
	if !r.IsActive {
		return false
	}
	if paymentDate.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && paymentDate.After(*r.EffectiveTo) {
		return false
	}
	min := 0.0
	if r.MinAmount != nil {
		min = *r.MinAmount
	}
	if amount < min {
		return false
	}
	if r.MaxAmount != nil && amount > *r.MaxAmount {
		return false
	}
	return r.PaymentType == kind || r.PaymentType == KindBoth
}

// CalculateBonus computes the commission amount for a rule.
func CalculateBonus(r Rule, amount float64) float64 {
	return shared.Round2(amount * r.Percentage / 100)
}

// Evaluate runs selection and calculation in one step.
func Evaluate(rules []Rule, amount float64, paymentDate time.Time, kind Kind) *Evaluation {
	rule := SelectRule(rules, amount, paymentDate, kind)
	if rule == nil {
		return nil
	}
	return &Evaluation{
		RuleID:     rule.ID,
		Percentage: rule.Percentage,
		Amount:     CalculateBonus(*rule, amount),
	}
}
