package rules

import (
	"cmp"
	"slices"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// InsufficientRules is the reason given for a record no rule could decide.
const InsufficientRules = "insufficient rules"

// Display bands for risk scores. They are a presentation convention; the
// engine reports the raw score.
const (
	HighRiskThreshold   = 0.8
	MediumRiskThreshold = 0.5
)

// Score aggregates the outcomes of one record: the fraction of decided
// outcomes that failed. Indeterminate outcomes count in neither the
// numerator nor the denominator. Reasons are the descriptions of failing
// rules in rule order.
func Score(recordIndex int, recordID string, outcomes []EvaluationOutcome) RiskAssessment {
	ordered := slices.SortedStableFunc(slices.Values(outcomes), func(a, b EvaluationOutcome) int {
		return cmp.Compare(a.RuleIndex, b.RuleIndex)
	})

	ra := RiskAssessment{RecordIndex: recordIndex, RecordID: recordID, Reasons: []string{}, Flags: []string{}}
	for _, o := range ordered {
		switch o.Result {
		case expr.Fail:
			ra.Failed++
			ra.Evaluated++
			ra.Reasons = append(ra.Reasons, o.Description)
		case expr.Pass:
			ra.Evaluated++
		}
	}
	if ra.Evaluated == 0 {
		ra.Reasons = []string{InsufficientRules}
		return ra
	}
	ra.Score = min(max(float64(ra.Failed)/float64(ra.Evaluated), 0), 1)
	return ra
}

// Band names the display band of a score: high, medium or low.
func Band(score float64) string {
	switch {
	case score > HighRiskThreshold:
		return "high"
	case score > MediumRiskThreshold:
		return "medium"
	default:
		return "low"
	}
}
