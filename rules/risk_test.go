package rules

import (
	"slices"
	"testing"

	"github.com/liamcoop/rulecheck/rules/expr"
)

func outcome(ruleIndex int, desc string, result expr.Ternary) EvaluationOutcome {
	return EvaluationOutcome{RuleIndex: ruleIndex, Description: desc, Result: result}
}

func TestScore(t *testing.T) {
	testCases := []struct {
		name        string
		outcomes    []EvaluationOutcome
		wantScore   float64
		wantReasons []string
	}{
		{
			name:        "no outcomes",
			wantReasons: []string{InsufficientRules},
		},
		{
			name:        "only indeterminate",
			outcomes:    []EvaluationOutcome{outcome(0, "a", expr.Indeterminate)},
			wantReasons: []string{InsufficientRules},
		},
		{
			name:        "all pass",
			outcomes:    []EvaluationOutcome{outcome(0, "a", expr.Pass), outcome(1, "b", expr.Pass)},
			wantReasons: []string{},
		},
		{
			name: "two of four fail",
			outcomes: []EvaluationOutcome{
				outcome(3, "d", expr.Fail),
				outcome(0, "a", expr.Pass),
				outcome(2, "c", expr.Pass),
				outcome(1, "b", expr.Fail),
				outcome(4, "e", expr.Indeterminate),
			},
			wantScore:   0.5,
			wantReasons: []string{"b", "d"},
		},
		{
			name:        "all fail",
			outcomes:    []EvaluationOutcome{outcome(0, "a", expr.Fail)},
			wantScore:   1,
			wantReasons: []string{"a"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ra := Score(7, "1007", tc.outcomes)
			if ra.RecordIndex != 7 || ra.RecordID != "1007" {
				t.Errorf("record = %d/%q", ra.RecordIndex, ra.RecordID)
			}
			if ra.Score != tc.wantScore {
				t.Errorf("Score = %v, want %v", ra.Score, tc.wantScore)
			}
			if !slices.Equal(ra.Reasons, tc.wantReasons) {
				t.Errorf("Reasons = %v, want %v", ra.Reasons, tc.wantReasons)
			}
			if ra.Score < 0 || ra.Score > 1 {
				t.Errorf("Score %v out of [0,1]", ra.Score)
			}
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	results := []expr.Ternary{expr.Pass, expr.Pass, expr.Indeterminate, expr.Pass, expr.Pass}
	prev := -1.0
	for i := range results {
		outcomes := make([]EvaluationOutcome, len(results))
		for j, r := range results {
			outcomes[j] = outcome(j, "rule", r)
		}
		score := Score(0, "r", outcomes).Score
		if score < prev {
			t.Fatalf("score decreased from %v to %v after adding a failure", prev, score)
		}
		prev = score
		results[i] = expr.Fail
	}
}

func TestBand(t *testing.T) {
	testCases := []struct {
		score float64
		want  string
	}{
		{0, "low"},
		{0.5, "low"},
		{0.51, "medium"},
		{0.8, "medium"},
		{0.81, "high"},
		{1, "high"},
	}
	for _, tc := range testCases {
		if got := Band(tc.score); got != tc.want {
			t.Errorf("Band(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}
