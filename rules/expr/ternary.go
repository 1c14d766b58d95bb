package expr

import "fmt"

// Ternary is the three-valued outcome of evaluating a predicate.
// Indeterminate is the zero value: a result that was never decided is never a pass.
type Ternary uint8

const (
	Indeterminate Ternary = iota
	Pass
	Fail
)

func (t Ternary) String() string {
	switch t {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "indeterminate"
	}
}

// MarshalText encodes the result as "pass", "fail" or "indeterminate".
func (t Ternary) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the strings produced by MarshalText.
func (t *Ternary) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pass":
		*t = Pass
	case "fail":
		*t = Fail
	case "indeterminate":
		*t = Indeterminate
	default:
		return fmt.Errorf("unknown result %q", string(b))
	}
	return nil
}

// Not swaps pass and fail. Indeterminate stays indeterminate.
func (t Ternary) Not() Ternary {
	switch t {
	case Pass:
		return Fail
	case Fail:
		return Pass
	default:
		return Indeterminate
	}
}

// And combines two results with Kleene conjunction.
func And(a, b Ternary) Ternary {
	if a == Fail || b == Fail {
		return Fail
	}
	if a == Pass && b == Pass {
		return Pass
	}
	return Indeterminate
}

// Or combines two results with Kleene disjunction.
func Or(a, b Ternary) Ternary {
	if a == Pass || b == Pass {
		return Pass
	}
	if a == Fail && b == Fail {
		return Fail
	}
	return Indeterminate
}

// Result is the outcome of one evaluation. Explanation is always set for
// Indeterminate results and may be set for Fail.
type Result struct {
	Ternary     Ternary
	Explanation string
}
