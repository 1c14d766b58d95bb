package rules

import (
	"math"
	"slices"
	"strings"

	"github.com/liamcoop/rulecheck/rules/expr"
)

// Flags reported beside the risk score. They never change the score.
const (
	FlagHighValueHighRisk = "High-value transaction in high-risk country"
	FlagRoundAmount       = "Round-number transaction amount"
	flagOutlierPrefix     = "Statistical anomaly detected in "
)

// AnomalyOptions configure the annotations attached to each record's risk
// assessment. Zero fields take the defaults from DefaultAnomalyOptions.
type AnomalyOptions struct {
	// Disabled turns every annotation off.
	Disabled bool `yaml:"disabled"`

	AmountField  string `yaml:"amount_field"`
	CountryField string `yaml:"country_field"`

	// HighValue is the amount above which a transaction in one of
	// HighRiskCountries is flagged. Default: 5000
	HighValue         float64  `yaml:"high_value"`
	HighRiskCountries []string `yaml:"high_risk_countries"`

	// RoundUnit flags non-zero amounts that are an exact multiple of it.
	// Default: 1000
	RoundUnit float64 `yaml:"round_unit"`

	// OutlierFence is the interquartile range multiplier of the outlier
	// fences. Default: 1.5
	OutlierFence float64 `yaml:"outlier_fence"`

	// MinSamples is the fewest numbers a column needs before outliers are
	// looked for. Default: 4
	MinSamples int `yaml:"min_samples"`
}

// DefaultAnomalyOptions returns the built-in annotation settings.
func DefaultAnomalyOptions() AnomalyOptions {
	return AnomalyOptions{
		AmountField:       "Amount",
		CountryField:      "Country",
		HighValue:         5000,
		HighRiskCountries: []string{"DE", "US", "UK"},
		RoundUnit:         1000,
		OutlierFence:      1.5,
		MinSamples:        4,
	}
}

// WithDefaults fills every zero field of o.
func (o AnomalyOptions) WithDefaults() AnomalyOptions {
	d := DefaultAnomalyOptions()
	if o.AmountField == "" {
		o.AmountField = d.AmountField
	}
	if o.CountryField == "" {
		o.CountryField = d.CountryField
	}
	if o.HighValue == 0 {
		o.HighValue = d.HighValue
	}
	if o.HighRiskCountries == nil {
		o.HighRiskCountries = d.HighRiskCountries
	}
	if o.RoundUnit == 0 {
		o.RoundUnit = d.RoundUnit
	}
	if o.OutlierFence == 0 {
		o.OutlierFence = d.OutlierFence
	}
	if o.MinSamples == 0 {
		o.MinSamples = d.MinSamples
	}
	return o
}

// Annotate returns the flags of every record in set, in record order. The
// amount heuristics come first, then one flag per numeric column in which
// the record lies outside the interquartile fences, in field name order.
// Identifier fields are not treated as numeric columns. Every record gets a
// non-nil slice.
func Annotate(set *RecordSet, o AnomalyOptions) [][]string {
	flags := make([][]string, set.Len())
	for i := range flags {
		flags[i] = []string{}
	}
	if o.Disabled {
		return flags
	}

	for i := range flags {
		amount := set.Lookup(i, o.AmountField)
		if !amount.IsNumber() {
			continue
		}
		a := amount.Float()
		if a > o.HighValue && highRisk(set.Lookup(i, o.CountryField), o.HighRiskCountries) {
			flags[i] = append(flags[i], FlagHighValueHighRisk)
		}
		if a != 0 && math.Mod(a, o.RoundUnit) == 0 {
			flags[i] = append(flags[i], FlagRoundAmount)
		}
	}

	for _, field := range set.Fields() {
		if slices.Contains(set.idFields, field) {
			continue
		}
		lo, hi, ok := fences(set, field, o)
		if !ok {
			continue
		}
		for i := range flags {
			if v := set.Lookup(i, field); v.IsNumber() && (v.Float() < lo || v.Float() > hi) {
				flags[i] = append(flags[i], flagOutlierPrefix+field)
			}
		}
	}
	return flags
}

func highRisk(country expr.Value, list []string) bool {
	if country.Kind() != expr.KindString {
		return false
	}
	c := strings.ToUpper(strings.TrimSpace(country.Text()))
	return slices.Contains(list, c)
}

// fences returns the outlier bounds of field. A column qualifies when every
// present value is a number and there are at least MinSamples of them.
func fences(set *RecordSet, field string, o AnomalyOptions) (lo, hi float64, ok bool) {
	var xs []float64
	for i := 0; i < set.Len(); i++ {
		v := set.Lookup(i, field)
		switch {
		case v.IsNone():
		case v.IsNumber():
			xs = append(xs, v.Float())
		default:
			return 0, 0, false
		}
	}
	if len(xs) < o.MinSamples || len(xs) == 0 {
		return 0, 0, false
	}
	slices.Sort(xs)
	q1, q3 := quantile(xs, 0.25), quantile(xs, 0.75)
	spread := o.OutlierFence * (q3 - q1)
	return q1 - spread, q3 + spread, true
}

// quantile interpolates linearly between the closest ranks of sorted xs.
func quantile(xs []float64, q float64) float64 {
	pos := q * float64(len(xs)-1)
	i := int(pos)
	if i+1 >= len(xs) {
		return xs[len(xs)-1]
	}
	return xs[i] + (pos-float64(i))*(xs[i+1]-xs[i])
}
