package metric

import "math"

// #region validator
// Validator decides what happens to out-of-range caller input. In the default
// lenient mode values are clamped silently; in strict mode they are rejected
// with a *RangeError.
type Validator struct {
	Strict bool
}

// CheckUnit validates a value that must lie in [0,1].
func (v Validator) CheckUnit(name string, x float64) (float64, error) {
	return v.check(name, x, 0, 1)
}

// CheckHorizon validates a planning horizon in years.
func (v Validator) CheckHorizon(x float64) (float64, error) {
	return v.check("horizon_years", x, 0, MaxHorizonYears)
}

func (v Validator) check(name string, x, lo, hi float64) (float64, error) {
	if math.IsNaN(x) || x < lo || x > hi {
		if v.Strict {
			return 0, &RangeError{Name: name, Value: x, Lo: lo, Hi: hi}
		}
		return Clamp(x, lo, hi), nil
	}
	return x, nil
}

// #endregion validator
