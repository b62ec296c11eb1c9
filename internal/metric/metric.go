// Package metric holds the three bounded scoring formulas: alignment (kappa),
// temporal responsibility (tau) and systemic drift (sigma). Every function is
// pure and clamps both its inputs and its result to the declared domain.
package metric

import "math"

// #region constants
const (
	// Epsilon guards the harmonic mean against division by zero.
	Epsilon = 1e-9

	// MaxHorizonYears caps the planning horizon fed to Responsibility.
	MaxHorizonYears = 50.0

	horizonScale = 8.0
)

// #endregion constants

// #region alignment
// Alignment returns kappa, the harmonic mean of signal quality, reciprocity
// and circularity. Any single weak input drags the aggregate toward zero.
func Alignment(signalQuality, reciprocity, circularity float64) float64 {
	s := Unit(signalQuality)
	r := Unit(reciprocity)
	c := Unit(circularity)

	denom := Epsilon + 1/math.Max(s, Epsilon) + 1/math.Max(r, Epsilon) + 1/math.Max(c, Epsilon)
	return Unit(3 / denom)
}

// #endregion alignment

// #region responsibility
// Responsibility returns tau. Kept commitments weigh 0.6; the horizon term
// saturates exponentially and weighs 0.4.
func Responsibility(horizonYears, obligationsMetRatio float64) float64 {
	h := Clamp(horizonYears, 0, MaxHorizonYears)
	o := Unit(obligationsMetRatio)

	horizonTerm := 1 - math.Exp(-h/horizonScale)
	return Unit(0.6*o + 0.4*horizonTerm)
}

// #endregion responsibility

// #region drift
// Drift returns sigma, a weighted risk aggregate. Higher is worse.
func Drift(instability, opacity, externalityUnpriced float64) float64 {
	i := Unit(instability)
	o := Unit(opacity)
	e := Unit(externalityUnpriced)

	return Unit(0.5*i + 0.3*o + 0.2*e)
}

// #endregion drift

// #region helpers
// Clamp bounds x to [lo, hi]. NaN collapses to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Unit clamps x to [0,1].
func Unit(x float64) float64 {
	return Clamp(x, 0, 1)
}

func inUnit(x float64) bool {
	return x >= 0 && x <= 1
}

// #endregion helpers
