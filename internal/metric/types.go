package metric

import (
	"errors"
	"fmt"
)

// #region scores
// Scores is the bounded triple produced by one harmonization pass.
// Kappa and Tau are better when higher; Sigma is a risk and worse when higher.
type Scores struct {
	Kappa float64 `json:"kappa"`
	Tau   float64 `json:"tau"`
	Sigma float64 `json:"sigma"`
}

// Valid reports whether all three scores lie in [0,1].
func (s Scores) Valid() bool {
	return inUnit(s.Kappa) && inUnit(s.Tau) && inUnit(s.Sigma)
}

// Map returns the scores keyed by name, in the form the audit ledger stores.
func (s Scores) Map() map[string]float64 {
	return map[string]float64{
		"kappa": s.Kappa,
		"tau":   s.Tau,
		"sigma": s.Sigma,
	}
}

// #endregion scores

// #region range-error
// ErrInputRange marks an input rejected by strict validation.
var ErrInputRange = errors.New("input out of range")

// RangeError describes a single rejected input.
type RangeError struct {
	Name  string
	Value float64
	Lo    float64
	Hi    float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s=%.6f outside [%g, %g]", e.Name, e.Value, e.Lo, e.Hi)
}

// Unwrap lets errors.Is match ErrInputRange.
func (e *RangeError) Unwrap() error {
	return ErrInputRange
}

// #endregion range-error
