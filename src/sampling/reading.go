// Package sampling holds the wall-clock aligned sampling core: boundary
// classification, the per-channel sample window and window averaging.
package sampling

import (
	"fmt"
	"math"
)

// Reading is a single channel value. An invalid reading carries no value and
// is never treated as zero.
type Reading struct {
	value float64
	valid bool
}

// Valid wraps a measured value. NaN and infinities are not values.
func Valid(v float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Invalid()
	}
	return Reading{value: v, valid: true}
}

// Invalid returns the invalid marker.
func Invalid() Reading {
	return Reading{}
}

// IsValid reports whether the reading holds a value
func (r Reading) IsValid() bool {
	return r.valid
}

// Value returns the value and whether it is valid
func (r Reading) Value() (float64, bool) {
	return r.value, r.valid
}

// Float returns the value, or NaN for an invalid reading
func (r Reading) Float() float64 {
	if !r.valid {
		return math.NaN()
	}
	return r.value
}

func (r Reading) String() string {
	if !r.valid {
		return "invalid"
	}
	return fmt.Sprintf("%.2f", r.value)
}
