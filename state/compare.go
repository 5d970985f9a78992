package state

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/polysim/polysim/schema"
)

// Tolerance is the floating-point comparison policy used for change
// detection. Two floats are considered equal when they match within the
// absolute or the relative bound; two NaNs always match, so undefined
// never reads as a change against undefined.
type Tolerance struct {
	RTol float64
	ATol float64
}

// DefaultTolerance mirrors the comparison bounds models are written
// against.
var DefaultTolerance = Tolerance{RTol: 1e-5, ATol: 1e-8}

// orDefault substitutes the package default for a zero tolerance so that an
// unset config never degrades to exact float comparison.
func (t Tolerance) orDefault() Tolerance {
	if t == (Tolerance{}) {
		return DefaultTolerance
	}
	return t
}

// equalWithin compares one element under the tolerance policy. Floats get
// the rtol/atol treatment, every other element type compares exactly.
func equalWithin[T schema.Element](tol Tolerance, a, b T) bool {
	switch x := any(a).(type) {
	case float64:
		y := any(b).(float64)
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.IsNaN(x) && math.IsNaN(y)
		}
		return scalar.EqualWithinAbsOrRel(x, y, tol.ATol, tol.RTol)
	default:
		return a == b
	}
}

// sliceEqualWithin compares two element sequences; differing lengths never
// compare equal.
func sliceEqualWithin[T schema.Element](tol Tolerance, a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalWithin(tol, a[i], b[i]) {
			return false
		}
	}
	return true
}

// sliceContains reports whether v occurs anywhere in values under the
// tolerance policy.
func sliceContains[T schema.Element](tol Tolerance, values []T, v T) bool {
	for _, e := range values {
		if equalWithin(tol, e, v) {
			return true
		}
	}
	return false
}
