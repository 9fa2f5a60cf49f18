package vehicle

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ErrInvalidTable is returned for lookup tables that cannot be interpolated.
var ErrInvalidTable = errors.New("vehicle: invalid lookup table")

// Table is an immutable piecewise-linear lookup table. Queries outside the
// sampled range return the nearest end value.
type Table struct {
	pl interp.PiecewiseLinear
	xs []float64
	ys []float64
}

// NewTable validates the samples and fits the interpolator.
func NewTable(xs, ys []float64) (*Table, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d x values but %d y values", ErrInvalidTable, len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInvalidTable, len(xs))
	}
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			return nil, fmt.Errorf("%w: non-finite sample at index %d", ErrInvalidTable, i)
		}
		if i > 0 && xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("%w: x values must be strictly increasing (index %d)", ErrInvalidTable, i)
		}
	}
	t := &Table{
		xs: append([]float64(nil), xs...),
		ys: append([]float64(nil), ys...),
	}
	// Fit only panics on the conditions checked above.
	_ = t.pl.Fit(t.xs, t.ys)
	return t, nil
}

// MustTable is NewTable for package-level presets; it panics on bad input.
func MustTable(xs, ys []float64) *Table {
	t, err := NewTable(xs, ys)
	if err != nil {
		panic(err)
	}
	return t
}

// At evaluates the table at x.
func (t *Table) At(x float64) float64 {
	return t.pl.Predict(x)
}

// Domain returns the first and last sampled x.
func (t *Table) Domain() (float64, float64) {
	return t.xs[0], t.xs[len(t.xs)-1]
}
