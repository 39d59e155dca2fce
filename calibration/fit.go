package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"gonum.org/v1/gonum/mat"
)

var ErrSingularFit = errors.New("cubic fit is singular")

// FitCubic returns the least squares cubic through the points.
//
// x is centred and scaled to [-1, 1] before building the Vandermonde matrix,
// raw battery voltages are too close together to fit directly.
func FitCubic(xs, ys []float64) (batterymodel.Cubic, error) {
	if len(xs) != len(ys) {
		return batterymodel.Cubic{}, fmt.Errorf("got %d x values and %d y values", len(xs), len(ys))
	}
	if len(xs) < 4 {
		return batterymodel.Cubic{}, fmt.Errorf("need at least 4 points for a cubic fit, got %d", len(xs))
	}

	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	scale := 0.0
	for _, x := range xs {
		scale = math.Max(scale, math.Abs(x-mean))
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return batterymodel.Cubic{}, ErrSingularFit
	}
	if distinct(xs) < 4 {
		return batterymodel.Cubic{}, fmt.Errorf("%w: need 4 distinct x values", ErrSingularFit)
	}

	// Columns are u^0..u^3.
	a := mat.NewDense(len(xs), 4, nil)
	for i, x := range xs {
		u := (x - mean) / scale
		a.SetRow(i, []float64{1, u, u * u, u * u * u})
	}
	var coef mat.VecDense
	if err := coef.SolveVec(a, mat.NewVecDense(len(ys), ys)); err != nil {
		return batterymodel.Cubic{}, fmt.Errorf("%w: %v", ErrSingularFit, err)
	}

	// Expand p(u) with u = k*(x - m) back into powers of x.
	k, m := 1/scale, mean
	a0, a1, a2, a3 := coef.AtVec(0), coef.AtVec(1)*k, coef.AtVec(2)*k*k, coef.AtVec(3)*k*k*k
	c := batterymodel.Cubic{
		P3: a3,
		P2: a2 - 3*m*a3,
		P1: a1 - 2*m*a2 + 3*m*m*a3,
		P0: a0 - m*a1 + m*m*a2 - m*m*m*a3,
	}
	for _, v := range []float64{c.P3, c.P2, c.P1, c.P0} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return batterymodel.Cubic{}, fmt.Errorf("%w: non-finite coefficient", ErrSingularFit)
		}
	}
	return c, nil
}

// distinct counts the different values in xs, stopping at 4.
func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, 4)
	for _, x := range xs {
		seen[x] = struct{}{}
		if len(seen) >= 4 {
			break
		}
	}
	return len(seen)
}
