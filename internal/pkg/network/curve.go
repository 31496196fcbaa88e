package network

import (
	"errors"
	"sort"
)

// XYCurve is a piecewise-linear curve through a set of control points.
type XYCurve struct {
	X []float64 `json:"X"`
	Y []float64 `json:"Y"`
}

// PVTemperatureCurve derates PV output with panel temperature (°C -> factor).
var PVTemperatureCurve = XYCurve{
	X: []float64{-10, 25, 50, 75},
	Y: []float64{1.20, 1.00, 0.80, 0.60},
}

// NewXYCurve validates and returns a curve with its points sorted by x.
func NewXYCurve(x, y []float64) (XYCurve, error) {
	if len(x) != len(y) || len(x) == 0 {
		return XYCurve{}, errors.New("xycurve: x and y must be non-empty and equal length")
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	c := XYCurve{X: make([]float64, len(x)), Y: make([]float64, len(y))}
	for i, j := range idx {
		c.X[i] = x[j]
		c.Y[i] = y[j]
	}
	return c, nil
}

// At interpolates the curve at x. Outside the control points the end value holds.
func (c XYCurve) At(x float64) float64 {
	n := len(c.X)
	if n == 0 {
		return 0
	}
	if x <= c.X[0] {
		return c.Y[0]
	}
	if x >= c.X[n-1] {
		return c.Y[n-1]
	}
	i := sort.SearchFloat64s(c.X, x)
	if c.X[i] == x {
		return c.Y[i]
	}
	x0, x1 := c.X[i-1], c.X[i]
	y0, y1 := c.Y[i-1], c.Y[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
