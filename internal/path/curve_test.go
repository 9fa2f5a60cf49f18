package path

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func vecNear(t *testing.T, want, got r3.Vec, tol float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, "x")
	assert.InDelta(t, want.Y, got.Y, tol, "y")
	assert.InDelta(t, want.Z, got.Z, tol, "z")
}

func TestNewRejectsDegeneratePaths(t *testing.T) {
	for name, pts := range map[string][]r3.Vec{
		"empty":        nil,
		"single point": {{X: 1}},
		"repeated":     {{X: 1}, {X: 1}},
	} {
		_, err := New(pts, false)
		assert.ErrorIs(t, err, ErrDegeneratePath, name)
	}
	_, err := New([]r3.Vec{{}, {X: 1}}, true)
	assert.ErrorIs(t, err, ErrDegeneratePath, "closed two-point loop")
}

func TestStraightPath(t *testing.T) {
	c, err := New([]r3.Vec{{X: 2.8, Y: -70, Z: 0.2}, {X: 2.8, Y: 70, Z: 0.2}}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Segments())
	assert.InDelta(t, 140, c.Length(), 1e-9)

	p := c.Project(r3.Vec{X: 0, Y: 0, Z: 0.5})
	vecNear(t, r3.Vec{X: 2.8, Y: 0, Z: 0.2}, p.Point, 1e-9)
	vecNear(t, r3.Vec{Y: 1}, p.Tangent, 1e-12)
	assert.InDelta(t, 70, p.S, 1e-9)
	assert.InDelta(t, 2.8, p.Lateral, 1e-9, "west of a northbound path is left")
	assert.InDelta(t, 2.8, p.Distance, 1e-9)

	right := c.Project(r3.Vec{X: 4, Y: 10})
	assert.InDelta(t, -1.2, right.Lateral, 1e-9)

	before := c.Project(r3.Vec{X: 2.8, Y: -100})
	assert.Equal(t, 0.0, before.T)
	assert.Equal(t, 0.0, before.S)
}

func TestCurveIsC2AtInteriorKnots(t *testing.T) {
	knots := []r3.Vec{{}, {X: 10, Y: 5}, {X: 20, Y: 0, Z: 1}, {X: 30, Y: 5}, {X: 45, Y: -3}}
	c, err := New(knots, false)
	require.NoError(t, err)
	require.Equal(t, 4, c.Segments())

	for i, k := range knots[:len(knots)-1] {
		vecNear(t, k, c.Eval(i, 0), 1e-9)
	}
	vecNear(t, knots[len(knots)-1], c.Eval(3, 1), 1e-9)

	for i := 0; i < c.Segments()-1; i++ {
		vecNear(t, c.Derivative(i, 1), c.Derivative(i+1, 0), 1e-9)
		vecNear(t, c.secondDerivative(i, 1), c.secondDerivative(i+1, 0), 1e-9)
	}
	// Natural end conditions.
	vecNear(t, r3.Vec{}, c.secondDerivative(0, 0), 1e-9)
	vecNear(t, r3.Vec{}, c.secondDerivative(3, 1), 1e-9)
}

func TestProjectFindsClosestSegment(t *testing.T) {
	c, err := New([]r3.Vec{{}, {X: 50}, {X: 50, Y: 50}, {Y: 50}}, false)
	require.NoError(t, err)

	for _, seg := range []int{0, 1, 2} {
		for _, tt := range []float64{0.2, 0.5, 0.8} {
			on := c.Eval(seg, tt)
			p := c.Project(on)
			assert.InDelta(t, 0, p.Distance, 1e-6)
			assert.InDelta(t, c.ArcLength(seg, tt), p.S, 1e-6)
		}
	}
}

func TestClosedCurve(t *testing.T) {
	c, err := New([]r3.Vec{{}, {X: 20}, {X: 20, Y: 20}, {Y: 20}}, true)
	require.NoError(t, err)
	assert.True(t, c.Closed())
	assert.Equal(t, 4, c.Segments())
	assert.Len(t, c.Points(), 4)
	vecNear(t, r3.Vec{}, c.Eval(3, 1), 1e-12)

	L := c.Length()
	assert.Greater(t, L, 60.0)
	assert.InDelta(t, 2, c.Ahead(L-1, 1), 1e-9)
	assert.InDelta(t, 5, c.Ahead(10, 15), 1e-9)
	assert.InDelta(t, L-5, c.Ahead(15, 10), 1e-9)
}

func TestAheadOpenCurve(t *testing.T) {
	c := MustNew([]r3.Vec{{}, {X: 100}}, false)
	assert.Equal(t, 30.0, c.Ahead(10, 40))
	assert.Equal(t, -30.0, c.Ahead(40, 10))
}

func TestArcLengthMatchesPolyline(t *testing.T) {
	// A gentle arc: the curve is slightly longer than its chord polyline.
	var pts []r3.Vec
	for i := 0; i <= 8; i++ {
		a := float64(i) * math.Pi / 16
		pts = append(pts, r3.Vec{X: 100 * math.Cos(a), Y: 100 * math.Sin(a)})
	}
	c := MustNew(pts, false)
	var chords float64
	for i := 1; i < len(pts); i++ {
		chords += r3.Norm(r3.Sub(pts[i], pts[i-1]))
	}
	assert.GreaterOrEqual(t, c.Length(), chords)
	assert.InDelta(t, 100*math.Pi/2, c.Length(), 0.5)
}
