// Package path holds the reference curves the driver steers along: a C2
// piecewise cubic Bezier through 3-D knot points, with planar projection and
// arc-length queries.
package path

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegeneratePath is returned for curves that cannot define a direction.
var ErrDegeneratePath = errors.New("path: degenerate path")

const (
	// samplesPerSegment seeds the closest-point search.
	samplesPerSegment = 16
	newtonIterations  = 8
	// legendreNodes is the Gauss-Legendre order for arc length.
	legendreNodes = 16
)

// Curve is an immutable piecewise cubic Bezier curve passing through its
// knots, twice continuously differentiable at interior knots. Closed curves
// return to the first knot.
type Curve struct {
	knots   []r3.Vec
	closed  bool
	ctrl    [][4]r3.Vec
	lengths []float64
	starts  []float64
	length  float64
}

// New builds a curve through points. It fails with ErrDegeneratePath when
// fewer than two distinct points are given.
func New(points []r3.Vec, closed bool) (*Curve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrDegeneratePath, len(points))
	}
	knots := append([]r3.Vec(nil), points...)
	for i := 1; i < len(knots); i++ {
		if knots[i] == knots[i-1] {
			return nil, fmt.Errorf("%w: point %d repeats point %d", ErrDegeneratePath, i, i-1)
		}
	}
	if closed && knots[len(knots)-1] != knots[0] {
		knots = append(knots, knots[0])
	}
	if closed && len(knots) < 4 {
		return nil, fmt.Errorf("%w: closed path needs at least 3 distinct points", ErrDegeneratePath)
	}

	ctrl, err := controlPoints(knots)
	if err != nil {
		return nil, err
	}
	c := &Curve{
		knots:   append([]r3.Vec(nil), points...),
		closed:  closed,
		ctrl:    ctrl,
		lengths: make([]float64, len(ctrl)),
		starts:  make([]float64, len(ctrl)),
	}
	for i := range ctrl {
		c.starts[i] = c.length
		c.lengths[i] = c.segmentLength(i, 1)
		c.length += c.lengths[i]
	}
	return c, nil
}

// MustNew is New for fixed scenario geometry; it panics on error.
func MustNew(points []r3.Vec, closed bool) *Curve {
	c, err := New(points, closed)
	if err != nil {
		panic(err)
	}
	return c
}

// controlPoints solves for the inner Bezier control points that make the
// curve C2 at every interior knot, with natural end conditions.
func controlPoints(k []r3.Vec) ([][4]r3.Vec, error) {
	n := len(k) - 1
	ctrl := make([][4]r3.Vec, n)
	if n == 1 {
		p1 := r3.Scale(1.0/3, r3.Add(r3.Scale(2, k[0]), k[1]))
		ctrl[0] = [4]r3.Vec{k[0], p1, r3.Sub(r3.Scale(2, p1), k[0]), k[1]}
		return ctrl, nil
	}

	dl := make([]float64, n-1)
	d := make([]float64, n)
	du := make([]float64, n-1)
	rhs := mat.NewDense(n, 3, nil)
	setRow := func(i int, v r3.Vec) { rhs.SetRow(i, []float64{v.X, v.Y, v.Z}) }

	d[0], du[0] = 2, 1
	setRow(0, r3.Add(k[0], r3.Scale(2, k[1])))
	for i := 1; i < n-1; i++ {
		dl[i-1], d[i], du[i] = 1, 4, 1
		setRow(i, r3.Add(r3.Scale(4, k[i]), r3.Scale(2, k[i+1])))
	}
	dl[n-2], d[n-1] = 2, 7
	setRow(n-1, r3.Add(r3.Scale(8, k[n-1]), k[n]))

	var sol mat.Dense
	if err := mat.NewTridiag(n, dl, d, du).SolveTo(&sol, false, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegeneratePath, err)
	}
	p1 := make([]r3.Vec, n)
	for i := range p1 {
		p1[i] = r3.Vec{X: sol.At(i, 0), Y: sol.At(i, 1), Z: sol.At(i, 2)}
	}
	for i := 0; i < n; i++ {
		var p2 r3.Vec
		if i < n-1 {
			p2 = r3.Sub(r3.Scale(2, k[i+1]), p1[i+1])
		} else {
			p2 = r3.Scale(0.5, r3.Add(k[n], p1[n-1]))
		}
		ctrl[i] = [4]r3.Vec{k[i], p1[i], p2, k[i+1]}
	}
	return ctrl, nil
}

// Points returns a copy of the knots the curve was built from.
func (c *Curve) Points() []r3.Vec { return append([]r3.Vec(nil), c.knots...) }

// Closed reports whether the curve loops back to its first knot.
func (c *Curve) Closed() bool { return c.closed }

// Segments is the number of cubic segments.
func (c *Curve) Segments() int { return len(c.ctrl) }

// Length is the total arc length.
func (c *Curve) Length() float64 { return c.length }

// Eval returns the point at parameter t in [0, 1] of segment seg.
func (c *Curve) Eval(seg int, t float64) r3.Vec {
	p := &c.ctrl[seg]
	u := 1 - t
	return r3.Add(
		r3.Add(r3.Scale(u*u*u, p[0]), r3.Scale(3*u*u*t, p[1])),
		r3.Add(r3.Scale(3*u*t*t, p[2]), r3.Scale(t*t*t, p[3])),
	)
}

// Derivative returns dB/dt of segment seg at t.
func (c *Curve) Derivative(seg int, t float64) r3.Vec {
	p := &c.ctrl[seg]
	u := 1 - t
	return r3.Add(
		r3.Add(r3.Scale(3*u*u, r3.Sub(p[1], p[0])), r3.Scale(6*u*t, r3.Sub(p[2], p[1]))),
		r3.Scale(3*t*t, r3.Sub(p[3], p[2])),
	)
}

func (c *Curve) secondDerivative(seg int, t float64) r3.Vec {
	p := &c.ctrl[seg]
	a := r3.Add(r3.Sub(p[2], r3.Scale(2, p[1])), p[0])
	b := r3.Add(r3.Sub(p[3], r3.Scale(2, p[2])), p[1])
	return r3.Add(r3.Scale(6*(1-t), a), r3.Scale(6*t, b))
}

// Tangent returns the unit tangent of segment seg at t.
func (c *Curve) Tangent(seg int, t float64) r3.Vec {
	return r3.Unit(c.Derivative(seg, t))
}

func (c *Curve) segmentLength(seg int, t float64) float64 {
	if t <= 0 {
		return 0
	}
	speed := func(x float64) float64 { return r3.Norm(c.Derivative(seg, x)) }
	return quad.Fixed(speed, 0, t, legendreNodes, quad.Legendre{}, 0)
}

// ArcLength returns the distance along the curve to (seg, t).
func (c *Curve) ArcLength(seg int, t float64) float64 {
	return c.starts[seg] + c.segmentLength(seg, t)
}

// Projection is the closest point on a curve to a query point.
type Projection struct {
	Segment  int
	T        float64
	S        float64 // arc length from the start of the curve
	Point    r3.Vec
	Tangent  r3.Vec // unit
	Lateral  float64 // signed planar offset of the query point, positive to the left
	Distance float64 // planar distance to Point
}

func planar(v r3.Vec) r3.Vec { return r3.Vec{X: v.X, Y: v.Y} }

// Project returns the closest point on the curve to p, measured in the XY
// plane.
func (c *Curve) Project(p r3.Vec) Projection {
	q := planar(p)
	bestSeg, bestT, bestD := 0, 0.0, math.Inf(1)
	for seg := range c.ctrl {
		t, d := c.refine(seg, q)
		if d < bestD {
			bestSeg, bestT, bestD = seg, t, d
		}
	}

	pt := c.Eval(bestSeg, bestT)
	tan := c.Tangent(bestSeg, bestT)
	off := r3.Sub(q, planar(pt))
	lateral := tan.X*off.Y - tan.Y*off.X
	return Projection{
		Segment:  bestSeg,
		T:        bestT,
		S:        c.ArcLength(bestSeg, bestT),
		Point:    pt,
		Tangent:  tan,
		Lateral:  lateral,
		Distance: math.Sqrt(bestD),
	}
}

// refine finds the closest parameter on one segment: coarse sampling then
// Newton iterations on the planar distance gradient. It returns t and the
// squared planar distance.
func (c *Curve) refine(seg int, q r3.Vec) (float64, float64) {
	dist2 := func(t float64) float64 { return r3.Norm2(r3.Sub(planar(c.Eval(seg, t)), q)) }

	bestT, bestD := 0.0, dist2(0)
	for i := 1; i <= samplesPerSegment; i++ {
		t := float64(i) / samplesPerSegment
		if d := dist2(t); d < bestD {
			bestT, bestD = t, d
		}
	}

	t := bestT
	for i := 0; i < newtonIterations; i++ {
		diff := r3.Sub(planar(c.Eval(seg, t)), q)
		d1 := planar(c.Derivative(seg, t))
		d2 := planar(c.secondDerivative(seg, t))
		g := r3.Dot(diff, d1)
		h := r3.Dot(d1, d1) + r3.Dot(diff, d2)
		if h <= 0 || g == 0 {
			break
		}
		t = math.Max(0, math.Min(1, t-g/h))
	}
	if d := dist2(t); d < bestD {
		bestT, bestD = t, d
	}
	return bestT, bestD
}

// Ahead returns the arc length travelled from s=from to s=to moving forward
// along the curve. Closed curves wrap, so the result is in [0, Length). Open
// curves return a negative value when to lies behind from.
func (c *Curve) Ahead(from, to float64) float64 {
	d := to - from
	if c.closed {
		d = math.Mod(d, c.length)
		if d < 0 {
			d += c.length
		}
	}
	return d
}
