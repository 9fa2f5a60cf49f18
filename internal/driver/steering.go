package driver

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/path"
)

// SteeringController steers toward the path point nearest a sentinel placed
// LookAhead metres in front of the vehicle.
type SteeringController struct {
	pid       PID
	lookAhead float64

	sentinel r3.Vec
	target   r3.Vec
	err      float64
}

// NewSteeringController returns a controller with the given gains and
// look-ahead distance.
func NewSteeringController(g Gains, lookAhead float64) *SteeringController {
	return &SteeringController{pid: NewPID(g), lookAhead: lookAhead}
}

// Advance computes the steering command in [-1, 1]. Positive steers left.
func (s *SteeringController) Advance(c *path.Curve, pos, forward r3.Vec, dt float64) float64 {
	heading := r3.Vec{X: forward.X, Y: forward.Y}
	if n := r3.Norm(heading); n > 0 {
		heading = r3.Scale(1/n, heading)
	}
	s.sentinel = r3.Add(pos, r3.Scale(s.lookAhead, heading))
	s.target = c.Project(s.sentinel).Point

	toSentinel := r3.Sub(s.sentinel, pos)
	toTarget := r3.Sub(s.target, pos)
	side := toSentinel.X*toTarget.Y - toSentinel.Y*toTarget.X
	dx, dy := s.target.X-s.sentinel.X, s.target.Y-s.sentinel.Y
	s.err = sign(side) * math.Hypot(dx, dy)

	return clamp(s.pid.Advance(s.err, dt), -1, 1)
}

// Reset clears the controller memory.
func (s *SteeringController) Reset() { s.pid.Reset() }

// LookAhead is the sentinel distance.
func (s *SteeringController) LookAhead() float64 { return s.lookAhead }

// SetLookAhead changes the sentinel distance.
func (s *SteeringController) SetLookAhead(d float64) { s.lookAhead = d }

// Error is the last signed lateral error.
func (s *SteeringController) Error() float64 { return s.err }

// Sentinel and Target are the last look-ahead point and its path projection.
func (s *SteeringController) Sentinel() r3.Vec { return s.sentinel }
func (s *SteeringController) Target() r3.Vec   { return s.target }

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}
