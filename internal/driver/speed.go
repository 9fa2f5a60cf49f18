package driver

import "math"

// Lead is the tracked object ahead on the active path.
type Lead struct {
	Distance float64 // path-parameter distance, metres
	Tracked  bool
}

// NoLead means nothing is tracked ahead.
var NoLead = Lead{}

// SpeedController is a PID on speed error with a car-following override.
type SpeedController struct {
	pid      PID
	freeFlow float64
	command  float64
}

// NewSpeedController returns a controller with the given gains.
func NewSpeedController(g Gains) *SpeedController {
	return &SpeedController{pid: NewPID(g)}
}

// Advance returns the longitudinal command: positive accelerates, negative
// brakes. The free-flow command tracks targetSpeed. When a lead is tracked
// closer than gap, the command is pushed below both zero and the free-flow
// command in proportion to the gap error.
func (s *SpeedController) Advance(targetSpeed, speed float64, lead Lead, gap, dt float64) float64 {
	s.freeFlow = s.pid.Advance(targetSpeed-speed, dt)
	s.command = s.freeFlow
	if lead.Tracked && lead.Distance < gap {
		s.command = math.Min(s.freeFlow, 0) - s.followGain()*(gap-lead.Distance)
	}
	return s.command
}

func (s *SpeedController) followGain() float64 {
	if s.pid.Kp > 0 {
		return s.pid.Kp
	}
	return 1
}

// FreeFlow is the last command before the car-following override.
func (s *SpeedController) FreeFlow() float64 { return s.freeFlow }

// Command is the last command returned by Advance.
func (s *SpeedController) Command() float64 { return s.command }

// Reset clears the controller memory.
func (s *SpeedController) Reset() { s.pid.Reset() }

// Integral exposes the speed loop's accumulated error.
func (s *SpeedController) Integral() float64 { return s.pid.Integral() }
