package driver

// Gains are proportional, integral and derivative gains.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// PID is a discrete PID loop with integral and previous-error memory.
type PID struct {
	Gains
	integral float64
	prevErr  float64
	primed   bool
}

// NewPID returns a PID with cleared memory.
func NewPID(g Gains) PID { return PID{Gains: g} }

// Advance feeds one error sample taken dt seconds after the previous one and
// returns the control output. With dt == 0 only the proportional term
// contributes and the memory is left untouched.
func (p *PID) Advance(err, dt float64) float64 {
	if dt <= 0 {
		return p.Kp * err
	}
	p.integral += err * dt
	var deriv float64
	if p.primed {
		deriv = (err - p.prevErr) / dt
	}
	p.prevErr = err
	p.primed = true
	return p.Kp*err + p.Ki*p.integral + p.Kd*deriv
}

// Reset clears the integral and derivative memory.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.primed = false
}

// Integral returns the accumulated error.
func (p *PID) Integral() float64 { return p.integral }
