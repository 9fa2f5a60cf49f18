package vehicle

import (
	"errors"
	"fmt"
	"math"
)

// Powertrain converts a throttle input and the driveshaft speed into the
// torque delivered to the driveline.
type Powertrain interface {
	// Synchronize recomputes the output torque for the given inputs.
	Synchronize(time, throttle, driveshaftSpeed float64)
	// Advance integrates internal dynamics over step seconds.
	Advance(step float64)
	// OutputTorque is the torque on the driveshaft (Nm). No side effects.
	OutputTorque() float64
	// MotorSpeed is the engine speed (rad/s).
	MotorSpeed() float64
	// CurrentGear is the zero-based gear index.
	CurrentGear() int
}

// PowertrainConfig describes a MapPowertrain.
type PowertrainConfig struct {
	// FullThrottle and ZeroThrottle map motor speed (rad/s) to torque (Nm).
	FullThrottle *Table
	ZeroThrottle *Table
	// GearRatios are motor-to-driveshaft ratios, first gear first.
	GearRatios []float64
	// UpshiftSpeed and DownshiftSpeed are motor speeds (rad/s) that trigger
	// automatic shifts.
	UpshiftSpeed   float64
	DownshiftSpeed float64
	// IdleSpeed is the lowest motor speed the engine settles to.
	IdleSpeed float64
	// ConverterTimeConstant is the slip time constant (s) between the motor
	// and the driveshaft. Zero locks the motor to the shaft.
	ConverterTimeConstant float64
}

// Validate checks the configuration.
func (c PowertrainConfig) Validate() error {
	var errs []error
	if c.FullThrottle == nil || c.ZeroThrottle == nil {
		errs = append(errs, errors.New("both torque maps are required"))
	}
	if len(c.GearRatios) == 0 {
		errs = append(errs, errors.New("at least one gear ratio is required"))
	}
	for i, r := range c.GearRatios {
		if r <= 0 {
			errs = append(errs, fmt.Errorf("gear %d ratio must be positive, got %g", i+1, r))
		}
	}
	if len(c.GearRatios) > 1 && c.DownshiftSpeed >= c.UpshiftSpeed {
		errs = append(errs, fmt.Errorf("downshift speed %g must be below upshift speed %g", c.DownshiftSpeed, c.UpshiftSpeed))
	}
	if c.IdleSpeed < 0 {
		errs = append(errs, fmt.Errorf("idle speed must be non-negative, got %g", c.IdleSpeed))
	}
	if c.ConverterTimeConstant < 0 {
		errs = append(errs, fmt.Errorf("converter time constant must be non-negative, got %g", c.ConverterTimeConstant))
	}
	if len(errs) > 0 {
		return fmt.Errorf("powertrain: %w", errors.Join(errs...))
	}
	return nil
}

// MapPowertrain is a simple-map engine behind an automatic gearbox.
type MapPowertrain struct {
	cfg          PowertrainConfig
	gear         int
	throttle     float64
	shaftSpeed   float64
	motorSpeed   float64
	outputTorque float64
}

// NewMapPowertrain validates cfg and returns a powertrain idling in first gear.
func NewMapPowertrain(cfg PowertrainConfig) (*MapPowertrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MapPowertrain{cfg: cfg, motorSpeed: cfg.IdleSpeed}, nil
}

// Synchronize implements Powertrain.
func (p *MapPowertrain) Synchronize(time, throttle, driveshaftSpeed float64) {
	p.throttle = clamp(throttle, 0, 1)
	p.shaftSpeed = driveshaftSpeed
	engine := p.throttle*p.cfg.FullThrottle.At(p.motorSpeed) + (1-p.throttle)*p.cfg.ZeroThrottle.At(p.motorSpeed)
	p.outputTorque = engine * p.cfg.GearRatios[p.gear]
}

// Advance implements Powertrain: the motor speed slips toward the
// shaft-coupled speed, then the gearbox shifts if a threshold is crossed.
func (p *MapPowertrain) Advance(step float64) {
	if step <= 0 {
		return
	}
	coupled := math.Max(p.cfg.IdleSpeed, math.Abs(p.shaftSpeed)*p.cfg.GearRatios[p.gear])
	if tc := p.cfg.ConverterTimeConstant; tc > 0 {
		p.motorSpeed += (coupled - p.motorSpeed) * (1 - math.Exp(-step/tc))
	} else {
		p.motorSpeed = coupled
	}

	switch {
	case p.motorSpeed > p.cfg.UpshiftSpeed && p.gear < len(p.cfg.GearRatios)-1:
		p.gear++
	case p.motorSpeed < p.cfg.DownshiftSpeed && p.gear > 0:
		p.gear--
	}
}

func (p *MapPowertrain) OutputTorque() float64 { return p.outputTorque }
func (p *MapPowertrain) MotorSpeed() float64   { return p.motorSpeed }
func (p *MapPowertrain) CurrentGear() int      { return p.gear }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}
