package vehicle

import (
	"fmt"
	"math"
)

// WheelKinematics is the wheel motion a tire needs to produce a force.
type WheelKinematics struct {
	Omega    float64 // wheel spin rate (rad/s), positive rolling forward
	Velocity float64 // longitudinal velocity of the wheel centre (m/s)
}

// Contact is the terrain state under a tire.
type Contact struct {
	NormalLoad float64 // N
	Friction   float64 // coefficient
}

// TireForce is what a tire hands back to the wheel and the chassis.
type TireForce struct {
	Longitudinal  float64 // N, positive pushes the vehicle forward
	RollingMoment float64 // Nm opposing wheel spin
}

// Tire is a per-wheel force producer with its own integration step.
type Tire interface {
	Name() string
	Mass() float64
	Radius() float64
	StepSize() float64
	SetStepSize(step float64) error
	Synchronize(time float64, kin WheelKinematics, contact Contact)
	Advance(step float64)
	Force() TireForce
}

// ForceLaw maps longitudinal slip to a normalised force (force / (mu * Fz)).
type ForceLaw interface {
	Normalized(slip float64) float64
}

// TableForceLaw is an odd-symmetric force law sampled for slip >= 0.
type TableForceLaw struct {
	table *Table
}

// NewTableForceLaw builds a force law from non-negative slip samples.
func NewTableForceLaw(slips, forces []float64) (*TableForceLaw, error) {
	if len(slips) > 0 && slips[0] < 0 {
		return nil, fmt.Errorf("%w: force law slips must start at or above 0", ErrInvalidTable)
	}
	t, err := NewTable(slips, forces)
	if err != nil {
		return nil, fmt.Errorf("force law: %w", err)
	}
	return &TableForceLaw{table: t}, nil
}

// Normalized implements ForceLaw.
func (l *TableForceLaw) Normalized(slip float64) float64 {
	if slip < 0 {
		return -l.table.At(-slip)
	}
	return l.table.At(slip)
}

// DefaultForceLaw peaks near 10% slip and falls off toward full lock.
var DefaultForceLaw = &TableForceLaw{table: MustTable(
	[]float64{0, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
	[]float64{0, 0.45, 0.85, 1.0, 0.95, 0.85, 0.8},
)}

const (
	// slipVelocityFloor keeps the slip ratio finite near standstill.
	slipVelocityFloor = 0.5
	// relaxSpeedFloor keeps the relaxation rate positive at standstill.
	relaxSpeedFloor = 1.0
	// rollingSpinScale smooths the rolling moment sign around zero spin.
	rollingSpinScale = 0.5
)

// TireConfig describes a RelaxedSlipTire.
type TireConfig struct {
	Mass              float64  // kg
	Radius            float64  // m
	RelaxationLength  float64  // m
	RollingResistance float64  // coefficient
	Step              float64  // s, 0 defers to the assembly; AssemblyConfig.TireStep overrides it
	Law               ForceLaw // nil selects DefaultForceLaw
}

// RelaxedSlipTire produces a longitudinal force that relaxes toward the
// steady-state force of its force law over a relaxation length.
type RelaxedSlipTire struct {
	name    string
	cfg     TireConfig
	step    float64
	kin     WheelKinematics
	contact Contact
	target  float64
	fx      float64
}

// NewRelaxedSlipTire validates cfg and returns a tire named after its wheel.
func NewRelaxedSlipTire(name string, cfg TireConfig) (*RelaxedSlipTire, error) {
	if cfg.Mass <= 0 {
		return nil, fmt.Errorf("tire %s: mass must be positive, got %g", name, cfg.Mass)
	}
	if cfg.Radius <= 0 {
		return nil, fmt.Errorf("tire %s: radius must be positive, got %g", name, cfg.Radius)
	}
	if cfg.RelaxationLength <= 0 {
		return nil, fmt.Errorf("tire %s: relaxation length must be positive, got %g", name, cfg.RelaxationLength)
	}
	if cfg.RollingResistance < 0 {
		return nil, fmt.Errorf("tire %s: rolling resistance must be non-negative, got %g", name, cfg.RollingResistance)
	}
	if cfg.Step < 0 {
		return nil, fmt.Errorf("%w: tire %s step %g", ErrStepSize, name, cfg.Step)
	}
	if cfg.Law == nil {
		cfg.Law = DefaultForceLaw
	}
	return &RelaxedSlipTire{name: name, cfg: cfg, step: cfg.Step}, nil
}

func (t *RelaxedSlipTire) Name() string      { return t.name }
func (t *RelaxedSlipTire) Mass() float64     { return t.cfg.Mass }
func (t *RelaxedSlipTire) Radius() float64   { return t.cfg.Radius }
func (t *RelaxedSlipTire) StepSize() float64 { return t.step }

// SetStepSize overrides the tire integration step.
func (t *RelaxedSlipTire) SetStepSize(step float64) error {
	if step <= 0 || math.IsNaN(step) {
		return fmt.Errorf("%w: tire %s step %g", ErrStepSize, t.name, step)
	}
	t.step = step
	return nil
}

// Slip returns the current longitudinal slip ratio.
func (t *RelaxedSlipTire) Slip() float64 {
	v := t.kin.Velocity
	return (t.kin.Omega*t.cfg.Radius - v) / math.Max(math.Abs(v), slipVelocityFloor)
}

// Synchronize latches the wheel kinematics and contact and recomputes the
// steady-state force.
func (t *RelaxedSlipTire) Synchronize(time float64, kin WheelKinematics, contact Contact) {
	t.kin = kin
	t.contact = contact
	t.target = contact.Friction * contact.NormalLoad * t.cfg.Law.Normalized(t.Slip())
}

// Advance relaxes the force toward the steady state. The first-order lag is
// integrated exactly, so any positive step is stable.
func (t *RelaxedSlipTire) Advance(step float64) {
	if step <= 0 {
		return
	}
	rate := (math.Abs(t.kin.Velocity) + relaxSpeedFloor) / t.cfg.RelaxationLength
	t.fx += (t.target - t.fx) * (1 - math.Exp(-rate*step))
}

// Force implements Tire.
func (t *RelaxedSlipTire) Force() TireForce {
	roll := t.cfg.RollingResistance * t.contact.NormalLoad * t.cfg.Radius * math.Tanh(t.kin.Omega/rollingSpinScale)
	return TireForce{Longitudinal: t.fx, RollingMoment: roll}
}
