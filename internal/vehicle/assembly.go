package vehicle

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/terrain"
)

var (
	// ErrStepSize reports an invalid integration step configuration.
	ErrStepSize = errors.New("vehicle: invalid step size")
	// ErrAdvanceWithoutSync reports Advance called before Synchronize in a tick.
	ErrAdvanceWithoutSync = errors.New("vehicle: Advance called without a prior Synchronize")
	// ErrInvalidConfig reports an unusable vehicle description.
	ErrInvalidConfig = errors.New("vehicle: invalid configuration")
)

// DefaultBaseStep is the engine-wide step used when a step size is unset.
const DefaultBaseStep = 1e-3

const (
	gravity = 9.81
	// stepRatioTolerance is the relative slack allowed when checking that the
	// tire step divides the vehicle step.
	stepRatioTolerance = 1e-9
)

// WheelID indexes the four wheels.
type WheelID int

const (
	FrontLeft WheelID = iota
	FrontRight
	RearLeft
	RearRight
)

func (w WheelID) String() string {
	switch w {
	case FrontLeft:
		return "FL"
	case FrontRight:
		return "FR"
	case RearLeft:
		return "RL"
	case RearRight:
		return "RR"
	default:
		return fmt.Sprintf("wheel(%d)", int(w))
	}
}

func (w WheelID) front() bool { return w == FrontLeft || w == FrontRight }

// DriveType selects which axles receive powertrain torque.
type DriveType int

const (
	RearWheelDrive DriveType = iota
	FrontWheelDrive
	AllWheelDrive
)

func (d DriveType) driven(w WheelID) bool {
	switch d {
	case FrontWheelDrive:
		return w.front()
	case AllWheelDrive:
		return true
	default:
		return !w.front()
	}
}

func (d DriveType) drivenCount() int {
	if d == AllWheelDrive {
		return 4
	}
	return 2
}

// Pose is a position and a unit orientation quaternion.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// PoseFromYaw builds a pose rotated by yaw (rad) about +Z.
func PoseFromYaw(pos r3.Vec, yaw float64) Pose {
	return Pose{Position: pos, Orientation: quat.Number(r3.NewRotation(yaw, r3.Vec{Z: 1}))}
}

// Forward returns the unit heading vector of the pose.
func (p Pose) Forward() r3.Vec {
	q := p.Orientation
	if q == (quat.Number{}) {
		return r3.Vec{X: 1}
	}
	return r3.Rotation(q).Rotate(r3.Vec{X: 1})
}

// Yaw returns the heading angle in the XY plane.
func (p Pose) Yaw() float64 {
	f := p.Forward()
	return math.Atan2(f.Y, f.X)
}

// WheelState is the reported state of one wheel.
type WheelState struct {
	ID           WheelID
	Omega        float64 // rad/s
	ContactForce float64 // N, longitudinal tire force
	NormalLoad   float64 // N
	Friction     float64
	Position     r3.Vec
}

// AssemblyConfig describes the chassis, driveline and integration steps.
type AssemblyConfig struct {
	Index           int
	ChassisMass     float64 // kg, chassis and axles without tires
	Wheelbase       float64 // m
	TrackWidth      float64 // m
	RideHeight      float64 // m above terrain
	MaxSteerAngle   float64 // rad at full steering input
	FinalDriveRatio float64
	Drive           DriveType
	MaxBrakeTorque  float64 // Nm per wheel at full braking input
	WheelInertia    float64 // kg m^2

	// Aerodynamic drag, disabled when any term is zero.
	DragCoefficient float64
	FrontalArea     float64
	AirDensity      float64

	// Step sizes. Zero selects BaseStep (or DefaultBaseStep when BaseStep is
	// also zero); negative values are rejected.
	BaseStep    float64
	VehicleStep float64
	TireStep    float64

	InitialPose  Pose
	InitialSpeed float64 // m/s forward
}

// commonTireStep returns the step the tires were built with, 0 when none
// carries one.
func commonTireStep(tires [4]Tire) (float64, error) {
	var step float64
	for _, t := range tires {
		s := t.StepSize()
		if s == 0 {
			continue
		}
		if step != 0 && s != step {
			return 0, fmt.Errorf("%w: tires disagree on step: %g and %g", ErrStepSize, step, s)
		}
		step = s
	}
	return step, nil
}

func resolveStep(name string, step, base float64) (float64, error) {
	switch {
	case math.IsNaN(step) || step < 0:
		return 0, fmt.Errorf("%w: %s step %g must be positive", ErrStepSize, name, step)
	case step == 0:
		return base, nil
	default:
		return step, nil
	}
}

// Assembly is the composite vehicle: chassis, four tires and a powertrain.
type Assembly struct {
	cfg         AssemblyConfig
	powertrain  Powertrain
	tires       [4]Tire
	wheels      [4]WheelState
	vehicleStep float64
	tireStep    float64

	time  float64
	pose  Pose
	yaw   float64
	speed float64

	// Latched by Synchronize.
	synced      bool
	steering    float64
	braking     float64
	throttle    float64
	driveTorque float64
}

// NewAssembly validates the configuration, resolves the tire step and applies
// it to every tire, and places the vehicle at its initial pose. An unset
// TireStep falls back to the step the tires were built with, then to the
// base step.
func NewAssembly(cfg AssemblyConfig, powertrain Powertrain, tires [4]Tire) (*Assembly, error) {
	var errs []error
	if cfg.ChassisMass <= 0 {
		errs = append(errs, fmt.Errorf("chassis mass must be positive, got %g", cfg.ChassisMass))
	}
	if cfg.Wheelbase <= 0 || cfg.TrackWidth <= 0 {
		errs = append(errs, fmt.Errorf("wheelbase and track width must be positive, got %g and %g", cfg.Wheelbase, cfg.TrackWidth))
	}
	if cfg.FinalDriveRatio <= 0 {
		errs = append(errs, fmt.Errorf("final drive ratio must be positive, got %g", cfg.FinalDriveRatio))
	}
	if cfg.WheelInertia <= 0 {
		errs = append(errs, fmt.Errorf("wheel inertia must be positive, got %g", cfg.WheelInertia))
	}
	if cfg.MaxBrakeTorque < 0 {
		errs = append(errs, fmt.Errorf("max brake torque must be non-negative, got %g", cfg.MaxBrakeTorque))
	}
	if powertrain == nil {
		errs = append(errs, errors.New("powertrain is required"))
	}
	for i, t := range tires {
		if t == nil {
			errs = append(errs, fmt.Errorf("tire %s is missing", WheelID(i)))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: vehicle %d: %w", ErrInvalidConfig, cfg.Index, errors.Join(errs...))
	}

	base, err := resolveStep("base", cfg.BaseStep, DefaultBaseStep)
	if err != nil {
		return nil, err
	}
	vehicleStep, err := resolveStep("vehicle", cfg.VehicleStep, base)
	if err != nil {
		return nil, err
	}
	tireDefault, err := commonTireStep(tires)
	if err != nil {
		return nil, err
	}
	if tireDefault == 0 {
		tireDefault = base
	}
	tireStep, err := resolveStep("tire", cfg.TireStep, tireDefault)
	if err != nil {
		return nil, err
	}
	ratio := vehicleStep / tireStep
	if n := math.Round(ratio); n < 1 || math.Abs(ratio-n) > stepRatioTolerance*ratio {
		return nil, fmt.Errorf("%w: tire step %g does not divide vehicle step %g", ErrStepSize, tireStep, vehicleStep)
	}
	for _, t := range tires {
		if err := t.SetStepSize(tireStep); err != nil {
			return nil, err
		}
	}

	a := &Assembly{
		cfg:         cfg,
		powertrain:  powertrain,
		tires:       tires,
		vehicleStep: vehicleStep,
		tireStep:    tireStep,
		pose:        cfg.InitialPose,
		speed:       cfg.InitialSpeed,
	}
	if a.pose.Orientation == (quat.Number{}) {
		a.pose.Orientation = quat.Number{Real: 1}
	}
	a.yaw = a.pose.Yaw()
	load := a.TotalMass() * gravity / 4
	for i := range a.wheels {
		a.wheels[i] = WheelState{
			ID:         WheelID(i),
			Omega:      cfg.InitialSpeed / tires[i].Radius(),
			NormalLoad: load,
		}
	}
	a.updateWheelPositions()
	return a, nil
}

// Index is the owning participant index.
func (a *Assembly) Index() int { return a.cfg.Index }

// Time is the assembly's simulation time.
func (a *Assembly) Time() float64 { return a.time }

// Pose returns the chassis pose.
func (a *Assembly) Pose() Pose { return a.pose }

// Speed is the signed forward speed (m/s).
func (a *Assembly) Speed() float64 { return a.speed }

// Velocity is the chassis velocity vector in the world frame.
func (a *Assembly) Velocity() r3.Vec {
	return r3.Vec{X: a.speed * math.Cos(a.yaw), Y: a.speed * math.Sin(a.yaw)}
}

// Wheels returns a copy of the wheel states.
func (a *Assembly) Wheels() [4]WheelState { return a.wheels }

// VehicleStep is the resolved vehicle integration step.
func (a *Assembly) VehicleStep() float64 { return a.vehicleStep }

// TireStep is the resolved tire integration step.
func (a *Assembly) TireStep() float64 { return a.tireStep }

// Powertrain exposes the powertrain for reporting.
func (a *Assembly) Powertrain() Powertrain { return a.powertrain }

// TotalMass is the chassis mass plus the four tire masses.
func (a *Assembly) TotalMass() float64 {
	m := a.cfg.ChassisMass
	for _, t := range a.tires {
		m += t.Mass()
	}
	return m
}

// DriveshaftSpeed is the final-drive side speed of the driven wheels.
func (a *Assembly) DriveshaftSpeed() float64 {
	var sum float64
	for i, w := range a.wheels {
		if a.cfg.Drive.driven(WheelID(i)) {
			sum += w.Omega
		}
	}
	return a.cfg.FinalDriveRatio * sum / float64(a.cfg.Drive.drivenCount())
}

// Inputs returns the conditioned driver inputs latched by the last Synchronize.
func (a *Assembly) Inputs() (steering, braking, throttle float64) {
	return a.steering, a.braking, a.throttle
}

// Synchronize latches driver inputs and terrain state for the coming Advance.
// Inputs are clamped to their valid ranges; when throttle and braking are both
// requested, braking wins.
//
// The torque applied during the coming Advance is the powertrain output from
// the previous Synchronize; the powertrain is then updated with the current
// driveshaft speed. This one-tick lag avoids an implicit solve between the
// engine and the driveline.
func (a *Assembly) Synchronize(time, steering, braking, throttle float64, terr terrain.Terrain) {
	a.steering = clamp(steering, -1, 1)
	a.braking = clamp(braking, 0, 1)
	a.throttle = clamp(throttle, 0, 1)
	if a.braking > 0 && a.throttle > 0 {
		monitoring.Debugf("[vehicle %d] throttle %.3f and braking %.3f both set at t=%.3f; dropping throttle",
			a.cfg.Index, a.throttle, a.braking, time)
		a.throttle = 0
	}

	a.driveTorque = a.powertrain.OutputTorque()
	a.powertrain.Synchronize(time, a.throttle, a.DriveshaftSpeed())

	a.updateWheelPositions()
	var height float64
	for i := range a.wheels {
		p := a.wheels[i].Position
		height += terr.Height(p.X, p.Y)
		a.wheels[i].Friction = terr.Friction(p.X, p.Y)
	}
	a.pose.Position.Z = height/4 + a.cfg.RideHeight

	a.time = time
	a.synced = true
}

// Advance integrates the vehicle over outerStep seconds: the powertrain once,
// then the tires, wheels and chassis over ceil(outerStep/tireStep) sub-steps,
// the last of which may be shorter so the total lands on outerStep.
func (a *Assembly) Advance(outerStep float64) error {
	if !a.synced {
		return fmt.Errorf("%w: vehicle %d at t=%.6f", ErrAdvanceWithoutSync, a.cfg.Index, a.time)
	}
	if outerStep <= 0 || math.IsNaN(outerStep) || math.IsInf(outerStep, 0) {
		return fmt.Errorf("%w: outer step %g must be positive", ErrStepSize, outerStep)
	}
	a.synced = false

	a.powertrain.Advance(outerStep)

	n := int(math.Ceil(outerStep/a.tireStep - stepRatioTolerance))
	if n < 1 {
		n = 1
	}
	var elapsed float64
	for i := 0; i < n; i++ {
		dt := a.tireStep
		if i == n-1 {
			dt = outerStep - elapsed
		}
		if dt <= 0 {
			break
		}
		a.substep(dt)
		elapsed += dt
	}
	a.updateWheelPositions()
	return nil
}

func (a *Assembly) substep(dt float64) {
	mass := a.TotalMass()
	wheelTorque := a.driveTorque * a.cfg.FinalDriveRatio / float64(a.cfg.Drive.drivenCount())
	brakeStep := a.braking * a.cfg.MaxBrakeTorque * dt / a.cfg.WheelInertia

	var fx float64
	for i := range a.wheels {
		w := &a.wheels[i]
		tire := a.tires[i]
		tire.Synchronize(a.time, WheelKinematics{Omega: w.Omega, Velocity: a.speed},
			Contact{NormalLoad: w.NormalLoad, Friction: w.Friction})
		tire.Advance(dt)
		f := tire.Force()
		w.ContactForce = f.Longitudinal
		fx += f.Longitudinal

		torque := -tire.Radius()*f.Longitudinal - f.RollingMoment
		if a.cfg.Drive.driven(w.ID) {
			torque += wheelTorque
		}
		w.Omega += dt * torque / a.cfg.WheelInertia
		if math.Abs(w.Omega) <= brakeStep {
			w.Omega = 0
		} else {
			w.Omega -= math.Copysign(brakeStep, w.Omega)
		}
	}

	if a.cfg.DragCoefficient > 0 && a.cfg.FrontalArea > 0 && a.cfg.AirDensity > 0 {
		fx -= 0.5 * a.cfg.AirDensity * a.cfg.DragCoefficient * a.cfg.FrontalArea * a.speed * math.Abs(a.speed)
	}
	a.speed += dt * fx / mass

	delta := a.steering * a.cfg.MaxSteerAngle
	a.yaw += dt * a.speed * math.Tan(delta) / a.cfg.Wheelbase
	a.pose.Position.X += dt * a.speed * math.Cos(a.yaw)
	a.pose.Position.Y += dt * a.speed * math.Sin(a.yaw)
	a.pose.Orientation = quat.Number(r3.NewRotation(a.yaw, r3.Vec{Z: 1}))
	a.time += dt
}

func (a *Assembly) updateWheelPositions() {
	fwd := r3.Vec{X: math.Cos(a.yaw), Y: math.Sin(a.yaw)}
	left := r3.Vec{X: -fwd.Y, Y: fwd.X}
	half := a.cfg.Wheelbase / 2
	halfTrack := a.cfg.TrackWidth / 2
	for i := range a.wheels {
		id := WheelID(i)
		long := -half
		if id.front() {
			long = half
		}
		lat := -halfTrack
		if id == FrontLeft || id == RearLeft {
			lat = halfTrack
		}
		a.wheels[i].Position = r3.Add(a.pose.Position, r3.Add(r3.Scale(long, fwd), r3.Scale(lat, left)))
	}
}
