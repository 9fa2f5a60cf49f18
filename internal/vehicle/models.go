package vehicle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Model is a complete vehicle description: chassis, powertrain and tires.
type Model struct {
	Name       string
	Assembly   AssemblyConfig
	Powertrain PowertrainConfig
	Tire       TireConfig
}

// Sedan is a rear-wheel-drive passenger car.
func Sedan() Model {
	return Model{
		Name: "sedan",
		Assembly: AssemblyConfig{
			ChassisMass:     1300,
			Wheelbase:       2.7,
			TrackWidth:      1.6,
			RideHeight:      0.5,
			MaxSteerAngle:   30 * math.Pi / 180,
			FinalDriveRatio: 3.5,
			Drive:           RearWheelDrive,
			MaxBrakeTorque:  1200,
			WheelInertia:    1.2,
			DragCoefficient: 0.3,
			FrontalArea:     2.2,
			AirDensity:      1.2,
		},
		Powertrain: PowertrainConfig{
			FullThrottle: MustTable(
				[]float64{0, 100, 200, 300, 400, 500, 600, 700},
				[]float64{200, 250, 300, 320, 310, 290, 250, 0},
			),
			ZeroThrottle: MustTable(
				[]float64{0, 100, 300, 700},
				[]float64{0, 0, -20, -50},
			),
			GearRatios:            []float64{3.5, 2.2, 1.5, 1.1, 0.9},
			UpshiftSpeed:          500,
			DownshiftSpeed:        200,
			IdleSpeed:             80,
			ConverterTimeConstant: 0.1,
		},
		Tire: TireConfig{
			Mass:              10,
			Radius:            0.33,
			RelaxationLength:  0.3,
			RollingResistance: 0.01,
		},
	}
}

// CityBus is a heavy rear-wheel-drive bus with aerodynamic drag enabled.
func CityBus() Model {
	return Model{
		Name: "citybus",
		Assembly: AssemblyConfig{
			ChassisMass:     12000,
			Wheelbase:       6,
			TrackWidth:      2.1,
			RideHeight:      0.8,
			MaxSteerAngle:   35 * math.Pi / 180,
			FinalDriveRatio: 4.5,
			Drive:           RearWheelDrive,
			MaxBrakeTorque:  8000,
			WheelInertia:    10,
			DragCoefficient: 0.6,
			FrontalArea:     8,
			AirDensity:      1.2,
		},
		Powertrain: PowertrainConfig{
			FullThrottle: MustTable(
				[]float64{0, 50, 100, 150, 200, 250, 300, 350},
				[]float64{800, 1000, 1200, 1250, 1200, 1100, 900, 0},
			),
			ZeroThrottle: MustTable(
				[]float64{0, 50, 150, 350},
				[]float64{0, 0, -60, -150},
			),
			GearRatios:            []float64{3, 2, 1.4, 1},
			UpshiftSpeed:          280,
			DownshiftSpeed:        120,
			IdleSpeed:             60,
			ConverterTimeConstant: 0.1,
		},
		Tire: TireConfig{
			Mass:              30,
			Radius:            0.5,
			RelaxationLength:  0.5,
			RollingResistance: 0.008,
		},
	}
}

// ModelByName returns a preset by its name.
func ModelByName(name string) (Model, error) {
	switch name {
	case "sedan":
		return Sedan(), nil
	case "citybus", "bus":
		return CityBus(), nil
	default:
		return Model{}, fmt.Errorf("%w: unknown vehicle model %q", ErrInvalidConfig, name)
	}
}

// Placement positions a vehicle built from a Model.
type Placement struct {
	Index    int
	Position r3.Vec
	Yaw      float64 // rad
	Speed    float64 // m/s
}

// Steps overrides the model's integration steps. Zero fields keep the model's.
type Steps struct {
	Base    float64
	Vehicle float64
	Tire    float64
}

// Build assembles a vehicle from the model at the given placement.
func (m Model) Build(at Placement, steps Steps) (*Assembly, error) {
	pt, err := NewMapPowertrain(m.Powertrain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	var tires [4]Tire
	for i := range tires {
		t, err := NewRelaxedSlipTire(fmt.Sprintf("%s-%s", m.Name, WheelID(i)), m.Tire)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		tires[i] = t
	}

	cfg := m.Assembly
	cfg.Index = at.Index
	cfg.InitialPose = PoseFromYaw(at.Position, at.Yaw)
	cfg.InitialSpeed = at.Speed
	if steps.Base != 0 {
		cfg.BaseStep = steps.Base
	}
	if steps.Vehicle != 0 {
		cfg.VehicleStep = steps.Vehicle
	}
	if steps.Tire != 0 {
		cfg.TireStep = steps.Tire
	}
	return NewAssembly(cfg, pt, tires)
}
