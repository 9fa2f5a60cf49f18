package vehicle

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/terrain"
)

// constantPowertrain delivers a fixed torque and records call order.
type constantPowertrain struct {
	torque float64
	calls  []string
}

func (p *constantPowertrain) Synchronize(time, throttle, driveshaftSpeed float64) {
	p.calls = append(p.calls, "sync")
}
func (p *constantPowertrain) Advance(step float64) { p.calls = append(p.calls, "advance") }
func (p *constantPowertrain) OutputTorque() float64 {
	p.calls = append(p.calls, "torque")
	return p.torque
}
func (p *constantPowertrain) MotorSpeed() float64 { return 0 }
func (p *constantPowertrain) CurrentGear() int    { return 0 }

var flat = terrain.Flat{Z: 0, Mu: 0.9}

func newTestAssembly(t *testing.T, cfg AssemblyConfig, pt Powertrain) *Assembly {
	t.Helper()
	m := Sedan()
	var tires [4]Tire
	for i := range tires {
		tire, err := NewRelaxedSlipTire(WheelID(i).String(), m.Tire)
		require.NoError(t, err)
		tires[i] = tire
	}
	a, err := NewAssembly(cfg, pt, tires)
	require.NoError(t, err)
	return a
}

func TestAssemblySubsteppingConsistency(t *testing.T) {
	cfg := Sedan().Assembly
	cfg.VehicleStep = 1.0 / 128
	cfg.TireStep = 1.0 / 1024
	cfg.InitialSpeed = 5

	const n = 8
	for _, tc := range []struct {
		name     string
		steering float64
		braking  float64
	}{
		{name: "drive", steering: 0},
		{name: "drive and steer", steering: 0.3},
		{name: "brake", braking: 0.6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			throttle := 0.0
			if tc.braking == 0 {
				throttle = 1
			}
			stepped := newTestAssembly(t, cfg, &constantPowertrain{torque: 150})
			for i := 0; i < n; i++ {
				stepped.Synchronize(float64(i)*cfg.VehicleStep, tc.steering, tc.braking, throttle, flat)
				require.NoError(t, stepped.Advance(cfg.VehicleStep))
			}

			whole := newTestAssembly(t, cfg, &constantPowertrain{torque: 150})
			whole.Synchronize(0, tc.steering, tc.braking, throttle, flat)
			require.NoError(t, whole.Advance(n*cfg.VehicleStep))

			assert.Equal(t, stepped.Wheels(), whole.Wheels())
			assert.Equal(t, stepped.Speed(), whole.Speed())
			assert.Equal(t, stepped.Pose(), whole.Pose())
			assert.Equal(t, stepped.Time(), whole.Time())
		})
	}
}

func TestAssemblyAdvanceRequiresSynchronize(t *testing.T) {
	a := newTestAssembly(t, Sedan().Assembly, &constantPowertrain{})

	err := a.Advance(1e-3)
	require.ErrorIs(t, err, ErrAdvanceWithoutSync)

	a.Synchronize(0, 0, 0, 0, flat)
	require.NoError(t, a.Advance(1e-3))

	// One Synchronize covers exactly one Advance.
	assert.ErrorIs(t, a.Advance(1e-3), ErrAdvanceWithoutSync)
}

func TestAssemblyRejectsNonPositiveOuterStep(t *testing.T) {
	a := newTestAssembly(t, Sedan().Assembly, &constantPowertrain{})
	for _, step := range []float64{0, -1e-3, math.NaN()} {
		a.Synchronize(0, 0, 0, 0, flat)
		assert.ErrorIs(t, a.Advance(step), ErrStepSize, "step %g", step)
	}
}

func TestAssemblyStepSizeConfiguration(t *testing.T) {
	t.Run("unset steps use the base step", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.BaseStep = 2e-3
		a := newTestAssembly(t, cfg, &constantPowertrain{})
		assert.Equal(t, 2e-3, a.VehicleStep())
		assert.Equal(t, 2e-3, a.TireStep())
	})

	t.Run("no base step uses the engine default", func(t *testing.T) {
		a := newTestAssembly(t, Sedan().Assembly, &constantPowertrain{})
		assert.Equal(t, DefaultBaseStep, a.VehicleStep())
	})

	t.Run("tire step applied to every tire", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.VehicleStep = 1e-2
		cfg.TireStep = 2.5e-3
		a := newTestAssembly(t, cfg, &constantPowertrain{})
		for _, tire := range a.tires {
			assert.Equal(t, 2.5e-3, tire.StepSize())
		}
	})

	tiresWith := func(steps ...float64) [4]Tire {
		var tires [4]Tire
		for i := range tires {
			tc := Sedan().Tire
			tc.Step = steps[i%len(steps)]
			tire, err := NewRelaxedSlipTire(WheelID(i).String(), tc)
			require.NoError(t, err)
			tires[i] = tire
		}
		return tires
	}

	t.Run("tire built step used when assembly leaves it unset", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.VehicleStep = 1e-2
		a, err := NewAssembly(cfg, &constantPowertrain{}, tiresWith(2.5e-3))
		require.NoError(t, err)
		assert.Equal(t, 2.5e-3, a.TireStep())
		for _, tire := range a.tires {
			assert.Equal(t, 2.5e-3, tire.StepSize())
		}
	})

	t.Run("assembly tire step overrides the tires", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.VehicleStep = 1e-2
		cfg.TireStep = 5e-3
		a, err := NewAssembly(cfg, &constantPowertrain{}, tiresWith(2.5e-3))
		require.NoError(t, err)
		assert.Equal(t, 5e-3, a.TireStep())
		for _, tire := range a.tires {
			assert.Equal(t, 5e-3, tire.StepSize())
		}
	})

	t.Run("tire built step must divide the vehicle step", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.VehicleStep = 1e-2
		_, err := NewAssembly(cfg, &constantPowertrain{}, tiresWith(3e-3))
		assert.ErrorIs(t, err, ErrStepSize)
	})

	t.Run("tires must agree on their step", func(t *testing.T) {
		cfg := Sedan().Assembly
		cfg.VehicleStep = 1e-2
		_, err := NewAssembly(cfg, &constantPowertrain{}, tiresWith(2.5e-3, 5e-3))
		assert.ErrorIs(t, err, ErrStepSize)
	})

	bad := []struct {
		name    string
		vehicle float64
		tire    float64
		base    float64
	}{
		{name: "negative vehicle step", vehicle: -1e-3},
		{name: "negative tire step", tire: -1e-3},
		{name: "negative base step", base: -1},
		{name: "tire step does not divide", vehicle: 1e-2, tire: 3e-3},
		{name: "tire step larger than vehicle step", vehicle: 1e-3, tire: 2e-3},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Sedan().Assembly
			cfg.VehicleStep, cfg.TireStep, cfg.BaseStep = tc.vehicle, tc.tire, tc.base
			m := Sedan()
			var tires [4]Tire
			for i := range tires {
				tires[i], _ = NewRelaxedSlipTire("t", m.Tire)
			}
			_, err := NewAssembly(cfg, &constantPowertrain{}, tires)
			assert.ErrorIs(t, err, ErrStepSize)
		})
	}
}

func TestAssemblyInvalidConfig(t *testing.T) {
	cfg := Sedan().Assembly
	cfg.ChassisMass = 0
	_, err := NewAssembly(cfg, nil, [4]Tire{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "chassis mass")
	assert.Contains(t, err.Error(), "powertrain is required")
	assert.Contains(t, err.Error(), "tire FL is missing")
}

func TestAssemblyClampsInputs(t *testing.T) {
	a := newTestAssembly(t, Sedan().Assembly, &constantPowertrain{})

	a.Synchronize(0, 3, 0, 1.5, flat)
	steering, braking, throttle := a.Inputs()
	assert.Equal(t, 1.0, steering)
	assert.Equal(t, 0.0, braking)
	assert.Equal(t, 1.0, throttle)

	a.Synchronize(0, -2, 0.4, 0.7, flat)
	steering, braking, throttle = a.Inputs()
	assert.Equal(t, -1.0, steering)
	assert.Equal(t, 0.4, braking)
	assert.Equal(t, 0.0, throttle, "braking wins over throttle")

	a.Synchronize(0, math.NaN(), -1, math.NaN(), flat)
	steering, braking, throttle = a.Inputs()
	assert.Equal(t, [3]float64{0, 0, 0}, [3]float64{steering, braking, throttle})
}

func TestAssemblyPowertrainTorqueLag(t *testing.T) {
	pt := &constantPowertrain{torque: 10}
	a := newTestAssembly(t, Sedan().Assembly, pt)

	a.Synchronize(0, 0, 0, 1, flat)
	require.NoError(t, a.Advance(1e-3))
	assert.Equal(t, []string{"torque", "sync", "advance"}, pt.calls)
}

func TestAssemblyTotalMass(t *testing.T) {
	a, err := Sedan().Build(Placement{}, Steps{})
	require.NoError(t, err)
	assert.Equal(t, 1340.0, a.TotalMass())

	b, err := CityBus().Build(Placement{}, Steps{})
	require.NoError(t, err)
	assert.Equal(t, 12120.0, b.TotalMass())
}

func TestAssemblyTerrainHeight(t *testing.T) {
	a, err := Sedan().Build(Placement{}, Steps{})
	require.NoError(t, err)
	a.Synchronize(0, 0, 0, 0, terrain.Flat{Z: 2, Mu: 0.8})
	assert.InDelta(t, 2.5, a.Pose().Position.Z, 1e-12)
	for _, w := range a.Wheels() {
		assert.Equal(t, 0.8, w.Friction)
	}
}

func run(t *testing.T, a *Assembly, seconds, steering, braking, throttle float64) {
	t.Helper()
	step := a.VehicleStep()
	n := int(math.Round(seconds / step))
	for i := 0; i < n; i++ {
		a.Synchronize(a.Time(), steering, braking, throttle, flat)
		require.NoError(t, a.Advance(step))
	}
}

func TestSedanAcceleratesInAStraightLine(t *testing.T) {
	a, err := Sedan().Build(Placement{Position: r3.Vec{X: 1, Y: 2}}, Steps{})
	require.NoError(t, err)

	run(t, a, 3, 0, 0, 1)

	assert.Greater(t, a.Speed(), 3.0)
	assert.Greater(t, a.Pose().Position.X, 1.0)
	assert.Equal(t, 2.0, a.Pose().Position.Y)
	assert.Equal(t, 0.0, a.Pose().Yaw())
	assert.Greater(t, a.Powertrain().CurrentGear(), 0, "should have shifted up")
	for _, w := range a.Wheels() {
		assert.False(t, math.IsNaN(w.Omega))
	}
}

func TestSedanBrakesToRest(t *testing.T) {
	a, err := Sedan().Build(Placement{Speed: 10}, Steps{})
	require.NoError(t, err)

	run(t, a, 6, 0, 1, 0)

	assert.InDelta(t, 0, a.Speed(), 1.0)
	assert.Less(t, a.Pose().Position.X, 15.0)
}

func TestSedanTurnsWithSteering(t *testing.T) {
	a, err := Sedan().Build(Placement{Speed: 8}, Steps{})
	require.NoError(t, err)

	run(t, a, 1, 0.5, 0, 0.3)
	assert.Greater(t, a.Pose().Yaw(), 0.0, "positive steering turns left")
	assert.Greater(t, a.Pose().Position.Y, 0.0)
}

func TestPoseFromYaw(t *testing.T) {
	p := PoseFromYaw(r3.Vec{}, math.Pi/2)
	f := p.Forward()
	assert.InDelta(t, 0, f.X, 1e-12)
	assert.InDelta(t, 1, f.Y, 1e-12)
	assert.InDelta(t, math.Pi/2, p.Yaw(), 1e-12)

	assert.Equal(t, r3.Vec{X: 1}, Pose{}.Forward())
}

func TestModelByName(t *testing.T) {
	m, err := ModelByName("bus")
	require.NoError(t, err)
	assert.Equal(t, "citybus", m.Name)

	_, err = ModelByName("tram")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
