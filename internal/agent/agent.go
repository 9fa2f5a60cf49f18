// Package agent binds one vehicle, its driver and the shared terrain into
// the unit of distribution: one agent per participant.
package agent

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/observe"
	"github.com/banshee-data/synchro/internal/terrain"
	"github.com/banshee-data/synchro/internal/vehicle"
	"github.com/banshee-data/synchro/internal/wire"
)

// stepTolerance absorbs rounding when splitting a tick into vehicle steps.
const stepTolerance = 1e-9

// Agent exclusively owns its vehicle and driver. The terrain is shared and
// only read.
type Agent struct {
	model   string
	vehicle *vehicle.Assembly
	driver  *driver.PathFollower
	terrain terrain.Terrain
	lead    driver.Lead
	time    float64
}

// New binds the parts. All three are required.
func New(model string, v *vehicle.Assembly, d *driver.PathFollower, terr terrain.Terrain) (*Agent, error) {
	if v == nil || d == nil || terr == nil {
		return nil, errors.New("agent: vehicle, driver and terrain are all required")
	}
	return &Agent{model: model, vehicle: v, driver: d, terrain: terr, time: v.Time()}, nil
}

// Index is the participant index of the vehicle.
func (a *Agent) Index() int { return a.vehicle.Index() }

// Model names the vehicle preset.
func (a *Agent) Model() string { return a.model }

// Time is the agent's simulation time.
func (a *Agent) Time() float64 { return a.time }

// Vehicle and Driver expose the owned parts for inspection.
func (a *Agent) Vehicle() *vehicle.Assembly    { return a.vehicle }
func (a *Agent) Driver() *driver.PathFollower  { return a.driver }
func (a *Agent) Lead() driver.Lead             { return a.lead }
func (a *Agent) SetLead(l driver.Lead)         { a.lead = l }
func (a *Agent) ChangePath(index int) error    { return a.driver.ChangePath(index) }
func (a *Agent) Kinematics() driver.Kinematics { return kinematics(a.vehicle) }

func kinematics(v *vehicle.Assembly) driver.Kinematics {
	p := v.Pose()
	return driver.Kinematics{Position: p.Position, Forward: p.Forward(), Speed: v.Speed()}
}

// Advance moves the agent forward by globalStep seconds in vehicle-step
// increments: driver Synchronize, vehicle Synchronize, vehicle Advance. The
// last increment is shortened to land on the tick boundary. The lead held by
// SetLead applies to every increment.
func (a *Agent) Advance(globalStep float64) error {
	if globalStep <= 0 || math.IsNaN(globalStep) || math.IsInf(globalStep, 0) {
		return fmt.Errorf("%w: global step %g must be positive", vehicle.ErrStepSize, globalStep)
	}
	step := a.vehicle.VehicleStep()
	n := int(math.Ceil(globalStep/step - stepTolerance))
	if n < 1 {
		n = 1
	}
	start := a.time
	var elapsed float64
	for i := 0; i < n; i++ {
		dt := step
		if i == n-1 {
			dt = globalStep - elapsed
		}
		if dt <= 0 {
			break
		}
		t := start + elapsed
		in := a.driver.Synchronize(t, kinematics(a.vehicle), a.lead)
		a.vehicle.Synchronize(t, in.Steering, in.Braking, in.Throttle, a.terrain)
		if err := a.vehicle.Advance(dt); err != nil {
			return fmt.Errorf("agent %d at t=%.6f: %w", a.Index(), t, err)
		}
		elapsed += dt
	}
	a.time = start + globalStep
	return nil
}

// Record is the wire state of the agent.
func (a *Agent) Record() wire.Record {
	p := a.vehicle.Pose()
	v := a.vehicle.Velocity()
	q := p.Orientation
	return wire.Record{
		Index:       int64(a.Index()),
		Time:        a.time,
		Position:    [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Orientation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		Velocity:    [3]float64{v.X, v.Y, v.Z},
	}
}

// Snapshot copies the agent state for observers.
func (a *Agent) Snapshot() observe.AgentSnapshot {
	r := a.Record()
	in := a.driver.Inputs()
	pt := a.vehicle.Powertrain()
	return observe.AgentSnapshot{
		Index:        a.Index(),
		Model:        a.model,
		Time:         a.time,
		Position:     r.Position,
		Orientation:  r.Orientation,
		Velocity:     r.Velocity,
		Speed:        a.vehicle.Speed(),
		Yaw:          a.vehicle.Pose().Yaw(),
		Steering:     in.Steering,
		Throttle:     in.Throttle,
		Braking:      in.Braking,
		Acceleration: a.driver.Acceleration(),
		ActivePath:   a.driver.ActiveIndex(),
		LeadDistance: a.lead.Distance,
		LeadTracked:  a.lead.Tracked,
		Gear:         pt.CurrentGear(),
		MotorSpeed:   pt.MotorSpeed(),
	}
}
