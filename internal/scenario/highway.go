// Package scenario builds the agents of the highway demo: two sedans in the
// northbound inner lane, a slow bus in the outer lane and southbound traffic
// for any further participants. Participant 0 changes lanes mid-run.
package scenario

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/agent"
	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/path"
	"github.com/banshee-data/synchro/internal/terrain"
	"github.com/banshee-data/synchro/internal/vehicle"
)

// ErrUnknownScenario is returned by Lookup.
var ErrUnknownScenario = errors.New("scenario: unknown scenario")

// Lane centre lines (x, m) and extents of the highway.
const (
	NorthInnerX   = 2.8
	NorthOuterX   = 6.4
	SouthInnerX   = -2.8
	SouthOuterX   = -6.4
	laneLength    = 140.0
	roadHalfWidth = 8.2
	roadHalfSpan  = 400.0
)

// Options tune the highway scenario.
type Options struct {
	// SwitchAt is when participant 0 moves to the outer lane (s). Negative
	// disables the switch.
	SwitchAt      float64
	SpeedGains    driver.Gains
	SteeringGains driver.Gains
	LookAhead     float64
	FollowingTime float64
	MinDistance   float64
	Steps         vehicle.Steps
}

// DefaultOptions returns the demo's tuning.
func DefaultOptions() Options {
	return Options{
		SwitchAt:      6,
		SpeedGains:    driver.Gains{Kp: 0.4},
		SteeringGains: driver.Gains{Kp: 0.4, Ki: 0.1, Kd: 0.2},
		LookAhead:     5,
		FollowingTime: 1.2,
		MinDistance:   10,
	}
}

// Plan is the description of one participant's agent.
type Plan struct {
	Rank        int
	Model       vehicle.Model
	Placement   vehicle.Placement
	Lanes       []*path.Curve
	TargetSpeed float64
	Switches    []driver.Switch
}

// Terrain is the highway surface: an asphalt patch over a grass plane.
func Terrain() terrain.Terrain {
	t, err := terrain.NewRigid(terrain.Flat{Z: 0, Mu: 0.6}, terrain.Patch{
		Name: "highway",
		MinX: -roadHalfWidth, MaxX: roadHalfWidth,
		MinY: -roadHalfSpan, MaxY: roadHalfSpan,
		Mu: 0.9,
	})
	if err != nil {
		panic(err)
	}
	return t
}

func lane(from r3.Vec, dy float64) *path.Curve {
	return path.MustNew([]r3.Vec{from, r3.Add(from, r3.Vec{Y: dy})}, false)
}

// HighwayPlan returns the plan for one rank.
func HighwayPlan(rank int, opts Options) (Plan, error) {
	if rank < 0 {
		return Plan{}, fmt.Errorf("scenario: rank must be non-negative, got %d", rank)
	}
	p := Plan{Rank: rank, TargetSpeed: 10}
	north := math.Pi / 2
	switch rank {
	case 0:
		p.Model = vehicle.Sedan()
		p.Placement = vehicle.Placement{Position: r3.Vec{X: NorthInnerX, Y: -70, Z: 0.2}, Yaw: north}
	case 1:
		p.Model = vehicle.Sedan()
		p.Placement = vehicle.Placement{Position: r3.Vec{X: NorthInnerX, Y: -40, Z: 0.2}, Yaw: north}
	case 2:
		p.Model = vehicle.CityBus()
		p.Placement = vehicle.Placement{Position: r3.Vec{X: NorthOuterX, Y: 0, Z: 0.2}, Yaw: north}
		p.TargetSpeed = 6
	default:
		y := 70 - float64(rank-4)*30
		if rank%2 == 0 {
			p.Model = vehicle.Sedan()
			p.Placement = vehicle.Placement{Position: r3.Vec{X: SouthInnerX, Y: y, Z: 0.2}}
		} else {
			p.Model = vehicle.CityBus()
			p.Placement = vehicle.Placement{Position: r3.Vec{X: SouthOuterX, Y: y, Z: 0.2}}
		}
		p.Placement.Yaw = -north
	}
	p.Placement.Index = rank

	start := p.Placement.Position
	if rank < 3 {
		p.Lanes = []*path.Curve{lane(start, laneLength)}
	} else {
		p.Lanes = []*path.Curve{lane(start, -laneLength)}
	}
	if rank == 0 {
		p.Lanes = append(p.Lanes, path.MustNew([]r3.Vec{{X: NorthOuterX, Y: -70, Z: 0.2}, {X: NorthOuterX, Y: 70, Z: 0.2}}, false))
		if opts.SwitchAt >= 0 {
			p.Switches = []driver.Switch{{At: opts.SwitchAt, Index: 1}}
		}
	}
	return p, nil
}

// Build turns a plan into an agent driving on terr.
func (p Plan) Build(terr terrain.Terrain, opts Options) (*agent.Agent, error) {
	v, err := p.Model.Build(p.Placement, opts.Steps)
	if err != nil {
		return nil, fmt.Errorf("scenario rank %d: %w", p.Rank, err)
	}
	cfg := driver.Config{
		Paths:         p.Lanes,
		TargetSpeed:   p.TargetSpeed,
		FollowingTime: opts.FollowingTime,
		MinDistance:   opts.MinDistance,
		SpeedGains:    opts.SpeedGains,
		SteeringGains: opts.SteeringGains,
		LookAhead:     opts.LookAhead,
	}
	if len(p.Switches) > 0 {
		cfg.Trigger = driver.NewScheduledTrigger(p.Switches...)
	}
	d, err := driver.NewPathFollower(cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario rank %d: %w", p.Rank, err)
	}
	return agent.New(p.Model.Name, v, d, terr)
}

// Builder builds the local agent of one rank.
type Builder func(rank int, terr terrain.Terrain, opts Options) (*agent.Agent, error)

// Highway builds the highway agent for rank.
func Highway(rank int, terr terrain.Terrain, opts Options) (*agent.Agent, error) {
	p, err := HighwayPlan(rank, opts)
	if err != nil {
		return nil, err
	}
	return p.Build(terr, opts)
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, error) {
	switch name {
	case "", "highway":
		return Highway, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
}
