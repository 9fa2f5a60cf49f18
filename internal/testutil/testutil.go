// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/agent"
	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/observe"
	"github.com/banshee-data/synchro/internal/path"
	"github.com/banshee-data/synchro/internal/terrain"
	"github.com/banshee-data/synchro/internal/vehicle"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Lane returns a straight open path along +X at lateral offset y, from
// x=-100 to x=length.
func Lane(y, length float64) *path.Curve {
	return path.MustNew([]r3.Vec{vecAt(-100, y), vecAt(length/2, y), vecAt(length, y)}, false)
}

// AgentSpec describes a fixture agent driving along +X.
type AgentSpec struct {
	Index       int
	X, Y        float64
	Speed       float64
	TargetSpeed float64
	// MinDistance is the smallest following gap. Zero means 12 m.
	MinDistance float64
	// Lanes are the driver's paths. Nil means a single lane at Y.
	Lanes []*path.Curve
}

// NewAgent builds a sedan agent with the gains used across the tests.
func NewAgent(t testing.TB, s AgentSpec) *agent.Agent {
	t.Helper()
	v, err := vehicle.Sedan().Build(vehicle.Placement{
		Index:    s.Index,
		Position: r3.Vec{X: s.X, Y: s.Y},
		Yaw:      0,
		Speed:    s.Speed,
	}, vehicle.Steps{})
	AssertNoError(t, err)
	minDistance := s.MinDistance
	if minDistance == 0 {
		minDistance = 12
	}
	lanes := s.Lanes
	if lanes == nil {
		lanes = []*path.Curve{Lane(s.Y, 2000)}
	}
	d, err := driver.NewPathFollower(driver.Config{
		Paths:         lanes,
		TargetSpeed:   s.TargetSpeed,
		FollowingTime: 1.2,
		MinDistance:   minDistance,
		SpeedGains:    driver.Gains{Kp: 0.4, Ki: 0.02},
		SteeringGains: driver.Gains{Kp: 0.4, Ki: 0.05, Kd: 0.1},
		LookAhead:     math.Max(5, s.Speed*0.5),
	})
	AssertNoError(t, err)
	a, err := agent.New("sedan", v, d, terrain.Flat{Mu: 0.9})
	AssertNoError(t, err)
	return a
}

// Recorder is an observe.Observer that keeps every snapshot. Hooks run
// synchronously inside Observe, before the snapshot is stored.
type Recorder struct {
	mu    sync.Mutex
	snaps []observe.Snapshot
	hooks []func(observe.Snapshot)
}

// OnTick registers fn to run for every observed snapshot.
func (r *Recorder) OnTick(fn func(observe.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Observe implements observe.Observer.
func (r *Recorder) Observe(s observe.Snapshot) {
	r.mu.Lock()
	hooks := append([]func(observe.Snapshot){}, r.hooks...)
	r.mu.Unlock()
	for _, h := range hooks {
		h(s)
	}
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

// Snapshots returns a copy of what has been observed so far.
func (r *Recorder) Snapshots() []observe.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observe.Snapshot(nil), r.snaps...)
}

// Agent returns the snapshots of one agent, in tick order.
func (r *Recorder) Agent(index int) []observe.AgentSnapshot {
	var out []observe.AgentSnapshot
	for _, s := range r.Snapshots() {
		for _, a := range s.Agents {
			if a.Index == index {
				out = append(out, a)
			}
		}
	}
	return out
}

func vecAt(x, y float64) r3.Vec { return r3.Vec{X: x, Y: y} }
