package testutil

import (
	"testing"

	"github.com/banshee-data/synchro/internal/observe"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestLaneIsStraight(t *testing.T) {
	t.Parallel()
	c := Lane(3.5, 500)
	if c.Closed() {
		t.Fatal("lane should be open")
	}
	for _, x := range []float64{-50, 0, 120, 480} {
		p := c.Project(vecAt(x, 3.5))
		if p.Distance > 1e-6 {
			t.Errorf("x=%g: distance from lane = %g", x, p.Distance)
		}
	}
}

func TestNewAgent(t *testing.T) {
	t.Parallel()
	a := NewAgent(t, AgentSpec{Index: 4, X: 10, Y: 3.5, Speed: 12, TargetSpeed: 12})
	if a.Index() != 4 {
		t.Errorf("Index = %d, want 4", a.Index())
	}
	if got := a.Vehicle().Speed(); got != 12 {
		t.Errorf("Speed = %g, want 12", got)
	}
	if a.Driver().PathCount() != 1 {
		t.Errorf("PathCount = %d, want 1", a.Driver().PathCount())
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	var r Recorder
	var hooked []uint64
	r.OnTick(func(s observe.Snapshot) { hooked = append(hooked, s.Tick) })

	r.Observe(observe.Snapshot{Tick: 1, Agents: []observe.AgentSnapshot{{Index: 0}, {Index: 1, Speed: 3}}})
	r.Observe(observe.Snapshot{Tick: 2, Agents: []observe.AgentSnapshot{{Index: 1, Speed: 4}}})

	if len(r.Snapshots()) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(r.Snapshots()))
	}
	if len(hooked) != 2 || hooked[1] != 2 {
		t.Errorf("hook saw ticks %v", hooked)
	}
	got := r.Agent(1)
	if len(got) != 2 || got[0].Speed != 3 || got[1].Speed != 4 {
		t.Errorf("Agent(1) = %+v", got)
	}
}
