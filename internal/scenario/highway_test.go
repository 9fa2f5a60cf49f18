package scenario

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestHighwayPlans(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		rank  int
		model string
		pos   r3.Vec
		yaw   float64
		speed float64
		lanes int
	}{
		{0, "sedan", r3.Vec{X: 2.8, Y: -70, Z: 0.2}, math.Pi / 2, 10, 2},
		{1, "sedan", r3.Vec{X: 2.8, Y: -40, Z: 0.2}, math.Pi / 2, 10, 1},
		{2, "citybus", r3.Vec{X: 6.4, Y: 0, Z: 0.2}, math.Pi / 2, 6, 1},
		{3, "citybus", r3.Vec{X: -6.4, Y: 100, Z: 0.2}, -math.Pi / 2, 10, 1},
		{4, "sedan", r3.Vec{X: -2.8, Y: 70, Z: 0.2}, -math.Pi / 2, 10, 1},
		{5, "citybus", r3.Vec{X: -6.4, Y: 40, Z: 0.2}, -math.Pi / 2, 10, 1},
	}
	for _, tt := range tests {
		p, err := HighwayPlan(tt.rank, opts)
		require.NoError(t, err)
		assert.Equal(t, tt.model, p.Model.Name, "rank %d", tt.rank)
		assert.Equal(t, tt.pos, p.Placement.Position, "rank %d", tt.rank)
		assert.Equal(t, tt.rank, p.Placement.Index)
		assert.InDelta(t, tt.yaw, p.Placement.Yaw, 1e-12, "rank %d", tt.rank)
		assert.Equal(t, tt.speed, p.TargetSpeed, "rank %d", tt.rank)
		require.Len(t, p.Lanes, tt.lanes, "rank %d", tt.rank)

		// Lanes run the way the vehicle faces.
		c := p.Lanes[0]
		end := c.Eval(c.Segments()-1, 1)
		dir := r3.Sub(end, tt.pos)
		assert.Greater(t, dir.Y*math.Sin(tt.yaw), 0.0, "rank %d", tt.rank)
		assert.InDelta(t, 140, c.Length(), 1e-6)
	}

	_, err := HighwayPlan(-1, opts)
	assert.Error(t, err)
}

func TestRankZeroSwitchesLanes(t *testing.T) {
	opts := DefaultOptions()
	p, err := HighwayPlan(0, opts)
	require.NoError(t, err)
	require.Len(t, p.Switches, 1)
	assert.Equal(t, 6.0, p.Switches[0].At)
	assert.Equal(t, 1, p.Switches[0].Index)

	opts.SwitchAt = -1
	p, err = HighwayPlan(0, opts)
	require.NoError(t, err)
	assert.Empty(t, p.Switches)
}

func TestTerrain(t *testing.T) {
	terr := Terrain()
	assert.Equal(t, 0.9, terr.Friction(NorthInnerX, 10))
	assert.Equal(t, 0.6, terr.Friction(50, 10))
	assert.Equal(t, 0.0, terr.Height(0, 0))
}

func TestHighwayAgentChangesLane(t *testing.T) {
	opts := DefaultOptions()
	opts.SwitchAt = 0.5
	a, err := Highway(0, Terrain(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Index())
	assert.Equal(t, "sedan", a.Model())
	assert.Equal(t, 2, a.Driver().PathCount())

	for i := 0; i < 100; i++ {
		require.NoError(t, a.Advance(0.01))
		if a.Time() < 0.5-1e-9 {
			assert.Equal(t, 0, a.Driver().ActiveIndex(), "t=%.2f", a.Time())
		}
	}
	assert.Equal(t, 1, a.Driver().ActiveIndex())
	assert.Greater(t, a.Vehicle().Speed(), 0.5, "pulled away from rest")
	assert.Less(t, a.Snapshot().Steering, 0.0, "steers right towards x=6.4 while heading north")
}

func TestLookup(t *testing.T) {
	b, err := Lookup("highway")
	require.NoError(t, err)
	a, err := b(2, Terrain(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "citybus", a.Model())

	_, err = Lookup("roundabout")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
