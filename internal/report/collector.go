// Package report turns observed snapshots into per-agent time series and
// renders them as PNG plots or an interactive HTML page.
package report

import (
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/synchro/internal/observe"
)

// Sample is one agent's state at one recorded tick.
type Sample struct {
	Time         float64
	X, Y         float64
	Speed        float64
	Steering     float64
	Acceleration float64
	// Gap is the lead distance, NaN while nothing is tracked.
	Gap        float64
	ActivePath int
}

// Series is the recorded history of one agent.
type Series struct {
	Index   int
	Model   string
	Samples []Sample
}

// Collector gathers series from snapshots. It implements observe.Observer.
type Collector struct {
	every uint64

	mu     sync.Mutex
	series map[int]*Series
}

// NewCollector keeps every Nth tick; every < 1 keeps all of them.
func NewCollector(every int) *Collector {
	if every < 1 {
		every = 1
	}
	return &Collector{every: uint64(every), series: make(map[int]*Series)}
}

// Observe implements observe.Observer.
func (c *Collector) Observe(snap observe.Snapshot) {
	if snap.Tick%c.every != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range snap.Agents {
		s, ok := c.series[a.Index]
		if !ok {
			s = &Series{Index: a.Index, Model: a.Model}
			c.series[a.Index] = s
		}
		gap := math.NaN()
		if a.LeadTracked {
			gap = a.LeadDistance
		}
		s.Samples = append(s.Samples, Sample{
			Time:         a.Time,
			X:            a.Position[0],
			Y:            a.Position[1],
			Speed:        a.Speed,
			Steering:     a.Steering,
			Acceleration: a.Acceleration,
			Gap:          gap,
			ActivePath:   a.ActivePath,
		})
	}
}

// Series returns a copy of every agent's series, ordered by agent index.
func (c *Collector) Series() []Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Series, 0, len(c.series))
	for _, s := range c.series {
		cp := *s
		cp.Samples = append([]Sample(nil), s.Samples...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
