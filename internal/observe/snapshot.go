// Package observe carries read-only per-tick snapshots from the tick loop to
// optional collaborators such as recorders, reports and live viewers.
// Observers receive value copies after the Update phase; nothing they do can
// reach back into simulation state.
package observe

// AgentSnapshot is the state of one locally owned agent after a tick.
type AgentSnapshot struct {
	Index        int
	Model        string
	Time         float64
	Position     [3]float64
	Orientation  [4]float64
	Velocity     [3]float64
	Speed        float64
	Yaw          float64
	Steering     float64
	Throttle     float64
	Braking      float64
	Acceleration float64
	ActivePath   int
	LeadDistance float64
	LeadTracked  bool
	Gear         int
	MotorSpeed   float64
}

// ProxySnapshot is the last known state of a remote agent.
type ProxySnapshot struct {
	Index      int
	Rank       int
	Time       float64
	Position   [3]float64
	Velocity   [3]float64
	Stale      bool
	StaleTicks int
}

// Snapshot is everything one participant knows at the end of a tick.
type Snapshot struct {
	Tick    uint64
	Time    float64
	Rank    int
	Agents  []AgentSnapshot
	Proxies []ProxySnapshot
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	s.Agents = append([]AgentSnapshot(nil), s.Agents...)
	s.Proxies = append([]ProxySnapshot(nil), s.Proxies...)
	return s
}

// Observer receives one snapshot per tick. Implementations must not block
// for long; slow consumers should sit behind a Publisher.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// Observe implements Observer.
func (f ObserverFunc) Observe(s Snapshot) { f(s) }
