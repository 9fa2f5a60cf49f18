// Package driver implements the adaptive cruise control path follower: a
// steering loop that tracks one of several reference paths and a speed loop
// that tracks a target speed or backs off behind a lead vehicle.
package driver

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/path"
)

var (
	// ErrPathIndex reports a path index outside the follower's path list.
	ErrPathIndex = errors.New("driver: path index out of range")
	// ErrInvalidConfig reports an unusable follower configuration.
	ErrInvalidConfig = errors.New("driver: invalid configuration")
)

// Mode is the follower's path mode.
type Mode int

const (
	SinglePath Mode = iota
	MultiPath
)

func (m Mode) String() string {
	if m == MultiPath {
		return "multi-path"
	}
	return "single-path"
}

// Kinematics is the own-vehicle state the driver reads each step.
type Kinematics struct {
	Position r3.Vec
	Forward  r3.Vec // unit heading
	Speed    float64
}

// Inputs are the conditioned driver commands.
type Inputs struct {
	Steering float64 // [-1, 1], positive left
	Throttle float64 // [0, 1]
	Braking  float64 // [0, 1]
}

// PathTrigger decides when a multi-path follower switches paths.
type PathTrigger interface {
	// Next returns the path to switch to at time, if any.
	Next(time float64, active int) (index int, ok bool)
}

// Switch is one scheduled path change.
type Switch struct {
	At    float64 `json:"at" yaml:"at"`
	Index int     `json:"index" yaml:"index"`
}

// ScheduledTrigger fires each Switch once, in time order.
type ScheduledTrigger struct {
	switches []Switch
	next     int
}

// NewScheduledTrigger sorts the switches by time.
func NewScheduledTrigger(switches ...Switch) *ScheduledTrigger {
	s := append([]Switch(nil), switches...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].At < s[j].At })
	return &ScheduledTrigger{switches: s}
}

// Next implements PathTrigger.
func (t *ScheduledTrigger) Next(time float64, active int) (int, bool) {
	if t.next >= len(t.switches) || time < t.switches[t.next].At {
		return 0, false
	}
	sw := t.switches[t.next]
	t.next++
	return sw.Index, true
}

func (t *ScheduledTrigger) validate(paths int) error {
	for _, sw := range t.switches {
		if sw.Index < 0 || sw.Index >= paths {
			return fmt.Errorf("%w: scheduled switch at t=%g to path %d, have %d paths", ErrPathIndex, sw.At, sw.Index, paths)
		}
	}
	return nil
}

// Config describes a PathFollower.
type Config struct {
	Paths         []*path.Curve
	InitialPath   int
	TargetSpeed   float64 // m/s
	FollowingTime float64 // s
	MinDistance   float64 // m
	SpeedGains    Gains
	SteeringGains Gains
	LookAhead     float64 // m
	Trigger       PathTrigger
}

// PathFollower is the ACC driver. It is owned by a single agent and is not
// safe for concurrent use.
type PathFollower struct {
	paths         []*path.Curve
	active        int
	targetSpeed   float64
	followingTime float64
	minDistance   float64
	trigger       PathTrigger

	steering *SteeringController
	speed    *SpeedController

	lead     Lead
	inputs   Inputs
	lastTime float64
	started  bool
}

// NewPathFollower validates cfg. The follower runs in MultiPath mode when it
// holds more than one path.
func NewPathFollower(cfg Config) (*PathFollower, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("%w: at least one path is required", ErrInvalidConfig)
	}
	for i, p := range cfg.Paths {
		if p == nil {
			return nil, fmt.Errorf("%w: path %d is nil", ErrInvalidConfig, i)
		}
	}
	if cfg.InitialPath < 0 || cfg.InitialPath >= len(cfg.Paths) {
		return nil, fmt.Errorf("%w: initial path %d, have %d paths", ErrPathIndex, cfg.InitialPath, len(cfg.Paths))
	}
	var errs []error
	if cfg.TargetSpeed < 0 {
		errs = append(errs, fmt.Errorf("target speed must be non-negative, got %g", cfg.TargetSpeed))
	}
	if cfg.FollowingTime < 0 {
		errs = append(errs, fmt.Errorf("following time must be non-negative, got %g", cfg.FollowingTime))
	}
	if cfg.MinDistance < 0 {
		errs = append(errs, fmt.Errorf("minimum distance must be non-negative, got %g", cfg.MinDistance))
	}
	if cfg.LookAhead < 0 {
		errs = append(errs, fmt.Errorf("look-ahead must be non-negative, got %g", cfg.LookAhead))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	if st, ok := cfg.Trigger.(*ScheduledTrigger); ok {
		if err := st.validate(len(cfg.Paths)); err != nil {
			return nil, err
		}
	}
	return &PathFollower{
		paths:         append([]*path.Curve(nil), cfg.Paths...),
		active:        cfg.InitialPath,
		targetSpeed:   cfg.TargetSpeed,
		followingTime: cfg.FollowingTime,
		minDistance:   cfg.MinDistance,
		trigger:       cfg.Trigger,
		steering:      NewSteeringController(cfg.SteeringGains, cfg.LookAhead),
		speed:         NewSpeedController(cfg.SpeedGains),
	}, nil
}

// Mode reports SinglePath or MultiPath.
func (f *PathFollower) Mode() Mode {
	if len(f.paths) > 1 {
		return MultiPath
	}
	return SinglePath
}

// Synchronize computes the driver inputs for the vehicle state at time.
// Steering is computed first, then speed; in MultiPath mode the trigger is
// evaluated last so a switch takes effect from the next call.
func (f *PathFollower) Synchronize(time float64, kin Kinematics, lead Lead) Inputs {
	var dt float64
	if f.started {
		dt = math.Max(0, time-f.lastTime)
	}
	f.lastTime, f.started = time, true
	f.lead = lead

	steer := f.steering.Advance(f.paths[f.active], kin.Position, kin.Forward, dt)
	cmd := f.speed.Advance(f.targetSpeed, kin.Speed, lead, f.DesiredGap(), dt)
	f.inputs = Inputs{
		Steering: steer,
		Throttle: clamp(cmd, 0, 1),
		Braking:  clamp(-cmd, 0, 1),
	}

	if f.Mode() == MultiPath && f.trigger != nil {
		if idx, ok := f.trigger.Next(time, f.active); ok {
			if err := f.ChangePath(idx); err != nil {
				monitoring.Logf("[driver] ignoring path trigger at t=%.3f: %v", time, err)
			}
		}
	}
	return f.inputs
}

// ChangePath makes index the active path. An out-of-range index fails with
// ErrPathIndex and changes nothing; the active index is a no-op. Switching
// resets the steering memory only.
func (f *PathFollower) ChangePath(index int) error {
	if index < 0 || index >= len(f.paths) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrPathIndex, index, len(f.paths))
	}
	if index == f.active {
		return nil
	}
	monitoring.Debugf("[driver] path %d -> %d", f.active, index)
	f.active = index
	f.steering.Reset()
	return nil
}

// DesiredGap is max(MinDistance, TargetSpeed * FollowingTime).
func (f *PathFollower) DesiredGap() float64 {
	return math.Max(f.minDistance, f.targetSpeed*f.followingTime)
}

// SetTargetSpeed changes the cruise speed.
func (f *PathFollower) SetTargetSpeed(v float64) { f.targetSpeed = math.Max(0, v) }

// SetFollowing changes the following time gap and minimum distance.
func (f *PathFollower) SetFollowing(timeGap, minDistance float64) {
	f.followingTime = math.Max(0, timeGap)
	f.minDistance = math.Max(0, minDistance)
}

func (f *PathFollower) TargetSpeed() float64 { return f.targetSpeed }
func (f *PathFollower) Inputs() Inputs       { return f.inputs }
func (f *PathFollower) Lead() Lead           { return f.lead }
func (f *PathFollower) ActiveIndex() int     { return f.active }
func (f *PathFollower) PathCount() int       { return len(f.paths) }

// ActivePath returns the curve being followed.
func (f *PathFollower) ActivePath() *path.Curve { return f.paths[f.active] }

// Path returns the curve at index i.
func (f *PathFollower) Path(i int) (*path.Curve, error) {
	if i < 0 || i >= len(f.paths) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrPathIndex, i, len(f.paths))
	}
	return f.paths[i], nil
}

// Acceleration is the last longitudinal command before clamping: positive
// for throttle, negative for braking.
func (f *PathFollower) Acceleration() float64 { return f.speed.Command() }

// Steering exposes the steering controller for diagnostics.
func (f *PathFollower) Steering() *SteeringController { return f.steering }

// Speed exposes the speed controller for diagnostics.
func (f *PathFollower) Speed() *SpeedController { return f.speed }
