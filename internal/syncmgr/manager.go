// Package syncmgr runs the per-participant tick loop: advance the local
// agents, exchange state records with every other participant, then update
// proxies, lead tracking and observers. Every participant stops on the same
// tick because stop votes travel with the exchanged envelopes.
package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/synchro/internal/agent"
	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/observe"
	"github.com/banshee-data/synchro/internal/timeutil"
	"github.com/banshee-data/synchro/internal/transport"
	"github.com/banshee-data/synchro/internal/wire"
)

var (
	ErrInvalidConfig = errors.New("syncmgr: invalid configuration")
	// ErrUnknownAgent reports a control request for an agent this
	// participant does not own.
	ErrUnknownAgent = errors.New("syncmgr: unknown local agent")
	// ErrTerminated is returned when Run is called on a finished manager.
	ErrTerminated = errors.New("syncmgr: manager already terminated")
	// ErrAborted wraps the cause of an aborted run.
	ErrAborted = errors.New("syncmgr: run aborted")
)

// State is the tick-loop phase.
type State int32

const (
	Idle State = iota
	Advancing
	Exchanging
	Updating
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Advancing:
		return "advancing"
	case Exchanging:
		return "exchanging"
	case Updating:
		return "updating"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Status is how a run ended.
type Status int

const (
	// Completed runs reached their tick limit or wall budget.
	Completed Status = iota
	// Stopped runs ended on an external stop request or cancellation.
	Stopped
	// Aborted runs ended on a failure.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// stopReason is carried in wire.Envelope.Stop. Higher values win when votes
// are combined.
type stopReason uint32

const (
	stopNone stopReason = iota
	stopTickLimit
	stopBudget
	stopExternal
	stopAbort
)

func (r stopReason) String() string {
	switch r {
	case stopNone:
		return "none"
	case stopTickLimit:
		return "tick limit"
	case stopBudget:
		return "wall-clock budget"
	case stopExternal:
		return "stop requested"
	case stopAbort:
		return "participant failure"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

func (r stopReason) status() Status {
	switch r {
	case stopExternal:
		return Stopped
	case stopAbort:
		return Aborted
	default:
		return Completed
	}
}

// Result summarises a finished run.
type Result struct {
	Status Status
	Reason string
	// Ticks is the number of completed ticks.
	Ticks uint64
	// Time is the simulation time reached.
	Time float64
	// StaleEvents counts (tick, participant) pairs served from stale state.
	StaleEvents int
	Wall        time.Duration
	Err         error
}

// Proxy is the last known state of a remote agent.
type Proxy struct {
	Rank       int
	Record     wire.Record
	LastTick   uint64
	Stale      bool
	StaleTicks int
}

type pathChange struct {
	agent int
	path  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the wall clock used for the run budget.
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the local agents and the proxy table of one participant.
type Manager struct {
	cfg       Config
	transport transport.Transport
	locals    []*agent.Agent
	byIndex   map[int]*agent.Agent
	clock     timeutil.Clock
	observers []observe.Observer

	state    atomic.Int32
	tick     atomic.Uint64
	stopReq  atomic.Bool
	running  atomic.Bool
	mu       sync.Mutex // guards proxies, pending and rankMiss
	proxies  map[int]*Proxy
	pending  []pathChange
	rankMiss map[int]int

	staleEvents int
}

// New validates cfg and binds the local agents to a transport.
func New(cfg Config, tr transport.Transport, locals []*agent.Agent, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	m := &Manager{
		cfg:       cfg,
		transport: tr,
		locals:    append([]*agent.Agent(nil), locals...),
		byIndex:   make(map[int]*agent.Agent, len(locals)),
		clock:     timeutil.RealClock{},
		proxies:   make(map[int]*Proxy),
		rankMiss:  make(map[int]int),
	}
	for _, a := range locals {
		if a == nil {
			return nil, fmt.Errorf("%w: nil agent", ErrInvalidConfig)
		}
		if _, dup := m.byIndex[a.Index()]; dup {
			return nil, fmt.Errorf("%w: duplicate agent index %d", ErrInvalidConfig, a.Index())
		}
		m.byIndex[a.Index()] = a
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Subscribe adds an observer. Observers are notified in subscription order
// at the end of every tick. Subscribe before Run.
func (m *Manager) Subscribe(o observe.Observer) {
	m.observers = append(m.observers, o)
}

// State returns the current phase.
func (m *Manager) State() State { return State(m.state.Load()) }

// Tick returns the number of completed ticks.
func (m *Manager) Tick() uint64 { return m.tick.Load() }

// Locals returns the local agents.
func (m *Manager) Locals() []*agent.Agent { return append([]*agent.Agent(nil), m.locals...) }

// RequestStop asks every participant to stop. The vote goes out with the
// next exchange; the in-flight exchange always completes first.
func (m *Manager) RequestStop() {
	if !m.stopReq.Swap(true) {
		monitoring.Logf("[syncmgr] rank %d: stop requested", m.transport.Rank())
	}
}

// ChangePath queues a path switch for a local agent. The index is checked
// now; the switch happens at the next tick boundary.
func (m *Manager) ChangePath(agentIndex, pathIndex int) error {
	a, ok := m.byIndex[agentIndex]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, agentIndex)
	}
	if pathIndex < 0 || pathIndex >= a.Driver().PathCount() {
		return fmt.Errorf("%w: agent %d path %d, have %d paths", driver.ErrPathIndex, agentIndex, pathIndex, a.Driver().PathCount())
	}
	m.mu.Lock()
	m.pending = append(m.pending, pathChange{agent: agentIndex, path: pathIndex})
	m.mu.Unlock()
	return nil
}

// Proxies returns a copy of the proxy table ordered by agent index.
func (m *Manager) Proxies() []Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.Index < out[j].Record.Index })
	return out
}

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

// Run drives the tick loop until every participant agrees to stop. A run
// that ends in Aborted also returns an error wrapping ErrAborted.
//
// Under UseStale a participant can miss the envelope carrying a peer's stop
// vote. The vote is still honoured when that envelope turns up on a later
// tick, so the run ends with the same status but a few ticks later than the
// peer's. If it never turns up, the silent peer escalates to an abort once it
// has been stale for more than MaxStaleTicks.
func (m *Manager) Run(ctx context.Context) (Result, error) {
	if m.State() == Terminated {
		return Result{}, ErrTerminated
	}
	if !m.running.CompareAndSwap(false, true) {
		return Result{}, errors.New("syncmgr: Run already in progress")
	}
	defer m.setState(Terminated)

	rank := m.transport.Rank()
	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	err := m.transport.Handshake(hctx, wire.LayoutFingerprint)
	cancel()
	if err != nil {
		return Result{Status: Aborted, Reason: "handshake failed", Err: err}, fmt.Errorf("%w: rank %d handshake: %w", ErrAborted, rank, err)
	}
	monitoring.Logf("[syncmgr] rank %d/%d: %d local agents, heartbeat %gs, stale policy %s",
		rank, m.transport.Size(), len(m.locals), m.cfg.Heartbeat, m.cfg.StalePolicy)

	start := m.clock.Now()
	var cause error
	for {
		tick := m.tick.Load() + 1
		m.applyPathChanges()

		m.setState(Advancing)
		vote := stopNone
		if err := m.advance(ctx); err != nil {
			cause = err
			vote = stopAbort
			monitoring.Logf("[syncmgr] rank %d tick %d: advance failed: %v", rank, tick, err)
		}
		vote = max(vote, m.localVote(ctx, tick, start))

		m.setState(Exchanging)
		env := wire.Envelope{Tick: tick, Rank: rank, Stop: uint32(vote), Records: m.records()}
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ExchangeTimeout)
		received, err := m.transport.Exchange(xctx, env)
		cancel()

		m.setState(Updating)
		if xerr := m.absorb(tick, received, err); xerr != nil {
			if cause == nil {
				cause = xerr
			}
			vote = stopAbort
		}
		for _, e := range received {
			vote = max(vote, stopReason(e.Stop))
		}
		var missing *transport.MissingError
		if errors.As(err, &missing) && missing.LateStop != 0 {
			monitoring.Logf("[syncmgr] rank %d tick %d: late stop vote %s", rank, tick, stopReason(missing.LateStop))
			vote = max(vote, stopReason(missing.LateStop))
		}
		m.updateLeads()
		m.tick.Store(tick)
		m.notify(tick)

		if vote != stopNone {
			res := Result{
				Status:      vote.status(),
				Reason:      vote.String(),
				Ticks:       tick,
				Time:        m.simTime(tick),
				StaleEvents: m.staleEvents,
				Wall:        m.clock.Since(start),
				Err:         cause,
			}
			monitoring.Logf("[syncmgr] rank %d: %s after %d ticks (t=%.3fs): %s",
				rank, res.Status, res.Ticks, res.Time, res.Reason)
			if res.Status == Aborted {
				if cause == nil {
					cause = errors.New("a peer aborted")
				}
				return res, fmt.Errorf("%w: %w", ErrAborted, cause)
			}
			return res, nil
		}
	}
}

func (m *Manager) simTime(tick uint64) float64 {
	return float64(tick) * m.cfg.Heartbeat
}

func (m *Manager) applyPathChanges() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := m.byIndex[c.agent].ChangePath(c.path); err != nil {
			monitoring.Logf("[syncmgr] agent %d: %v", c.agent, err)
		}
	}
}

// advance runs every local agent for one heartbeat. Agents share nothing
// mutable, so they run in parallel.
func (m *Manager) advance(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, a := range m.locals {
		g.Go(func() error { return a.Advance(m.cfg.Heartbeat) })
	}
	return g.Wait()
}

func (m *Manager) localVote(ctx context.Context, tick uint64, start time.Time) stopReason {
	switch {
	case m.stopReq.Load() || ctx.Err() != nil:
		return stopExternal
	case m.cfg.WallBudget > 0 && m.clock.Since(start) >= m.cfg.WallBudget:
		return stopBudget
	case m.cfg.TickLimit > 0 && tick >= m.cfg.TickLimit:
		return stopTickLimit
	default:
		return stopNone
	}
}

func (m *Manager) records() []wire.Record {
	out := make([]wire.Record, len(m.locals))
	for i, a := range m.locals {
		out[i] = a.Record()
	}
	return out
}

// absorb refreshes proxies from the received envelopes and applies the
// stale policy to participants that missed the deadline.
func (m *Manager) absorb(tick uint64, received []wire.Envelope, xerr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range received {
		m.rankMiss[env.Rank] = 0
		for _, r := range env.Records {
			idx := int(r.Index)
			if _, local := m.byIndex[idx]; local {
				monitoring.Logf("[syncmgr] rank %d claims local agent %d; ignoring", env.Rank, idx)
				continue
			}
			m.proxies[idx] = &Proxy{Rank: env.Rank, Record: r, LastTick: tick}
		}
	}
	if xerr == nil {
		return nil
	}

	var missing *transport.MissingError
	if !errors.As(xerr, &missing) {
		return fmt.Errorf("tick %d exchange: %w", tick, xerr)
	}
	if m.cfg.StalePolicy == Abort {
		return fmt.Errorf("tick %d: %w", tick, xerr)
	}
	var escalate []int
	for _, r := range missing.Ranks {
		m.rankMiss[r]++
		m.staleEvents++
		for _, p := range m.proxies {
			if p.Rank == r {
				p.Stale = true
				p.StaleTicks = m.rankMiss[r]
			}
		}
		if m.rankMiss[r] > m.cfg.MaxStaleTicks {
			escalate = append(escalate, r)
		}
	}
	monitoring.Logf("[syncmgr] rank %d tick %d: using stale state for ranks %v", m.transport.Rank(), tick, missing.Ranks)
	if len(escalate) > 0 {
		return fmt.Errorf("tick %d: ranks %v stale for more than %d ticks: %w", tick, escalate, m.cfg.MaxStaleTicks, xerr)
	}
	return nil
}

// updateLeads recomputes every local agent's lead: the nearest other
// vehicle ahead on its active path, by path distance, among vehicles within
// LaneTolerance of that path.
func (m *Manager) updateLeads() {
	type candidate struct {
		index int
		pos   [3]float64
	}
	var others []candidate
	for _, a := range m.locals {
		others = append(others, candidate{a.Index(), a.Record().Position})
	}
	m.mu.Lock()
	for idx, p := range m.proxies {
		others = append(others, candidate{idx, p.Record.Position})
	}
	m.mu.Unlock()

	for _, a := range m.locals {
		c := a.Driver().ActivePath()
		self := c.Project(a.Vehicle().Pose().Position).S
		best := math.Inf(1)
		for _, o := range others {
			if o.index == a.Index() {
				continue
			}
			proj := c.Project(vec(o.pos))
			if proj.Distance > m.cfg.LaneTolerance {
				continue
			}
			if d := c.Ahead(self, proj.S); d > 0 && d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) {
			a.SetLead(driver.NoLead)
		} else {
			a.SetLead(driver.Lead{Distance: best, Tracked: true})
		}
	}
}

func (m *Manager) notify(tick uint64) {
	if len(m.observers) == 0 {
		return
	}
	snap := observe.Snapshot{Tick: tick, Time: m.simTime(tick), Rank: m.transport.Rank()}
	for _, a := range m.locals {
		snap.Agents = append(snap.Agents, a.Snapshot())
	}
	for _, p := range m.Proxies() {
		snap.Proxies = append(snap.Proxies, observe.ProxySnapshot{
			Index:      int(p.Record.Index),
			Rank:       p.Rank,
			Time:       p.Record.Time,
			Position:   p.Record.Position,
			Velocity:   p.Record.Velocity,
			Stale:      p.Stale,
			StaleTicks: p.StaleTicks,
		})
	}
	for _, o := range m.observers {
		o.Observe(snap.Clone())
	}
}
