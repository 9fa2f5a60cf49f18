package syncmgr

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// StalePolicy decides what happens when a participant's envelope misses
// the exchange deadline.
type StalePolicy int

const (
	// Abort ends the run on the first missing envelope.
	Abort StalePolicy = iota
	// UseStale keeps the last known proxy state, flagged stale, until
	// MaxStaleTicks consecutive misses.
	UseStale
)

func (p StalePolicy) String() string {
	switch p {
	case Abort:
		return "abort"
	case UseStale:
		return "use-stale"
	default:
		return fmt.Sprintf("StalePolicy(%d)", int(p))
	}
}

// ParseStalePolicy accepts "abort" or "use-stale".
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "":
		return Abort, nil
	case "use-stale", "usestale", "stale":
		return UseStale, nil
	default:
		return Abort, fmt.Errorf("unknown stale policy %q (want abort or use-stale)", s)
	}
}

// Config controls the tick loop.
type Config struct {
	// Heartbeat is the simulation time each tick advances (s).
	Heartbeat float64
	// TickLimit ends the run after this many ticks. Zero means no limit.
	TickLimit uint64
	// WallBudget ends the run once this much wall time has passed. Zero
	// means no budget.
	WallBudget time.Duration
	// HandshakeTimeout bounds the wait for all participants to join.
	HandshakeTimeout time.Duration
	// ExchangeTimeout bounds each exchange barrier.
	ExchangeTimeout time.Duration
	StalePolicy     StalePolicy
	// MaxStaleTicks is how many consecutive missed ticks a participant may
	// accumulate under UseStale before the run aborts.
	MaxStaleTicks int
	// LaneTolerance is the largest lateral offset (m) from the active path
	// at which another vehicle counts as a lead candidate.
	LaneTolerance float64
}

// DefaultConfig returns the defaults used by the command line.
func DefaultConfig() Config {
	return Config{
		Heartbeat:        1e-2,
		HandshakeTimeout: 30 * time.Second,
		ExchangeTimeout:  5 * time.Second,
		StalePolicy:      Abort,
		MaxStaleTicks:    10,
		LaneTolerance:    1.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if !(c.Heartbeat > 0) || math.IsInf(c.Heartbeat, 0) {
		errs = append(errs, fmt.Errorf("heartbeat must be positive, got %g", c.Heartbeat))
	}
	if c.WallBudget < 0 {
		errs = append(errs, fmt.Errorf("wall budget must be non-negative, got %s", c.WallBudget))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake timeout must be positive, got %s", c.HandshakeTimeout))
	}
	if c.ExchangeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("exchange timeout must be positive, got %s", c.ExchangeTimeout))
	}
	if c.StalePolicy != Abort && c.StalePolicy != UseStale {
		errs = append(errs, fmt.Errorf("unknown stale policy %d", int(c.StalePolicy)))
	}
	if c.MaxStaleTicks < 0 {
		errs = append(errs, fmt.Errorf("max stale ticks must be non-negative, got %d", c.MaxStaleTicks))
	}
	if c.LaneTolerance < 0 {
		errs = append(errs, fmt.Errorf("lane tolerance must be non-negative, got %g", c.LaneTolerance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
