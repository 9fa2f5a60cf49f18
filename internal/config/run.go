package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/synchro/internal/driver"
	"github.com/banshee-data/synchro/internal/scenario"
	"github.com/banshee-data/synchro/internal/syncmgr"
	"github.com/banshee-data/synchro/internal/vehicle"
)

// DefaultConfigPath is where the command line looks when --config is not
// given.
const DefaultConfigPath = "config/synchro.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RunConfig is the run configuration. Every field is optional; the Get*
// methods supply defaults for anything left unset, so partial files are
// safe.
type RunConfig struct {
	Scenario     *string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Participants *int    `json:"participants,omitempty" yaml:"participants,omitempty"`

	// Tick loop
	Heartbeat        *float64 `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"` // s
	EndTime          *float64 `json:"end_time,omitempty" yaml:"end_time,omitempty"`   // s of simulation time, 0 = unbounded
	WallBudget       *string  `json:"wall_budget,omitempty" yaml:"wall_budget,omitempty"`
	HandshakeTimeout *string  `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`
	ExchangeTimeout  *string  `json:"exchange_timeout,omitempty" yaml:"exchange_timeout,omitempty"`
	StalePolicy      *string  `json:"stale_policy,omitempty" yaml:"stale_policy,omitempty"`
	MaxStaleTicks    *int     `json:"max_stale_ticks,omitempty" yaml:"max_stale_ticks,omitempty"`
	LaneTolerance    *float64 `json:"lane_tolerance,omitempty" yaml:"lane_tolerance,omitempty"`

	// Integration steps
	VehicleStep *float64 `json:"vehicle_step,omitempty" yaml:"vehicle_step,omitempty"`
	TireStep    *float64 `json:"tire_step,omitempty" yaml:"tire_step,omitempty"`

	// Driver tuning
	SwitchAt      *float64      `json:"switch_at,omitempty" yaml:"switch_at,omitempty"`
	SpeedGains    *driver.Gains `json:"speed_gains,omitempty" yaml:"speed_gains,omitempty"`
	SteeringGains *driver.Gains `json:"steering_gains,omitempty" yaml:"steering_gains,omitempty"`
	LookAhead     *float64      `json:"look_ahead,omitempty" yaml:"look_ahead,omitempty"`
	FollowingTime *float64      `json:"following_time,omitempty" yaml:"following_time,omitempty"`
	MinDistance   *float64      `json:"min_distance,omitempty" yaml:"min_distance,omitempty"`

	// Outputs
	Database    *string `json:"database,omitempty" yaml:"database,omitempty"`
	RecordEvery *int    `json:"record_every,omitempty" yaml:"record_every,omitempty"`
	ReportDir   *string `json:"report_dir,omitempty" yaml:"report_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields set to nil.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseDuration(name string, v *string) (time.Duration, error) {
	if v == nil || *v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %s", name, d)
	}
	return d, nil
}

func positive(name string, v *float64) error {
	if v != nil && (!(*v > 0) || math.IsInf(*v, 0)) {
		return fmt.Errorf("%s must be positive, got %g", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	var errs []error
	if c.Scenario != nil {
		if _, err := scenario.Lookup(*c.Scenario); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Participants != nil && *c.Participants < 1 {
		errs = append(errs, fmt.Errorf("participants must be at least 1, got %d", *c.Participants))
	}
	errs = append(errs,
		positive("heartbeat", c.Heartbeat),
		positive("vehicle_step", c.VehicleStep),
		positive("tire_step", c.TireStep),
		positive("look_ahead", c.LookAhead),
	)
	if c.EndTime != nil && (*c.EndTime < 0 || math.IsNaN(*c.EndTime)) {
		errs = append(errs, fmt.Errorf("end_time must be non-negative, got %g", *c.EndTime))
	}
	for name, v := range map[string]*string{
		"wall_budget":       c.WallBudget,
		"handshake_timeout": c.HandshakeTimeout,
		"exchange_timeout":  c.ExchangeTimeout,
	} {
		if _, err := parseDuration(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	if c.StalePolicy != nil {
		if _, err := syncmgr.ParseStalePolicy(*c.StalePolicy); err != nil {
			errs = append(errs, err)
		}
	}
	if c.MaxStaleTicks != nil && *c.MaxStaleTicks < 0 {
		errs = append(errs, fmt.Errorf("max_stale_ticks must be non-negative, got %d", *c.MaxStaleTicks))
	}
	if c.LaneTolerance != nil && *c.LaneTolerance < 0 {
		errs = append(errs, fmt.Errorf("lane_tolerance must be non-negative, got %g", *c.LaneTolerance))
	}
	if c.FollowingTime != nil && *c.FollowingTime < 0 {
		errs = append(errs, fmt.Errorf("following_time must be non-negative, got %g", *c.FollowingTime))
	}
	if c.MinDistance != nil && *c.MinDistance < 0 {
		errs = append(errs, fmt.Errorf("min_distance must be non-negative, got %g", *c.MinDistance))
	}
	if c.RecordEvery != nil && *c.RecordEvery < 1 {
		errs = append(errs, fmt.Errorf("record_every must be at least 1, got %d", *c.RecordEvery))
	}
	return errors.Join(errs...)
}

// GetScenario returns the scenario name or "highway".
func (c *RunConfig) GetScenario() string {
	if c.Scenario == nil || *c.Scenario == "" {
		return "highway"
	}
	return *c.Scenario
}

// GetParticipants returns the participant count or the default of 3.
func (c *RunConfig) GetParticipants() int {
	if c.Participants == nil {
		return 3
	}
	return *c.Participants
}

// GetHeartbeat returns the heartbeat in seconds.
func (c *RunConfig) GetHeartbeat() float64 {
	if c.Heartbeat == nil {
		return 1e-2
	}
	return *c.Heartbeat
}

// GetEndTime returns the simulated duration; 0 runs until stopped.
func (c *RunConfig) GetEndTime() float64 {
	if c.EndTime == nil {
		return 20
	}
	return *c.EndTime
}

// GetTickLimit converts the end time into a tick count.
func (c *RunConfig) GetTickLimit() uint64 {
	end := c.GetEndTime()
	if end <= 0 {
		return 0
	}
	return uint64(math.Ceil(end/c.GetHeartbeat() - 1e-9))
}

// GetWallBudget returns the wall-clock budget; 0 means none.
func (c *RunConfig) GetWallBudget() time.Duration {
	d, err := parseDuration("wall_budget", c.WallBudget)
	if err != nil {
		return 0
	}
	return d
}

// GetHandshakeTimeout returns the handshake timeout.
func (c *RunConfig) GetHandshakeTimeout() time.Duration {
	d, err := parseDuration("handshake_timeout", c.HandshakeTimeout)
	if err != nil || d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetExchangeTimeout returns the per-tick exchange timeout.
func (c *RunConfig) GetExchangeTimeout() time.Duration {
	d, err := parseDuration("exchange_timeout", c.ExchangeTimeout)
	if err != nil || d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetStalePolicy returns the stale policy or abort.
func (c *RunConfig) GetStalePolicy() syncmgr.StalePolicy {
	if c.StalePolicy == nil {
		return syncmgr.Abort
	}
	p, err := syncmgr.ParseStalePolicy(*c.StalePolicy)
	if err != nil {
		return syncmgr.Abort
	}
	return p
}

// GetMaxStaleTicks returns the stale tolerance in ticks.
func (c *RunConfig) GetMaxStaleTicks() int {
	if c.MaxStaleTicks == nil {
		return 10
	}
	return *c.MaxStaleTicks
}

// GetLaneTolerance returns the lead candidate lateral tolerance (m).
func (c *RunConfig) GetLaneTolerance() float64 {
	if c.LaneTolerance == nil {
		return 1.5
	}
	return *c.LaneTolerance
}

// GetRecordEvery returns the recording stride in ticks.
func (c *RunConfig) GetRecordEvery() int {
	if c.RecordEvery == nil {
		return 10
	}
	return *c.RecordEvery
}

// GetDatabase returns the sqlite path; empty disables recording.
func (c *RunConfig) GetDatabase() string {
	if c.Database == nil {
		return ""
	}
	return *c.Database
}

// GetReportDir returns the report directory; empty disables reports.
func (c *RunConfig) GetReportDir() string {
	if c.ReportDir == nil {
		return ""
	}
	return *c.ReportDir
}

// SyncConfig assembles the tick-loop configuration.
func (c *RunConfig) SyncConfig() syncmgr.Config {
	return syncmgr.Config{
		Heartbeat:        c.GetHeartbeat(),
		TickLimit:        c.GetTickLimit(),
		WallBudget:       c.GetWallBudget(),
		HandshakeTimeout: c.GetHandshakeTimeout(),
		ExchangeTimeout:  c.GetExchangeTimeout(),
		StalePolicy:      c.GetStalePolicy(),
		MaxStaleTicks:    c.GetMaxStaleTicks(),
		LaneTolerance:    c.GetLaneTolerance(),
	}
}

// ScenarioOptions applies the driver and step overrides to the scenario
// defaults.
func (c *RunConfig) ScenarioOptions() scenario.Options {
	o := scenario.DefaultOptions()
	if c.SwitchAt != nil {
		o.SwitchAt = *c.SwitchAt
	}
	if c.SpeedGains != nil {
		o.SpeedGains = *c.SpeedGains
	}
	if c.SteeringGains != nil {
		o.SteeringGains = *c.SteeringGains
	}
	if c.LookAhead != nil {
		o.LookAhead = *c.LookAhead
	}
	if c.FollowingTime != nil {
		o.FollowingTime = *c.FollowingTime
	}
	if c.MinDistance != nil {
		o.MinDistance = *c.MinDistance
	}
	o.Steps = vehicle.Steps{}
	if c.VehicleStep != nil {
		o.Steps.Vehicle = *c.VehicleStep
	}
	if c.TireStep != nil {
		o.Steps.Tire = *c.TireStep
	}
	return o
}

// Merge copies every field set in o over c. Command-line overrides use it.
func (c *RunConfig) Merge(o *RunConfig) {
	if o == nil {
		return
	}
	merge(&c.Scenario, o.Scenario)
	merge(&c.Participants, o.Participants)
	merge(&c.Heartbeat, o.Heartbeat)
	merge(&c.EndTime, o.EndTime)
	merge(&c.WallBudget, o.WallBudget)
	merge(&c.HandshakeTimeout, o.HandshakeTimeout)
	merge(&c.ExchangeTimeout, o.ExchangeTimeout)
	merge(&c.StalePolicy, o.StalePolicy)
	merge(&c.MaxStaleTicks, o.MaxStaleTicks)
	merge(&c.LaneTolerance, o.LaneTolerance)
	merge(&c.VehicleStep, o.VehicleStep)
	merge(&c.TireStep, o.TireStep)
	merge(&c.SwitchAt, o.SwitchAt)
	merge(&c.SpeedGains, o.SpeedGains)
	merge(&c.SteeringGains, o.SteeringGains)
	merge(&c.LookAhead, o.LookAhead)
	merge(&c.FollowingTime, o.FollowingTime)
	merge(&c.MinDistance, o.MinDistance)
	merge(&c.Database, o.Database)
	merge(&c.RecordEvery, o.RecordEvery)
	merge(&c.ReportDir, o.ReportDir)
}

func merge[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
