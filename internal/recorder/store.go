// Package recorder persists simulation runs to sqlite. A Run is an
// observe.Observer that writes one row per agent and proxy per recorded tick.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("recorder: run not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type Store struct {
	*sql.DB
	path string
}

// Open opens (or creates) the database at path, applies pragmas and runs
// the embedded migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas such as busy_timeout are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path is the database file the store was opened with.
func (s *Store) Path() string { return s.path }

// RunMeta describes a run when it starts.
type RunMeta struct {
	Scenario     string
	Rank         int
	Participants int
	Heartbeat    float64
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID           uuid.UUID  `json:"run_id"`
	Scenario     string     `json:"scenario"`
	Rank         int        `json:"rank"`
	Participants int        `json:"participants"`
	Heartbeat    float64    `json:"heartbeat"`
	Started      time.Time  `json:"started"`
	Finished     *time.Time `json:"finished,omitempty"`
	Status       string     `json:"status,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Ticks        uint64     `json:"ticks"`
	SimTime      float64    `json:"sim_time"`
}

func unixSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromUnixSeconds(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9))
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.QueryContext(ctx, `SELECT run_id, scenario, rank, participants, heartbeat,
			started_unix, finished_unix, status, reason, ticks, sim_time
		FROM runs ORDER BY started_unix DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns one run.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (RunSummary, error) {
	row := s.QueryRowContext(ctx, `SELECT run_id, scenario, rank, participants, heartbeat,
			started_unix, finished_unix, status, reason, ticks, sim_time
		FROM runs WHERE run_id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunSummary, error) {
	var (
		r              RunSummary
		id             string
		started        float64
		finished       sql.NullFloat64
		status, reason sql.NullString
		ticks          int64
	)
	if err := sc.Scan(&id, &r.Scenario, &r.Rank, &r.Participants, &r.Heartbeat,
		&started, &finished, &status, &reason, &ticks, &r.SimTime); err != nil {
		return RunSummary{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return RunSummary{}, fmt.Errorf("run id %q: %w", id, err)
	}
	r.ID = parsed
	r.Ticks = uint64(ticks)
	r.Started = fromUnixSeconds(started)
	if finished.Valid {
		t := fromUnixSeconds(finished.Float64)
		r.Finished = &t
	}
	r.Status = status.String
	r.Reason = reason.String
	return r, nil
}

// AgentState is one recorded agent row.
type AgentState struct {
	Tick         uint64  `json:"tick"`
	Time         float64 `json:"time"`
	Index        int     `json:"agent_index"`
	Model        string  `json:"model"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Speed        float64 `json:"speed"`
	Yaw          float64 `json:"yaw"`
	Steering     float64 `json:"steering"`
	Throttle     float64 `json:"throttle"`
	Braking      float64 `json:"braking"`
	Acceleration float64 `json:"acceleration"`
	ActivePath   int     `json:"active_path"`
	LeadDistance float64 `json:"lead_distance"`
	LeadTracked  bool    `json:"lead_tracked"`
	Gear         int     `json:"gear"`
}

// AgentStates returns the recorded rows of one agent in tick order.
func (s *Store) AgentStates(ctx context.Context, id uuid.UUID, agentIndex int) ([]AgentState, error) {
	rows, err := s.QueryContext(ctx, `SELECT tick, sim_time, agent_index, model, x, y, speed, yaw,
			steering, throttle, braking, acceleration, active_path, lead_distance, lead_tracked, gear
		FROM agent_states WHERE run_id = ? AND agent_index = ? ORDER BY tick`, id.String(), agentIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentState
	for rows.Next() {
		var (
			a    AgentState
			tick int64
		)
		if err := rows.Scan(&tick, &a.Time, &a.Index, &a.Model, &a.X, &a.Y, &a.Speed, &a.Yaw,
			&a.Steering, &a.Throttle, &a.Braking, &a.Acceleration, &a.ActivePath,
			&a.LeadDistance, &a.LeadTracked, &a.Gear); err != nil {
			return nil, err
		}
		a.Tick = uint64(tick)
		out = append(out, a)
	}
	return out, rows.Err()
}

// StaleProxyRows counts proxy rows flagged stale in a run.
func (s *Store) StaleProxyRows(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM proxy_states WHERE run_id = ? AND stale = 1`, id.String()).Scan(&n)
	return n, err
}

// DeleteRun removes a run and its states.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
