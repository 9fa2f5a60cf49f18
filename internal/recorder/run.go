package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/observe"
)

// Run records the snapshots of one participant's run.
type Run struct {
	ID    uuid.UUID
	store *Store
	every uint64

	mu       sync.Mutex
	recorded int
	err      error
}

// BeginRun inserts the run row. Every Nth tick is recorded; every < 1
// records all ticks.
func (s *Store) BeginRun(ctx context.Context, meta RunMeta, every int) (*Run, error) {
	if every < 1 {
		every = 1
	}
	id := uuid.New()
	_, err := s.ExecContext(ctx, `INSERT INTO runs (run_id, scenario, rank, participants, heartbeat, started_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), meta.Scenario, meta.Rank, meta.Participants, meta.Heartbeat, unixSeconds(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	monitoring.Logf("[recorder] run %s: rank %d of %d -> %s", id, meta.Rank, meta.Participants, s.path)
	return &Run{ID: id, store: s, every: uint64(every)}, nil
}

// Observe implements observe.Observer. Write failures are kept and
// reported by Err and Finish; recording stops after the first one.
func (r *Run) Observe(snap observe.Snapshot) {
	if snap.Tick%r.every != 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.write(snap); err != nil {
		r.err = fmt.Errorf("tick %d: %w", snap.Tick, err)
		monitoring.Logf("[recorder] run %s: %v", r.ID, r.err)
		return
	}
	r.recorded++
}

func (r *Run) write(snap observe.Snapshot) error {
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range snap.Agents {
		if _, err := tx.Exec(`INSERT INTO agent_states (
				run_id, tick, sim_time, agent_index, model, x, y, z, qw, qx, qy, qz, vx, vy, vz,
				speed, yaw, steering, throttle, braking, acceleration, active_path,
				lead_distance, lead_tracked, gear, motor_speed
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), int64(snap.Tick), a.Time, a.Index, a.Model,
			a.Position[0], a.Position[1], a.Position[2],
			a.Orientation[0], a.Orientation[1], a.Orientation[2], a.Orientation[3],
			a.Velocity[0], a.Velocity[1], a.Velocity[2],
			a.Speed, a.Yaw, a.Steering, a.Throttle, a.Braking, a.Acceleration, a.ActivePath,
			a.LeadDistance, a.LeadTracked, a.Gear, a.MotorSpeed,
		); err != nil {
			return fmt.Errorf("agent %d: %w", a.Index, err)
		}
	}
	for _, p := range snap.Proxies {
		if _, err := tx.Exec(`INSERT INTO proxy_states (
				run_id, tick, agent_index, rank, sim_time, x, y, z, vx, vy, vz, stale, stale_ticks
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), int64(snap.Tick), p.Index, p.Rank, p.Time,
			p.Position[0], p.Position[1], p.Position[2],
			p.Velocity[0], p.Velocity[1], p.Velocity[2],
			p.Stale, p.StaleTicks,
		); err != nil {
			return fmt.Errorf("proxy %d: %w", p.Index, err)
		}
	}
	if _, err := tx.Exec(`UPDATE runs SET ticks = ?, sim_time = ? WHERE run_id = ?`,
		int64(snap.Tick), snap.Time, r.ID.String()); err != nil {
		return err
	}
	return tx.Commit()
}

// Recorded is the number of snapshots written.
func (r *Run) Recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}

// Err returns the first write failure.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Finish stamps the run's outcome and returns the first write failure, if
// any.
func (r *Run) Finish(ctx context.Context, status, reason string, ticks uint64, simTime float64) error {
	_, err := r.store.ExecContext(ctx, `UPDATE runs SET finished_unix = ?, status = ?, reason = ?, ticks = ?, sim_time = ?
		WHERE run_id = ?`, unixSeconds(time.Now()), status, reason, int64(ticks), simTime, r.ID.String())
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", r.ID, err)
	}
	monitoring.Logf("[recorder] run %s: %s after %d ticks, %d snapshots recorded", r.ID, status, ticks, r.Recorded())
	return r.Err()
}
