package diagstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

// TimingStore records the swing duration search and the ticks whose solve
// failed.
type TimingStore struct {
	db *DB
}

// Failure is a stored failed tick. The error survives as its message.
type Failure struct {
	Tick    uint64
	Phase   footstep.SupportPhase
	Message string
}

// InsertSamples writes timing samples under runID in one transaction.
func (s *TimingStore) InsertSamples(ctx context.Context, runID string, samples []debug.TimingSample) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO timing_samples (run_id, tick, iteration, swing_duration, cost, gradient) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, runID, int64(sm.Tick), sm.Iteration, sm.SwingDuration, nullFloat(sm.Cost), nullFloat(sm.Gradient)); err != nil {
			return fmt.Errorf("insert sample %d/%d: %w", sm.Tick, sm.Iteration, err)
		}
	}
	return tx.Commit()
}

// ListSamples returns the samples of runID ordered by tick and iteration.
func (s *TimingStore) ListSamples(ctx context.Context, runID string) ([]debug.TimingSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, iteration, swing_duration, cost, gradient FROM timing_samples WHERE run_id = ? ORDER BY tick, iteration`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []debug.TimingSample
	for rows.Next() {
		var (
			sm         debug.TimingSample
			tick       int64
			cost, grad sql.NullFloat64
		)
		if err := rows.Scan(&tick, &sm.Iteration, &sm.SwingDuration, &cost, &grad); err != nil {
			return nil, err
		}
		sm.Tick = uint64(tick)
		sm.Cost = floatOrNaN(cost)
		sm.Gradient = floatOrNaN(grad)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// InsertFailures writes failed ticks under runID.
func (s *TimingStore) InsertFailures(ctx context.Context, runID string, failures []debug.FailureRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO failures (run_id, tick, phase, message) VALUES (?, ?, ?, ?)`,
			runID, int64(f.Tick), int(f.Phase), msg); err != nil {
			return fmt.Errorf("insert failure %d: %w", f.Tick, err)
		}
	}
	return tx.Commit()
}

// ListFailures returns the failed ticks of runID in order.
func (s *TimingStore) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tick, phase, message FROM failures WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f     Failure
			tick  int64
			phase int
		)
		if err := rows.Scan(&tick, &phase, &f.Message); err != nil {
			return nil, err
		}
		f.Tick = uint64(tick)
		f.Phase = footstep.SupportPhase(phase)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveCollector writes everything c recorded under runID.
func (db *DB) SaveCollector(ctx context.Context, runID string, c *debug.Collector) error {
	if err := db.Ticks().InsertTicks(ctx, runID, c.Ticks); err != nil {
		return fmt.Errorf("save ticks: %w", err)
	}
	if err := db.Timing().InsertSamples(ctx, runID, c.Samples); err != nil {
		return fmt.Errorf("save timing samples: %w", err)
	}
	if err := db.Timing().InsertFailures(ctx, runID, c.Failures); err != nil {
		return fmt.Errorf("save failures: %w", err)
	}
	return nil
}
