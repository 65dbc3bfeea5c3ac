package diagstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
)

type TickStore struct {
	db *DB
}

const tickColumns = `tick, time_s, phase, time_in_phase,
	measured_icp_x, measured_icp_y, reference_icp_x, reference_icp_y,
	reference_icp_vel_x, reference_icp_vel_y, reference_cmp_x, reference_cmp_y,
	nominal_icp_x, nominal_icp_y, feedback_cmp_x, feedback_cmp_y,
	feedback_delta_x, feedback_delta_y, relaxation_x, relaxation_y,
	footstep_x, footstep_y, was_adjusted,
	cost_total, cost_footstep, cost_footstep_reg, cost_feedback, cost_feedback_reg, cost_relaxation, cost_simplex,
	swing_duration, estimated_optimal_swing, gradient_iterations, reduction_iterations, finished_on_time`

// InsertTicks writes records under runID in one transaction.
func (s *TickStore) InsertTicks(ctx context.Context, runID string, records []debug.TickRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticks (run_id, `+tickColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		args := []any{runID, int64(r.Tick), r.Time, int(r.Phase), r.TimeInPhase}
		for _, v := range []r2.Vec{
			r.MeasuredICP, r.ReferenceICP, r.ReferenceICPVelocity, r.ReferenceCMP,
			r.NominalICP, r.FeedbackCMP, r.FeedbackDelta, r.Relaxation, r.Footstep,
		} {
			args = append(args, nullFloat(v.X), nullFloat(v.Y))
		}
		c := r.Cost
		args = append(args, r.WasAdjusted,
			nullFloat(c.Total), nullFloat(c.Footstep), nullFloat(c.FootstepRegularization),
			nullFloat(c.Feedback), nullFloat(c.FeedbackRegularization), nullFloat(c.Relaxation), nullFloat(c.Simplex),
			nullFloat(r.SwingDuration), nullFloat(r.EstimatedOptimalSwing),
			r.GradientIterations, r.ReductionIterations, r.FinishedOnTime)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert tick %d: %w", r.Tick, err)
		}
	}
	return tx.Commit()
}

// ListTicks returns the ticks of runID in order. Values stored as NULL
// come back as NaN.
func (s *TickStore) ListTicks(ctx context.Context, runID string) ([]debug.TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tickColumns+` FROM ticks WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []debug.TickRecord
	for rows.Next() {
		var (
			r     debug.TickRecord
			tick  int64
			phase int
			vec   [18]sql.NullFloat64
			cost  [7]sql.NullFloat64
			swing [2]sql.NullFloat64
		)
		dest := []any{&tick, &r.Time, &phase, &r.TimeInPhase}
		for i := range vec {
			dest = append(dest, &vec[i])
		}
		dest = append(dest, &r.WasAdjusted)
		for i := range cost {
			dest = append(dest, &cost[i])
		}
		dest = append(dest, &swing[0], &swing[1], &r.GradientIterations, &r.ReductionIterations, &r.FinishedOnTime)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		r.Tick = uint64(tick)
		r.Phase = footstep.SupportPhase(phase)
		for i, p := range []*r2.Vec{
			&r.MeasuredICP, &r.ReferenceICP, &r.ReferenceICPVelocity, &r.ReferenceCMP,
			&r.NominalICP, &r.FeedbackCMP, &r.FeedbackDelta, &r.Relaxation, &r.Footstep,
		} {
			*p = r2.Vec{X: floatOrNaN(vec[2*i]), Y: floatOrNaN(vec[2*i+1])}
		}
		r.Cost.Total = floatOrNaN(cost[0])
		r.Cost.Footstep = floatOrNaN(cost[1])
		r.Cost.FootstepRegularization = floatOrNaN(cost[2])
		r.Cost.Feedback = floatOrNaN(cost[3])
		r.Cost.FeedbackRegularization = floatOrNaN(cost[4])
		r.Cost.Relaxation = floatOrNaN(cost[5])
		r.Cost.Simplex = floatOrNaN(cost[6])
		r.SwingDuration = floatOrNaN(swing[0])
		r.EstimatedOptimalSwing = floatOrNaN(swing[1])
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullFloat stores NaN and infinities as NULL; sqlite has no NaN.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}
