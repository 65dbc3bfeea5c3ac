package diagstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/capturepoint/internal/config"
	"github.com/banshee-data/capturepoint/internal/icp/debug"
	"github.com/banshee-data/capturepoint/internal/icp/footstep"
	"github.com/banshee-data/capturepoint/internal/icp/solver"
	"github.com/banshee-data/capturepoint/internal/monitoring"
	"github.com/banshee-data/capturepoint/internal/version"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "diag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func createRun(t *testing.T, db *DB) Run {
	t.Helper()
	run, err := db.Runs().CreateRun(context.Background(), "test", map[string]int{"steps": 4}, config.MustLoadDefaultConfig())
	require.NoError(t, err)
	return run
}

func TestOpenHoldsOneConnection(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	assert.NotNil(t, db.Runs())
	assert.NotNil(t, db.Ticks())
	assert.NotNil(t, db.Timing())
}

func TestMigrateUpDown(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	v, dirty, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	require.NoError(t, db.Migrate(), "migrating twice is a no-op")

	require.NoError(t, db.MigrateDown())
	v, _, err = db.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	_, err = db.Exec(`SELECT count(*) FROM timing_samples`)
	assert.Error(t, err)

	require.NoError(t, db.Migrate())
	v, _, err = db.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestVersionBeforeMigrate(t *testing.T) {
	t.Parallel()
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	run := createRun(t, db)

	assert.Len(t, run.ID, 36)
	assert.Equal(t, "test", run.Label)
	assert.Equal(t, version.Version, run.AppVersion)
	assert.Equal(t, version.GitSHA, run.GitSHA)
	assert.JSONEq(t, `{"steps": 4}`, string(run.Scenario))
	assert.False(t, run.CreatedAt.IsZero())

	var tuning config.TuningConfig
	require.NoError(t, json.Unmarshal(run.Tuning, &tuning))
	assert.Equal(t, config.MustLoadDefaultConfig().GetMaxNumberOfFootsteps(), tuning.GetMaxNumberOfFootsteps())

	got, err := db.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(run, got))

	other := createRun(t, db)
	runs, err := db.Runs().ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, other.ID, runs[0].ID)

	_, err = db.Runs().GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.Runs().DeleteRun(ctx, "missing"), ErrRunNotFound)
}

func tickRecords() []debug.TickRecord {
	return []debug.TickRecord{
		{
			Tick:         1,
			Time:         0.004,
			Phase:        footstep.Standing,
			MeasuredICP:  r2.Vec{X: 0.01, Y: -0.02},
			ReferenceICP: r2.Vec{},
			ReferenceCMP: r2.Vec{X: -0.01},
			FeedbackCMP:  r2.Vec{X: -0.03, Y: 0.05},
			Footstep:     r2.Vec{X: math.NaN(), Y: math.NaN()},
			Cost:         solver.CostToGo{Total: 0.2, Feedback: 0.15, FeedbackRegularization: 0.05},

			SwingDuration:         math.NaN(),
			EstimatedOptimalSwing: math.NaN(),
			FinishedOnTime:        true,
		},
		{
			Tick:                 2,
			Time:                 0.008,
			Phase:                footstep.SingleSupport,
			TimeInPhase:          0.1,
			MeasuredICP:          r2.Vec{X: 0.12, Y: -0.05},
			ReferenceICP:         r2.Vec{X: 0.1, Y: -0.06},
			ReferenceICPVelocity: r2.Vec{X: 0.3, Y: 0.01},
			NominalICP:           r2.Vec{X: 0.09, Y: -0.06},
			FeedbackDelta:        r2.Vec{X: 0.02},
			Relaxation:           r2.Vec{Y: 1e-4},
			Footstep:             r2.Vec{X: 0.34, Y: 0.1},
			WasAdjusted:          true,
			Cost:                 solver.CostToGo{Total: 1.5, Footstep: 1.2, Relaxation: 0.3},

			SwingDuration:         0.58,
			EstimatedOptimalSwing: 0.55,
			GradientIterations:    3,
			ReductionIterations:   1,
		},
	}
}

func TestTicksRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	run := createRun(t, db)

	want := tickRecords()
	require.NoError(t, db.Ticks().InsertTicks(ctx, run.ID, want))

	got, err := db.Ticks().ListTicks(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got, cmpopts.EquateNaNs()))

	other, err := db.Ticks().ListTicks(ctx, createRun(t, db).ID)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInsertTicksNeedsRun(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	err := db.Ticks().InsertTicks(context.Background(), "no-such-run", tickRecords())
	assert.Error(t, err)

	n := -1
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM ticks`).Scan(&n))
	assert.Zero(t, n, "a failed batch leaves nothing behind")
}

func TestCollectorRoundTripAndCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	run := createRun(t, db)

	c := debug.NewCollector()
	for _, r := range tickRecords() {
		c.ObserveTick(r)
	}
	c.ObserveTimingSample(debug.TimingSample{Tick: 2, Iteration: 0, SwingDuration: 0.6, Cost: 1.6, Gradient: 0.8})
	c.ObserveTimingSample(debug.TimingSample{Tick: 2, Iteration: 1, SwingDuration: 0.58, Cost: 1.5, Gradient: math.NaN()})
	c.ObserveFailure(debug.FailureRecord{Tick: 3, Phase: footstep.Transfer, Err: errors.New("qp: infeasible")})
	require.NoError(t, db.SaveCollector(ctx, run.ID, c))

	samples, err := db.Timing().ListSamples(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(c.Samples, samples, cmpopts.EquateNaNs()))

	failures, err := db.Timing().ListFailures(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []Failure{{Tick: 3, Phase: footstep.Transfer, Message: "qp: infeasible"}}, failures)

	require.NoError(t, db.Runs().DeleteRun(ctx, run.ID))
	ticks, err := db.Ticks().ListTicks(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, ticks)
	samples, err = db.Timing().ListSamples(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, samples)
}
