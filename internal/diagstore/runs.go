package diagstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/capturepoint/internal/config"
	"github.com/banshee-data/capturepoint/internal/version"
)

// Run is one recorded simulation or controller session.
type Run struct {
	ID         string
	Label      string
	AppVersion string
	GitSHA     string
	Scenario   json.RawMessage
	Tuning     json.RawMessage
	CreatedAt  time.Time
}

type RunStore struct {
	db *DB
}

// CreateRun inserts a run stamped with the build version and returns it
// with a fresh id. scenario is stored as JSON.
func (s *RunStore) CreateRun(ctx context.Context, label string, scenario any, tuning *config.TuningConfig) (Run, error) {
	scenarioJSON, err := json.Marshal(scenario)
	if err != nil {
		return Run{}, fmt.Errorf("marshal scenario: %w", err)
	}
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	tuningJSON, err := json.Marshal(tuning)
	if err != nil {
		return Run{}, fmt.Errorf("marshal tuning: %w", err)
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, label, app_version, git_sha, scenario_json, tuning_json) VALUES (?, ?, ?, ?, ?, ?)`,
		id, label, version.Version, version.GitSHA, string(scenarioJSON), string(tuningJSON)); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun loads a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, label, app_version, git_sha, scenario_json, tuning_json, created_at FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns every run, newest first.
func (s *RunStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, label, app_version, git_sha, scenario_json, tuning_json, created_at FROM runs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, everything
// recorded under it.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                Run
		scenario, tuning string
		created          float64
	)
	if err := row.Scan(&r.ID, &r.Label, &r.AppVersion, &r.GitSHA, &scenario, &tuning, &created); err != nil {
		return Run{}, err
	}
	r.Scenario = json.RawMessage(scenario)
	r.Tuning = json.RawMessage(tuning)
	sec, frac := math.Modf(created)
	r.CreatedAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return r, nil
}
