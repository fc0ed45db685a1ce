package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/geom"
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrLayoutNotFound = errors.New("field layout not found")
)

// Run is one recording session of the estimator.
type Run struct {
	ID       string     `json:"run_id"`
	Started  time.Time  `json:"started"`
	Ended    *time.Time `json:"ended,omitempty"` // nil while the run is open
	Strategy string     `json:"strategy"`
	Source   string     `json:"source"`
	Note     string     `json:"note,omitempty"`
}

// Estimate is one recorded pose estimate.
type Estimate struct {
	RunID          string    `json:"run_id"`
	TimestampNanos int64     `json:"timestamp_nanos"`
	Recorded       time.Time `json:"recorded"`
	Strategy       string    `json:"strategy"`
	Pose           geom.Pose `json:"pose"`
}

// StartRun creates a run with a fresh ID.
func (db *DB) StartRun(ctx context.Context, strategy estimator.PoseStrategy, source, note string, started time.Time) (Run, error) {
	run := Run{
		ID:       uuid.New().String(),
		Started:  started,
		Strategy: strategy.String(),
		Source:   source,
		Note:     note,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix_ns, strategy, source, note) VALUES (?, ?, ?, ?, ?)`,
		run.ID, started.UnixNano(), run.Strategy, run.Source, run.Note)
	if err != nil {
		return Run{}, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// EndRun stamps the end time of a run.
func (db *DB) EndRun(ctx context.Context, runID string, ended time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET ended_unix_ns = ? WHERE run_id = ?`, ended.UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordEstimate stores one accepted estimate under runID. The strategy is
// stored per estimate because it can change during a run.
func (db *DB) RecordEstimate(ctx context.Context, runID string, strategy estimator.PoseStrategy, est estimator.EstimatedRobotPose, recorded time.Time) error {
	t := est.Pose.Translation
	q := est.Pose.Rotation.Quaternion()
	_, err := db.ExecContext(ctx,
		`INSERT INTO estimates (
			run_id, frame_unix_ns, recorded_unix_ns, strategy, x, y, z, qw, qx, qy, qz
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, est.TimestampNanos, recorded.UnixNano(), strategy.String(),
		t.X, t.Y, t.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
	)
	if err != nil {
		return fmt.Errorf("failed to record estimate: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_unix_ns, ended_unix_ns, strategy, source, note
		FROM runs ORDER BY started_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a single run or ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, started_unix_ns, ended_unix_ns, strategy, source, note
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run     Run
		started int64
		ended   sql.NullInt64
	)
	if err := s.Scan(&run.ID, &started, &ended, &run.Strategy, &run.Source, &run.Note); err != nil {
		return Run{}, err
	}
	run.Started = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		run.Ended = &t
	}
	return run, nil
}

// ListRunEstimates returns every estimate of a run in frame time order.
func (db *DB) ListRunEstimates(ctx context.Context, runID string) ([]Estimate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT frame_unix_ns, recorded_unix_ns, strategy, x, y, z, qw, qx, qy, qz
		FROM estimates WHERE run_id = ? ORDER BY frame_unix_ns, estimate_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var (
			e              Estimate
			recorded       int64
			x, y, z        float64
			qw, qx, qy, qz float64
		)
		if err := rows.Scan(&e.TimestampNanos, &recorded, &e.Strategy, &x, &y, &z, &qw, &qx, &qy, &qz); err != nil {
			return nil, err
		}
		e.RunID = runID
		e.Recorded = time.Unix(0, recorded)
		e.Pose = geom.NewPose(x, y, z, geom.NewRotationFromQuaternion(qw, qx, qy, qz))
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveLayout stores layout under name, replacing any previous version.
func (db *DB) SaveLayout(ctx context.Context, name string, layout *fieldlayout.Layout, updated time.Time) error {
	data, err := layout.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode field layout: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO field_layouts (name, layout_json, tag_count, updated_unix_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			layout_json = excluded.layout_json,
			tag_count = excluded.tag_count,
			updated_unix_ns = excluded.updated_unix_ns`,
		name, string(data), layout.Len(), updated.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save field layout %q: %w", name, err)
	}
	return nil
}

// LoadLayout returns the layout stored under name or ErrLayoutNotFound.
func (db *DB) LoadLayout(ctx context.Context, name string) (*fieldlayout.Layout, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT layout_json FROM field_layouts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return fieldlayout.Parse([]byte(data))
}
