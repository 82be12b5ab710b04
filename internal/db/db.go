// Package db stores fit results in a sqlite database whose schema is managed
// by embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/baofit/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS returns the embedded migrations rooted at the migrations
// directory, suitable for MigrateUp.
func MigrationsFS() (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations")
}

type DB struct {
	*sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens (or creates) the database at path and applies the connection
// pragmas. It does not touch the schema; call MigrateUp for that.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection, so keep exactly one.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and migrates it to the latest embedded
// schema version.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrations, err := MigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// FitParameter is one row of a fit result's parameter table. Error is NaN
// when the minimizer could not estimate it.
type FitParameter struct {
	Index int
	Name  string
	Value float64
	Error float64
	Fixed bool
}

// FitRun is a recorded minimization.
type FitRun struct {
	RunID        string
	Created      time.Time
	Model        string
	TracerMode   string
	ZRef         float64
	Method       string
	MethodConfig string
	DataPath     string
	NBins        int
	MinValue     float64
	Evaluations  int
	Status       string
	ErrorScale   float64
	Parameters   []FitParameter
}

func nullable(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// RecordFitRun stores a run and its parameters in one transaction. A run id
// is generated when run.RunID is empty; the id used is returned.
func (db *DB) RecordFitRun(run *FitRun) (string, error) {
	if run == nil {
		return "", errors.New("db: nil fit run")
	}
	runID := run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	created := run.Created
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO fit_runs (
			run_id, created_unix, model, tracer_mode, zref, method, method_config,
			data_path, n_bins, min_value, evaluations, status, error_scale
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, float64(created.UnixNano())/1e9, run.Model, run.TracerMode, run.ZRef,
		run.Method, run.MethodConfig, run.DataPath, run.NBins, nullable(run.MinValue),
		run.Evaluations, run.Status, run.ErrorScale,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert fit run: %w", err)
	}
	for _, p := range run.Parameters {
		_, err := tx.Exec(
			`INSERT INTO fit_parameters (run_id, idx, name, value, error, fixed) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, p.Index, p.Name, p.Value, nullable(p.Error), p.Fixed,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert parameter %q: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit fit run: %w", err)
	}
	monitoring.Logf("db: recorded fit run %s (%d parameters)", runID, len(run.Parameters))
	return runID, nil
}

// FitRuns returns the most recent runs, newest first, without parameters.
func (db *DB) FitRuns(limit int) ([]FitRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT run_id, created_unix, model, tracer_mode, zref, method,
			method_config, data_path, n_bins, min_value, evaluations, status, error_scale
		FROM fit_runs ORDER BY created_unix DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FitRun
	for rows.Next() {
		var (
			r        FitRun
			created  float64
			minValue sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &created, &r.Model, &r.TracerMode, &r.ZRef, &r.Method,
			&r.MethodConfig, &r.DataPath, &r.NBins, &minValue, &r.Evaluations, &r.Status, &r.ErrorScale); err != nil {
			return nil, err
		}
		sec, frac := math.Modf(created)
		r.Created = time.Unix(int64(sec), int64(frac*1e9))
		r.MinValue = fromNullable(minValue)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// FitParameters returns the parameters of a run in index order.
func (db *DB) FitParameters(runID string) ([]FitParameter, error) {
	rows, err := db.Query(`SELECT idx, name, value, error, fixed FROM fit_parameters
		WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []FitParameter
	for rows.Next() {
		var (
			p       FitParameter
			errEst  sql.NullFloat64
			fixedDB int
		)
		if err := rows.Scan(&p.Index, &p.Name, &p.Value, &errEst, &fixedDB); err != nil {
			return nil, err
		}
		p.Error = fromNullable(errEst)
		p.Fixed = fixedDB != 0
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return params, nil
}
