// Package store persists measurements, model versions, and testing plans in
// Postgres. Measurements are append-only; plans supersede, never overwrite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/jalsarovar/wflow/internal/gp"
	"github.com/jalsarovar/wflow/internal/plan"
	"github.com/jalsarovar/wflow/internal/registry"
)

type Store struct {
	DB *sql.DB
}

// Measurement sources.
const (
	SourceAutonomous = "autonomous"
	SourceLab        = "lab"
)

// Site is a monitoring location. Created at onboarding by external systems;
// read-only to the planning core.
type Site struct {
	ID                 string
	Name               string
	Lat                float64
	Lon                float64
	ElevationM         float64
	DistanceToSourceKm float64
	SiteType           string
}

// Measurement is one validated observation of a parameter at a site.
type Measurement struct {
	SiteID         string
	Parameter      string
	Value          float64
	MeasuredAt     time.Time
	Source         string
	RawUncertainty *float64
}

// TrainingRow joins a measurement with its site's static attributes, in the
// shape the feature builder consumes.
type TrainingRow struct {
	SiteID             string
	Value              float64
	MeasuredAt         time.Time
	Lat                float64
	Lon                float64
	ElevationM         float64
	DistanceToSourceKm float64
	SiteType           string
}

// ModelVersionRecord is the metadata of one persisted model version.
type ModelVersionRecord struct {
	ID             string
	Parameter      string
	R2             float64
	Warning        bool
	Inflation      float64
	TrainingRows   int
	SnapshotCutoff time.Time
	Current        bool
	CreatedAt      time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// plausibleRanges are hard physical bounds per parameter. Values outside
// these ranges are instrument or transmission errors, not contamination.
var plausibleRanges = map[string]struct{ min, max float64 }{
	"ph":               {0, 14},
	"tds":              {0, 50000},
	"turbidity":        {0, 10000},
	"dissolved_oxygen": {0, 30},
	"temperature":      {-5, 60},
	"conductivity":     {0, 100000},
}

// ValidateMeasurement rejects malformed or physically implausible rows.
func ValidateMeasurement(m Measurement) error {
	if m.SiteID == "" || m.Parameter == "" {
		return fmt.Errorf("%w: missing site or parameter", ErrInvalidMeasurement)
	}
	if m.MeasuredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMeasurement)
	}
	if r, ok := plausibleRanges[m.Parameter]; ok {
		if m.Value < r.min || m.Value > r.max {
			return fmt.Errorf("%w: %s=%v outside plausible range [%v, %v]",
				ErrInvalidMeasurement, m.Parameter, m.Value, r.min, r.max)
		}
	}
	return nil
}

// InsertMeasurements validates and appends a batch. All rows are validated
// before any row is written, and the (site, parameter, timestamp) uniqueness
// invariant is enforced by ignoring duplicates.
func (s *Store) InsertMeasurements(ctx context.Context, batch []Measurement) (int, error) {
	for _, m := range batch {
		if err := ValidateMeasurement(m); err != nil {
			return 0, err
		}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, m := range batch {
		source := m.Source
		if source == "" {
			source = SourceLab
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO measurements (site_id, parameter, value, measured_at, source, raw_uncertainty)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (site_id, parameter, measured_at) DO NOTHING`,
			m.SiteID, m.Parameter, m.Value, m.MeasuredAt.UTC(), source, m.RawUncertainty)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListSites returns every monitoring site, ordered by id.
func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, elevation_m, distance_to_source_km, site_type
		FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Name, &site.Lat, &site.Lon,
			&site.ElevationM, &site.DistanceToSourceKm, &site.SiteType); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// InsertSites adds monitoring sites; used by seeding and tests.
func (s *Store) InsertSites(ctx context.Context, sites []Site) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, site := range sites {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sites (id, name, latitude, longitude, elevation_m, distance_to_source_km, site_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			site.ID, site.Name, site.Lat, site.Lon, site.ElevationM, site.DistanceToSourceKm, site.SiteType); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TrainingData loads all measurements for one parameter up to the cutoff,
// joined with site attributes, ordered for reproducible fitting.
func (s *Store) TrainingData(ctx context.Context, parameter string, cutoff time.Time) ([]TrainingRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT m.site_id, m.value, m.measured_at,
		       st.latitude, st.longitude, st.elevation_m, st.distance_to_source_km, st.site_type
		FROM measurements m
		JOIN sites st ON st.id = m.site_id
		WHERE m.parameter = $1 AND m.measured_at <= $2
		ORDER BY m.site_id, m.measured_at`, parameter, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrainingRow
	for rows.Next() {
		var r TrainingRow
		if err := rows.Scan(&r.SiteID, &r.Value, &r.MeasuredAt,
			&r.Lat, &r.Lon, &r.ElevationM, &r.DistanceToSourceKm, &r.SiteType); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RegionalStats reports mean, standard deviation, and count of a parameter's
// measurements; the conservative prior used when a model cannot be fitted.
func (s *Store) RegionalStats(ctx context.Context, parameter string) (mean, std float64, n int, err error) {
	var avg, stddev sql.NullFloat64
	err = s.DB.QueryRowContext(ctx, `
		SELECT AVG(value), COALESCE(STDDEV_POP(value), 0), COUNT(*)
		FROM measurements WHERE parameter = $1`, parameter).Scan(&avg, &stddev, &n)
	if err != nil {
		return 0, 0, 0, err
	}
	return avg.Float64, stddev.Float64, n, nil
}

// ContaminatedSiteIDs lists sites with at least one lab measurement outside
// the compliant range in the window; the historical holdout used for the
// detection-rate estimate. A max of zero means unbounded above.
func (s *Store) ContaminatedSiteIDs(ctx context.Context, parameter string, min, max float64, from, to time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT site_id FROM measurements
		WHERE parameter = $1 AND source = $2
		  AND measured_at >= $3 AND measured_at <= $4
		  AND (value < $5 OR ($6 > 0 AND value > $6))
		ORDER BY site_id`,
		parameter, SourceLab, from.UTC(), to.UTC(), min, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveModelVersion persists a model artifact and marks it current for its
// parameter in one transaction. Implements registry.ArtifactStore.
func (s *Store) SaveModelVersion(ctx context.Context, artifact gp.Artifact, meta registry.Metadata) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET current = FALSE WHERE parameter = $1 AND current`, artifact.Parameter); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_versions (id, parameter, r2, warning, inflation, training_rows, snapshot_cutoff, artifact, current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		artifact.Version, artifact.Parameter, artifact.R2, artifact.Warning, artifact.Inflation,
		meta.TrainingRows, meta.SnapshotCutoff.UTC(), payload); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadCurrentArtifacts returns the current model artifact for every
// parameter. Implements registry.ArtifactStore.
func (s *Store) LoadCurrentArtifacts(ctx context.Context) ([]gp.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT artifact FROM model_versions WHERE current ORDER BY parameter`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gp.Artifact
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a gp.Artifact
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListModelVersions returns version metadata for one parameter, newest first.
func (s *Store) ListModelVersions(ctx context.Context, parameter string, limit int) ([]ModelVersionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, parameter, r2, warning, inflation, training_rows, snapshot_cutoff, current, created_at
		FROM model_versions WHERE parameter = $1
		ORDER BY created_at DESC LIMIT $2`, parameter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelVersionRecord
	for rows.Next() {
		var r ModelVersionRecord
		if err := rows.Scan(&r.ID, &r.Parameter, &r.R2, &r.Warning, &r.Inflation,
			&r.TrainingRows, &r.SnapshotCutoff, &r.Current, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePlan appends a testing plan. Plans are immutable; the caller sets
// Supersedes when regenerating a month.
func (s *Store) SavePlan(ctx context.Context, p plan.TestingPlan) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	var supersedes interface{}
	if p.Supersedes != "" {
		supersedes = p.Supersedes
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO testing_plans (id, month, requested_budget, total_sites, tested_sites,
			reduction_percent, estimated_detection_rate, underfilled, plan, supersedes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Month, p.RequestedBudget, p.TotalSites, p.TestedSites,
		p.ReductionPercent, p.EstimatedDetectionRate, p.Underfilled, payload, supersedes, p.GeneratedAt.UTC())
	return err
}

// LatestPlan returns the most recent plan for a month.
func (s *Store) LatestPlan(ctx context.Context, month string) (plan.TestingPlan, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT plan FROM testing_plans WHERE month = $1
		ORDER BY created_at DESC LIMIT 1`, month).Scan(&payload)
	if err == sql.ErrNoRows {
		return plan.TestingPlan{}, fmt.Errorf("%w: month %s", ErrPlanNotFound, month)
	}
	if err != nil {
		return plan.TestingPlan{}, err
	}
	var p plan.TestingPlan
	if err := json.Unmarshal(payload, &p); err != nil {
		return plan.TestingPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

// PlanHistory returns every plan generated for a month, newest first; the
// audit trail of superseded plans.
func (s *Store) PlanHistory(ctx context.Context, month string) ([]plan.TestingPlan, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT plan FROM testing_plans WHERE month = $1 ORDER BY created_at DESC`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plan.TestingPlan
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p plan.TestingPlan
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
