// Package bundlepg stores bundle jobs and artifacts in PostgreSQL.
package bundlepg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k11v/airgap/internal/bundle"
)

// Querier is implemented by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ bundle.Database = (*Database)(nil)

type Database struct {
	db Querier // required
}

func NewDatabase(db Querier) *Database {
	return &Database{db: db}
}

// Begin implements bundle.Database.
func (d *Database) Begin(ctx context.Context) (bundle.DatabaseTx, error) {
	pgxTx, err := d.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return newDatabaseTx(pgxTx), nil
}

// CreateJob implements bundle.Database.
func (d *Database) CreateJob(ctx context.Context, params *bundle.DatabaseCreateJobParams) (*bundle.Job, error) {
	spec, err := json.Marshal(params.Spec)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	query := `
		INSERT INTO bundle_jobs (target, spec, platform, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, spec, platform, status, error_message, created_at, updated_at, finished_at
	`
	args := []any{string(params.Spec.Target), spec, string(params.Platform), string(bundle.StatusQueued)}

	rows, _ := d.db.Query(ctx, query, args...)
	job, err := pgx.CollectExactlyOneRow(rows, rowToJob)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	return job, nil
}

// GetJob implements bundle.Database.
func (d *Database) GetJob(ctx context.Context, params *bundle.DatabaseGetJobParams) (*bundle.Job, error) {
	query := `
		SELECT id, spec, platform, status, error_message, created_at, updated_at, finished_at
		FROM bundle_jobs
		WHERE id = $1
	`
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	job, err := pgx.CollectExactlyOneRow(rows, rowToJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bundle.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	return job, nil
}

// UpdateJobStatus implements bundle.Database.
// The write only happens if the current status may move to the new one.
// The first finished_at and error of a terminal job are kept when the status is rewritten.
func (d *Database) UpdateJobStatus(ctx context.Context, params *bundle.DatabaseUpdateJobStatusParams) (*bundle.Job, error) {
	query := `
		UPDATE bundle_jobs
		SET
			status = $2,
			error_message = CASE WHEN finished_at IS NULL THEN $3 ELSE error_message END,
			finished_at = COALESCE(finished_at, $4),
			updated_at = now()
		WHERE id = $1 AND status = ANY($5)
		RETURNING id, spec, platform, status, error_message, created_at, updated_at, finished_at
	`
	allowedFrom := make([]string, 0, 3)
	for _, s := range bundle.AllowedFrom(params.Status) {
		allowedFrom = append(allowedFrom, string(s))
	}
	args := []any{params.ID, string(params.Status), params.Error, params.FinishedAt, allowedFrom}

	rows, _ := d.db.Query(ctx, query, args...)
	job, err := pgx.CollectExactlyOneRow(rows, rowToJob)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, existsErr := d.jobExists(ctx, params.ID)
		if existsErr != nil {
			return nil, fmt.Errorf("update job status: %w", existsErr)
		}
		if !exists {
			return nil, bundle.ErrNotFound
		}
		return nil, fmt.Errorf("update job status to %s: %w", params.Status, bundle.ErrInvalidTransition)
	} else if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	return job, nil
}

func (d *Database) jobExists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bundle_jobs WHERE id = $1)`
	rows, _ := d.db.Query(ctx, query, id)
	return pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
}

// AddArtifact implements bundle.Database.
// Adding an artifact with the same kind and filename again replaces its size and checksum.
func (d *Database) AddArtifact(ctx context.Context, params *bundle.DatabaseAddArtifactParams) (*bundle.Artifact, error) {
	query := `
		INSERT INTO bundle_artifacts (job_id, kind, filename, size, checksum)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, kind, filename) DO UPDATE
		SET size = EXCLUDED.size, checksum = EXCLUDED.checksum, created_at = now()
		RETURNING id, job_id, kind, filename, size, checksum, created_at
	`
	args := []any{params.JobID, string(params.Kind), params.Filename, params.Size, params.Checksum}

	rows, _ := d.db.Query(ctx, query, args...)
	a, err := pgx.CollectExactlyOneRow(rows, rowToArtifact)
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return nil, bundle.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("add artifact: %w", err)
	}

	return a, nil
}

// ListArtifacts implements bundle.Database.
// Artifacts are ordered zip first, then checksum, then sbom.
func (d *Database) ListArtifacts(ctx context.Context, params *bundle.DatabaseListArtifactsParams) ([]*bundle.Artifact, error) {
	query := `
		SELECT id, job_id, kind, filename, size, checksum, created_at
		FROM bundle_artifacts
		WHERE job_id = $1
		ORDER BY array_position(ARRAY['zip', 'checksum', 'sbom'], kind), filename
	`
	args := []any{params.JobID}

	rows, _ := d.db.Query(ctx, query, args...)
	artifacts, err := pgx.CollectRows(rows, rowToArtifact)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	return artifacts, nil
}
