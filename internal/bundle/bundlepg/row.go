package bundlepg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/k11v/airgap/internal/bundle"
)

type jobRow struct {
	ID         uuid.UUID  `db:"id"`
	Spec       []byte     `db:"spec"`
	Platform   string     `db:"platform"`
	Status     string     `db:"status"`
	Error      string     `db:"error_message"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

func rowToJob(collectableRow pgx.CollectableRow) (*bundle.Job, error) {
	collectedRow, err := pgx.RowToStructByName[jobRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to job: %w", err)
	}

	spec := new(bundle.Spec)
	if err = json.Unmarshal(collectedRow.Spec, spec); err != nil {
		return nil, fmt.Errorf("row to job: %w", err)
	}

	status, known := bundle.StatusFromString(collectedRow.Status)
	if !known {
		slog.Default().Warn(
			"unknown status encountered while reading job",
			"status", collectedRow.Status,
			"job_id", collectedRow.ID,
		)
	}

	job := &bundle.Job{
		ID:         collectedRow.ID,
		Spec:       spec,
		Platform:   bundle.Platform(collectedRow.Platform),
		Status:     status,
		Error:      collectedRow.Error,
		CreatedAt:  collectedRow.CreatedAt,
		UpdatedAt:  collectedRow.UpdatedAt,
		FinishedAt: collectedRow.FinishedAt,
	}
	return job, nil
}

type artifactRow struct {
	ID        uuid.UUID `db:"id"`
	JobID     uuid.UUID `db:"job_id"`
	Kind      string    `db:"kind"`
	Filename  string    `db:"filename"`
	Size      int64     `db:"size"`
	Checksum  string    `db:"checksum"`
	CreatedAt time.Time `db:"created_at"`
}

func rowToArtifact(collectableRow pgx.CollectableRow) (*bundle.Artifact, error) {
	collectedRow, err := pgx.RowToStructByName[artifactRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to artifact: %w", err)
	}

	kind, known := bundle.ArtifactKindFromString(collectedRow.Kind)
	if !known {
		slog.Default().Warn(
			"unknown kind encountered while reading artifact",
			"kind", collectedRow.Kind,
			"artifact_id", collectedRow.ID,
		)
	}

	a := &bundle.Artifact{
		ID:        collectedRow.ID,
		JobID:     collectedRow.JobID,
		Kind:      kind,
		Filename:  collectedRow.Filename,
		Size:      collectedRow.Size,
		Checksum:  collectedRow.Checksum,
		CreatedAt: collectedRow.CreatedAt,
	}
	return a, nil
}
