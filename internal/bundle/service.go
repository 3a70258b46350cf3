package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type ServiceConfig struct {
	StorageDir      string   // required
	DefaultPlatform Platform // optional
}

// Service is the intake and read side of bundle jobs.
type Service struct {
	db      Database // required
	broker  Broker   // required
	metrics Metrics  // required
	log     *slog.Logger
	cfg     ServiceConfig
}

func NewService(db Database, broker Broker, metrics Metrics, log *slog.Logger, cfg *ServiceConfig) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Service{
		db:      db,
		broker:  broker,
		metrics: metrics,
		log:     log.With("component", "intake"),
		cfg:     *cfg,
	}
}

// Submit validates raw, stores a QUEUED job and enqueues it.
// If the enqueue fails the job is moved to FAILED before the error is returned.
func (s *Service) Submit(ctx context.Context, raw []byte) (*Job, error) {
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, err
	}
	return s.SubmitSpec(ctx, spec)
}

// SubmitSpec is Submit for an already validated spec.
func (s *Service) SubmitSpec(ctx context.Context, spec *Spec) (*Job, error) {
	job, err := s.db.CreateJob(ctx, &DatabaseCreateJobParams{
		Spec:     spec,
		Platform: ResolvePlatform(spec, s.cfg.DefaultPlatform),
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	err = s.broker.Enqueue(ctx, &Task{ID: job.ID, Target: spec.Target, Spec: spec})
	if err != nil {
		err = fmt.Errorf("enqueue: %w", err)
		now := time.Now().UTC()
		_, updateErr := s.db.UpdateJobStatus(ctx, &DatabaseUpdateJobStatusParams{
			ID:         job.ID,
			Status:     StatusFailed,
			Error:      err.Error(),
			FinishedAt: &now,
		})
		if updateErr != nil {
			s.log.Error("didn't mark unqueued job as failed", "job_id", job.ID, "error", updateErr)
			return nil, fmt.Errorf("submit: %w", errors.Join(err, updateErr))
		}
		return nil, fmt.Errorf("submit: %w", err)
	}

	s.metrics.IncJobsSubmitted(string(spec.Target))
	s.log.Info("submitted job", "job_id", job.ID, "target", spec.Target)
	return job, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, []*Artifact, error) {
	job, err := s.db.GetJob(ctx, &DatabaseGetJobParams{ID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("get: %w", err)
	}
	artifacts, err := s.db.ListArtifacts(ctx, &DatabaseListArtifactsParams{JobID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("get: %w", err)
	}
	return job, artifacts, nil
}

func (s *Service) ListArtifacts(ctx context.Context, id uuid.UUID) ([]*Artifact, error) {
	if _, err := s.db.GetJob(ctx, &DatabaseGetJobParams{ID: id}); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	artifacts, err := s.db.ListArtifacts(ctx, &DatabaseListArtifactsParams{JobID: id})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

// ArchivePath returns the path of the job's zip. It fails with ErrNotReady unless the job SUCCEEDED.
func (s *Service) ArchivePath(ctx context.Context, id uuid.UUID) (string, error) {
	job, err := s.db.GetJob(ctx, &DatabaseGetJobParams{ID: id})
	if err != nil {
		return "", fmt.Errorf("archive path: %w", err)
	}
	if job.Status != StatusSucceeded {
		return "", fmt.Errorf("archive path: job is %s: %w", job.Status, ErrNotReady)
	}
	return ArchivePath(s.cfg.StorageDir, id), nil
}

// JobDir returns the build directory of a job under the storage root.
func JobDir(storageDir string, id uuid.UUID) string {
	return filepath.Join(storageDir, id.String())
}

// ArchivePath returns the zip path of a job, a sibling of its build directory.
func ArchivePath(storageDir string, id uuid.UUID) string {
	return filepath.Join(storageDir, ArchiveName(id))
}

func ArchiveName(id uuid.UUID) string {
	return id.String() + ".zip"
}
