package bundle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Database interface {
	Begin(ctx context.Context) (DatabaseTx, error)
	CreateJob(ctx context.Context, params *DatabaseCreateJobParams) (*Job, error)
	GetJob(ctx context.Context, params *DatabaseGetJobParams) (*Job, error)
	UpdateJobStatus(ctx context.Context, params *DatabaseUpdateJobStatusParams) (*Job, error)
	AddArtifact(ctx context.Context, params *DatabaseAddArtifactParams) (*Artifact, error)
	ListArtifacts(ctx context.Context, params *DatabaseListArtifactsParams) ([]*Artifact, error)
}

type DatabaseTx interface {
	Database
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type DatabaseCreateJobParams struct {
	Spec     *Spec
	Platform Platform
}

type DatabaseGetJobParams struct {
	ID uuid.UUID
}

// DatabaseUpdateJobStatusParams describes a status write.
// Implementations must refuse transitions CanTransition rejects with ErrInvalidTransition.
type DatabaseUpdateJobStatusParams struct {
	ID         uuid.UUID
	Status     Status
	Error      string     // FAILED only
	FinishedAt *time.Time // terminal statuses only
}

type DatabaseAddArtifactParams struct {
	JobID    uuid.UUID
	Kind     ArtifactKind
	Filename string
	Size     int64
	Checksum string
}

type DatabaseListArtifactsParams struct {
	JobID uuid.UUID
}

// Broker enqueues tasks for workers.
type Broker interface {
	Enqueue(ctx context.Context, task *Task) error
}

// Builder runs the target-specific build procedure for a job.
// It returns the finished files to record as artifacts.
type Builder interface {
	Build(ctx context.Context, job *Job) ([]ArtifactFile, error)
}

// Locker claims a job for a single worker instance.
// Acquire returns ErrLocked if another instance holds the claim.
type Locker interface {
	Acquire(ctx context.Context, jobID uuid.UUID) (release func(context.Context) error, err error)
}

// NopLocker grants every claim. It is used when only one instance runs per target.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, uuid.UUID) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// Publisher copies a finished bundle archive somewhere outside the storage root.
type Publisher interface {
	Publish(ctx context.Context, jobID uuid.UUID, path string) error
}

type Metrics interface {
	IncJobsSubmitted(target string)
	IncJobsStarted(target string)
	IncJobsCompleted(target, status string)
	ObserveBuildDuration(target string, durationSeconds float64)
}

// NopMetrics implements Metrics without emitting anything.
type NopMetrics struct{}

func (NopMetrics) IncJobsSubmitted(string)              {}
func (NopMetrics) IncJobsStarted(string)                {}
func (NopMetrics) IncJobsCompleted(string, string)      {}
func (NopMetrics) ObserveBuildDuration(string, float64) {}
