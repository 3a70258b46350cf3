package bundle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	callBegin           = "Begin"
	callCommit          = "Commit"
	callCreateJob       = "CreateJob"
	callGetJob          = "GetJob"
	callUpdateJobStatus = "UpdateJobStatus"
	callAddArtifact     = "AddArtifact"
	callListArtifacts   = "ListArtifacts"
	callRollback        = "Rollback"
)

var _ Database = (*SpyDatabase)(nil)

// SpyDatabase keeps a single job in memory and enforces status transitions on it.
type SpyDatabase struct {
	Job       *Job // nil means the job doesn't exist
	Artifacts []*Artifact

	CreateJobErr       error
	GetJobErr          error
	UpdateJobStatusErr error

	Calls *[]string // doesn't contain rolled back calls; UpdateJobStatus calls are suffixed with the status
}

type SpyDatabaseTx struct {
	*SpyDatabase
	CommitFunc   func() error
	RollbackFunc func() error
}

func (tx *SpyDatabaseTx) Commit(ctx context.Context) error {
	return tx.CommitFunc()
}

func (tx *SpyDatabaseTx) Rollback(ctx context.Context) error {
	return tx.RollbackFunc()
}

func (d *SpyDatabase) Begin(ctx context.Context) (DatabaseTx, error) {
	d.appendCalls(callBegin)

	txDatabase := *d
	txDatabase.Calls = new([]string)
	if d.Job != nil {
		job := *d.Job
		txDatabase.Job = &job
	}
	txDatabase.Artifacts = append([]*Artifact(nil), d.Artifacts...)

	closed := false
	tx := &SpyDatabaseTx{
		SpyDatabase: &txDatabase,
		CommitFunc: func() error {
			if closed {
				return ErrTxAlreadyClosed
			}
			closed = true
			d.Job = txDatabase.Job
			d.Artifacts = txDatabase.Artifacts
			d.appendCalls(*txDatabase.Calls...)
			d.appendCalls(callCommit)
			return nil
		},
		RollbackFunc: func() error {
			if closed {
				return ErrTxAlreadyClosed
			}
			closed = true
			d.appendCalls(callRollback)
			return nil
		},
	}
	return tx, nil
}

func (d *SpyDatabase) appendCalls(c ...string) {
	if d.Calls == nil {
		d.Calls = new([]string)
	}
	*d.Calls = append(*d.Calls, c...)
}

func (d *SpyDatabase) CreateJob(ctx context.Context, params *DatabaseCreateJobParams) (*Job, error) {
	d.appendCalls(callCreateJob)
	if d.CreateJobErr != nil {
		return nil, d.CreateJobErr
	}
	now := time.Now().UTC()
	d.Job = &Job{
		ID:        uuid.New(),
		Spec:      params.Spec,
		Platform:  params.Platform,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job := *d.Job
	return &job, nil
}

func (d *SpyDatabase) GetJob(ctx context.Context, params *DatabaseGetJobParams) (*Job, error) {
	d.appendCalls(callGetJob)
	if d.GetJobErr != nil {
		return nil, d.GetJobErr
	}
	if d.Job == nil || d.Job.ID != params.ID {
		return nil, ErrNotFound
	}
	job := *d.Job
	return &job, nil
}

func (d *SpyDatabase) UpdateJobStatus(ctx context.Context, params *DatabaseUpdateJobStatusParams) (*Job, error) {
	d.appendCalls(callUpdateJobStatus + " " + string(params.Status))
	if d.UpdateJobStatusErr != nil {
		return nil, d.UpdateJobStatusErr
	}
	if d.Job == nil || d.Job.ID != params.ID {
		return nil, ErrNotFound
	}
	if !CanTransition(d.Job.Status, params.Status) {
		return nil, ErrInvalidTransition
	}
	d.Job.Status = params.Status
	d.Job.UpdatedAt = time.Now().UTC()
	if d.Job.FinishedAt == nil {
		d.Job.Error = params.Error
		d.Job.FinishedAt = params.FinishedAt
	}
	job := *d.Job
	return &job, nil
}

func (d *SpyDatabase) AddArtifact(ctx context.Context, params *DatabaseAddArtifactParams) (*Artifact, error) {
	d.appendCalls(callAddArtifact)
	if d.Job == nil || d.Job.ID != params.JobID {
		return nil, ErrNotFound
	}
	a := &Artifact{
		ID:        uuid.New(),
		JobID:     params.JobID,
		Kind:      params.Kind,
		Filename:  params.Filename,
		Size:      params.Size,
		Checksum:  params.Checksum,
		CreatedAt: time.Now().UTC(),
	}
	d.Artifacts = append(d.Artifacts, a)
	return a, nil
}

func (d *SpyDatabase) ListArtifacts(ctx context.Context, params *DatabaseListArtifactsParams) ([]*Artifact, error) {
	d.appendCalls(callListArtifacts)
	var artifacts []*Artifact
	for _, a := range d.Artifacts {
		if a.JobID == params.JobID {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}
