package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/k11v/airgap/internal/bundlefs"
)

// Worker runs the build procedure for jobs of a single target.
type Worker struct {
	Target    Target    // required
	DB        Database  // required
	Builder   Builder   // required
	Locker    Locker    // optional
	Publisher Publisher // optional
	Metrics   Metrics   // optional
	Log       *slog.Logger
}

// Handle processes a delivered task.
// A nil error means the delivery can be acknowledged, including when the task needs no work.
// An error wrapping ErrRetry means the job wasn't started and the delivery should be requeued,
// for example when the job is still claimed or the database is unreachable.
// Any other error means the job was marked FAILED and the delivery should be rejected.
func (w *Worker) Handle(ctx context.Context, task *Task) error {
	log := w.logger().With("job_id", task.ID)

	job, err := w.DB.GetJob(ctx, &DatabaseGetJobParams{ID: task.ID})
	if errors.Is(err, ErrNotFound) {
		log.Warn("skipped task without job")
		return nil
	} else if err != nil {
		return fmt.Errorf("handle: %w: %w", ErrRetry, err)
	}

	if job.Spec.Target != w.Target {
		log.Debug("skipped foreign job", "target", job.Spec.Target)
		return nil
	}
	if job.Status.IsTerminal() {
		log.Info("skipped finished job", "status", job.Status)
		return nil
	}

	locker := w.Locker
	if locker == nil {
		locker = NopLocker{}
	}
	release, err := locker.Acquire(ctx, job.ID)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			log.Info("deferred job claimed by another worker")
		}
		return fmt.Errorf("handle: %w: %w", ErrRetry, err)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Error("didn't release job claim", "error", releaseErr)
		}
	}()

	job, err = w.DB.UpdateJobStatus(ctx, &DatabaseUpdateJobStatusParams{ID: job.ID, Status: StatusRunning})
	if errors.Is(err, ErrInvalidTransition) {
		log.Info("skipped job finished meanwhile")
		return nil
	} else if err != nil {
		return fmt.Errorf("handle: %w: %w", ErrRetry, err)
	}

	metrics := w.metrics()
	metrics.IncJobsStarted(string(w.Target))
	start := time.Now()
	log.Info("started job")

	err = w.run(ctx, job)
	metrics.ObserveBuildDuration(string(w.Target), time.Since(start).Seconds())
	if err != nil {
		metrics.IncJobsCompleted(string(w.Target), string(StatusFailed))
		log.Error("failed job", "error", err)
		if failErr := w.fail(ctx, job, err); failErr != nil {
			log.Error("didn't mark job as failed", "error", failErr)
			return fmt.Errorf("handle: %w", errors.Join(err, failErr))
		}
		return fmt.Errorf("handle: %w", err)
	}

	metrics.IncJobsCompleted(string(w.Target), string(StatusSucceeded))
	log.Info("succeeded job")
	return nil
}

func (w *Worker) run(ctx context.Context, job *Job) error {
	files, err := w.Builder.Build(ctx, job)
	if err != nil {
		return err
	}

	if w.Publisher != nil {
		for _, f := range files {
			if f.Kind != ArtifactKindZip {
				continue
			}
			if err = w.Publisher.Publish(ctx, job.ID, f.Path); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
		}
	}

	params := make([]*DatabaseAddArtifactParams, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			return &IOError{Op: "stat artifact", Err: err}
		}
		checksum, err := bundlefs.HashFile(f.Path)
		if err != nil {
			return &IOError{Op: "hash artifact", Err: err}
		}
		params = append(params, &DatabaseAddArtifactParams{
			JobID:    job.ID,
			Kind:     f.Kind,
			Filename: f.Filename,
			Size:     info.Size(),
			Checksum: checksum,
		})
	}

	return w.complete(ctx, job, params)
}

// complete records the artifacts and the SUCCEEDED status in one transaction.
func (w *Worker) complete(ctx context.Context, job *Job, params []*DatabaseAddArtifactParams) error {
	tx, err := w.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, ErrTxAlreadyClosed) {
			w.logger().Error("didn't roll back", "job_id", job.ID, "error", rollbackErr)
		}
	}()

	for _, p := range params {
		if _, err = tx.AddArtifact(ctx, p); err != nil {
			return fmt.Errorf("complete: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = tx.UpdateJobStatus(ctx, &DatabaseUpdateJobStatusParams{
		ID:         job.ID,
		Status:     StatusSucceeded,
		FinishedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) error {
	now := time.Now().UTC()
	_, err := w.DB.UpdateJobStatus(context.WithoutCancel(ctx), &DatabaseUpdateJobStatusParams{
		ID:         job.ID,
		Status:     StatusFailed,
		Error:      cause.Error(),
		FinishedAt: &now,
	})
	return err
}

func (w *Worker) logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default().With("component", "worker", "target", w.Target)
	}
	return w.Log
}

func (w *Worker) metrics() Metrics {
	if w.Metrics == nil {
		return NopMetrics{}
	}
	return w.Metrics
}
