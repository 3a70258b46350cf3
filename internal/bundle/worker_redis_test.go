package bundle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/bundle/bundleredis"
)

func TestWorkerHandleRedeliveryAfterCrash(t *testing.T) {
	ctx := context.Background()
	id := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// The worker that crashed left its claim behind and the job RUNNING.
	if err := mr.Set(bundleredis.Key(id), "crashed-worker"); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	mr.SetTTL(bundleredis.Key(id), bundleredis.DefaultTTL)

	db := &bundle.SpyDatabase{Job: &bundle.Job{
		ID: id,
		Spec: &bundle.Spec{
			Target: bundle.TargetDocker,
			Docker: &bundle.DockerSpec{Images: []bundle.Image{{Name: "redis", Tag: "7"}}},
		},
		Platform: bundle.PlatformLinuxAMD64,
		Status:   bundle.StatusRunning,
	}}
	w := &bundle.Worker{
		Target: bundle.TargetDocker,
		DB:     db,
		Builder: &bundle.StubBuilder{
			Dir:   t.TempDir(),
			Kinds: []bundle.ArtifactKind{bundle.ArtifactKindZip, bundle.ArtifactKindChecksum, bundle.ArtifactKindSBOM},
		},
		Locker: bundleredis.NewLocker(client, 0),
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	task := &bundle.Task{ID: id, Target: bundle.TargetDocker}

	err := w.Handle(ctx, task)
	if !errors.Is(err, bundle.ErrRetry) {
		t.Fatalf("got %v, want %v", err, bundle.ErrRetry)
	}
	if got, want := db.Job.Status, bundle.StatusRunning; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if len(db.Artifacts) != 0 {
		t.Fatalf("got %d artifacts, want none", len(db.Artifacts))
	}

	mr.FastForward(bundleredis.DefaultTTL + time.Second)

	if err = w.Handle(ctx, task); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	if got, want := db.Job.Status, bundle.StatusSucceeded; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := len(db.Artifacts), 3; got != want {
		t.Fatalf("got %d artifacts, want %d", got, want)
	}
	if mr.Exists(bundleredis.Key(id)) {
		t.Fatalf("got claim after the build, want it released")
	}
}
