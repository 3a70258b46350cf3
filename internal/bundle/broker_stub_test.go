package bundle

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var _ Broker = (*StubBroker)(nil)

type StubBroker struct {
	Err   error
	Tasks []*Task
}

func (b *StubBroker) Enqueue(ctx context.Context, task *Task) error {
	if b.Err != nil {
		return b.Err
	}
	b.Tasks = append(b.Tasks, task)
	return nil
}

var _ Builder = (*StubBuilder)(nil)

// StubBuilder writes one file per artifact kind into Dir.
type StubBuilder struct {
	Dir   string
	Err   error
	Kinds []ArtifactKind
}

func (b *StubBuilder) Build(ctx context.Context, job *Job) ([]ArtifactFile, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	var files []ArtifactFile
	for _, kind := range b.Kinds {
		path := filepath.Join(b.Dir, job.ID.String()+"-"+string(kind))
		if err := os.WriteFile(path, []byte(kind), 0o644); err != nil {
			return nil, err
		}
		files = append(files, ArtifactFile{Kind: kind, Filename: string(kind), Path: path})
	}
	return files, nil
}

var _ Locker = (*StubLocker)(nil)

type StubLocker struct {
	Err      error
	Released *int
}

func (l *StubLocker) Acquire(ctx context.Context, jobID uuid.UUID) (func(context.Context) error, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return func(context.Context) error {
		if l.Released == nil {
			l.Released = new(int)
		}
		*l.Released++
		return nil
	}, nil
}

var _ Publisher = (*SpyPublisher)(nil)

type SpyPublisher struct {
	Err   error
	Paths []string
}

func (p *SpyPublisher) Publish(ctx context.Context, jobID uuid.UUID, path string) error {
	p.Paths = append(p.Paths, path)
	return p.Err
}
