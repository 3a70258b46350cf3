package bundle

import (
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID         uuid.UUID
	Spec       *Spec
	Platform   Platform
	Status     Status
	Error      string     // set only when Status is FAILED
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time // set only when Status is terminal
}

type ArtifactKind string

const (
	ArtifactKindZip      ArtifactKind = "zip"
	ArtifactKindChecksum ArtifactKind = "checksum"
	ArtifactKindSBOM     ArtifactKind = "sbom"
)

func ArtifactKindFromString(s string) (kind ArtifactKind, known bool) {
	switch k := ArtifactKind(s); k {
	case ArtifactKindZip, ArtifactKindChecksum, ArtifactKindSBOM:
		return k, true
	default:
		return k, false
	}
}

type Artifact struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Kind      ArtifactKind
	Filename  string // relative to the job's output root
	Size      int64
	Checksum  string // sha256, hex
	CreatedAt time.Time
}

// ArtifactFile is a finished file produced by a Builder that is yet to be recorded.
type ArtifactFile struct {
	Kind     ArtifactKind
	Filename string
	Path     string
}

// Task is the queue message for a job.
// The spec is carried for redundancy; workers act on the stored job.
type Task struct {
	ID     uuid.UUID `json:"id"`
	Target Target    `json:"target"`
	Spec   *Spec     `json:"spec"`
}
