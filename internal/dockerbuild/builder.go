// Package dockerbuild builds bundles of container images installable with Docker Compose.
package dockerbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/bundlefs"
)

// placeholderContent is saved instead of an image tarball when pulls are disabled.
const placeholderContent = "dummy"

const (
	checksumsFilename = "compliance/checksums.txt"
	sbomFilename      = "compliance/sbom-images.json"
	imagesPattern     = "docker/images/*.tar"
)

// ImageEngine pulls and saves images.
type ImageEngine interface {
	Pull(ctx context.Context, ref, platform string) error
	Save(ctx context.Context, ref, dst string) error
}

type Config struct {
	StorageDir string // required

	// DockerDisabled replaces pulls and saves with placeholder files.
	DockerDisabled bool
}

var _ bundle.Builder = (*Builder)(nil)

type Builder struct {
	engine ImageEngine // required unless cfg.DockerDisabled
	log    *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewBuilder(engine ImageEngine, log *slog.Logger, cfg *Config) *Builder {
	return &Builder{
		engine: engine,
		log:    log.With("component", "dockerbuild"),
		cfg:    *cfg,
		now:    time.Now,
	}
}

// Build assembles the docker bundle of job under the storage root and zips it.
// A previous build directory of the same job is replaced.
func (b *Builder) Build(ctx context.Context, job *bundle.Job) ([]bundle.ArtifactFile, error) {
	if job.Spec == nil || job.Spec.Docker == nil {
		return nil, errors.New("dockerbuild: job has no docker spec")
	}
	images := job.Spec.Docker.Images
	platform := job.Platform
	if platform == "" {
		platform = bundle.ResolvePlatform(job.Spec, "")
	}

	dir := bundle.JobDir(b.cfg.StorageDir, job.ID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, &bundle.IOError{Op: "reset build directory", Err: err}
	}
	if err := bundlefs.EnsureDir(filepath.Join(dir, "docker", "images")); err != nil {
		return nil, &bundle.IOError{Op: "create build directory", Err: err}
	}

	if err := b.writeLayout(dir, images, platform); err != nil {
		return nil, err
	}

	if err := b.saveImages(ctx, dir, images, platform); err != nil {
		return nil, err
	}

	files, err := bundlefs.Glob(dir, imagesPattern)
	if err != nil {
		return nil, &bundle.IOError{Op: "list images", Err: err}
	}

	checksumsPath := filepath.Join(dir, filepath.FromSlash(checksumsFilename))
	if err = bundlefs.WriteChecksums(dir, files, checksumsPath); err != nil {
		return nil, &bundle.IOError{Op: "write checksums", Err: err}
	}

	sbomPath := filepath.Join(dir, filepath.FromSlash(sbomFilename))
	if err = b.writeSBOM(dir, files, sbomPath); err != nil {
		return nil, &bundle.IOError{Op: "write sbom", Err: err}
	}

	zipPath := bundle.ArchivePath(b.cfg.StorageDir, job.ID)
	if err = bundlefs.ZipDir(dir, zipPath); err != nil {
		return nil, &bundle.IOError{Op: "write archive", Err: err}
	}

	return []bundle.ArtifactFile{
		{Kind: bundle.ArtifactKindZip, Filename: bundle.ArchiveName(job.ID), Path: zipPath},
		{Kind: bundle.ArtifactKindChecksum, Filename: checksumsFilename, Path: checksumsPath},
		{Kind: bundle.ArtifactKindSBOM, Filename: sbomFilename, Path: sbomPath},
	}, nil
}

func (b *Builder) writeLayout(dir string, images []bundle.Image, platform bundle.Platform) error {
	compose, err := composeFile(images, platform)
	if err != nil {
		return &bundle.IOError{Op: "render compose file", Err: err}
	}

	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{"docker/docker-compose.yml", compose, 0o644},
		{"docker/load-images.sh", []byte(loadImagesScript), 0o755},
		{"scripts/install.sh", []byte(installScript), 0o755},
		{"README.md", []byte(readme(images)), 0o644},
	}
	for _, f := range files {
		if err = bundlefs.WriteFile(filepath.Join(dir, filepath.FromSlash(f.name)), f.data, f.perm); err != nil {
			return &bundle.IOError{Op: "write " + f.name, Err: err}
		}
	}
	return nil
}

// saveImages saves every image in order. The first failure aborts the rest.
func (b *Builder) saveImages(ctx context.Context, dir string, images []bundle.Image, platform bundle.Platform) error {
	imagesDir := filepath.Join(dir, "docker", "images")
	for _, img := range images {
		ref := img.Reference()
		dst := filepath.Join(imagesDir, img.ArchiveName())

		if b.cfg.DockerDisabled {
			if err := bundlefs.WriteFile(dst, []byte(placeholderContent), 0o644); err != nil {
				return &bundle.IOError{Op: "write placeholder " + img.ArchiveName(), Err: err}
			}
			continue
		}

		b.log.Info("pulling image", "ref", ref, "platform", platform)
		if err := b.engine.Pull(ctx, ref, string(platform)); err != nil {
			return &bundle.FetchError{Item: ref, Err: err}
		}
		if err := b.engine.Save(ctx, ref, dst); err != nil {
			return &bundle.FetchError{Item: ref, Err: err}
		}
	}
	return nil
}

type sbomDocument struct {
	GeneratedAt string      `json:"generatedAt"`
	Images      []sbomImage `json:"images"`
}

type sbomImage struct {
	File string `json:"file"`
	Size int64  `json:"size"`
}

func (b *Builder) writeSBOM(dir string, files []string, dst string) error {
	doc := sbomDocument{
		GeneratedAt: b.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Images:      make([]sbomImage, 0, len(files)),
	}
	for _, f := range files {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return err
		}
		doc.Images = append(doc.Images, sbomImage{File: f, Size: info.Size()})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sbom: %w", err)
	}
	return bundlefs.WriteFile(dst, data, 0o644)
}
