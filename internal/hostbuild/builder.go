// Package hostbuild builds bundles of npm, pip and apt packages for offline installation on a host.
package hostbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/bundlefs"
	"github.com/k11v/airgap/internal/engine"
)

const (
	DefaultNPMImage = "node:20-bullseye"
	DefaultPipImage = "python:3.11-slim"
)

const outputTailLen = 2048

// Sandbox runs disposable containers.
type Sandbox interface {
	Available(ctx context.Context) bool
	Run(ctx context.Context, params *engine.RunParams) (*engine.RunResult, error)
}

type Config struct {
	StorageDir string // required

	// SandboxDisabled skips the sandbox probe and always uses host tooling.
	SandboxDisabled bool

	NPMImage string // default: DefaultNPMImage
	PipImage string // default: DefaultPipImage
}

func (c *Config) npmImage() string {
	if c.NPMImage == "" {
		return DefaultNPMImage
	}
	return c.NPMImage
}

func (c *Config) pipImage() string {
	if c.PipImage == "" {
		return DefaultPipImage
	}
	return c.PipImage
}

var _ bundle.Builder = (*Builder)(nil)

type Builder struct {
	sandbox   Sandbox   // optional
	commander Commander // required
	log       *slog.Logger
	cfg       Config
	owner     string // "uid:gid" sandboxed files are handed to, empty to keep root
}

func NewBuilder(sandbox Sandbox, commander Commander, log *slog.Logger, cfg *Config) *Builder {
	owner := ""
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
		owner = fmt.Sprintf("%d:%d", uid, gid)
	}
	return &Builder{
		sandbox:   sandbox,
		commander: commander,
		log:       log.With("component", "hostbuild"),
		cfg:       *cfg,
		owner:     owner,
	}
}

// Build fetches the packages of job into an offline layout under the storage root and zips it.
// The first failed package aborts the build.
func (b *Builder) Build(ctx context.Context, job *bundle.Job) ([]bundle.ArtifactFile, error) {
	if job.Spec == nil || job.Spec.Host == nil {
		return nil, errors.New("hostbuild: job has no host spec")
	}
	spec := job.Spec.Host

	dir := bundle.JobDir(b.cfg.StorageDir, job.ID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, &bundle.IOError{Op: "reset build directory", Err: err}
	}
	if err := bundlefs.EnsureDir(filepath.Join(dir, "scripts")); err != nil {
		return nil, &bundle.IOError{Op: "create build directory", Err: err}
	}

	sandboxed := b.sandboxAvailable(ctx)
	b.log.Info("fetching packages", "job_id", job.ID, "sandboxed", sandboxed)

	kinds := []struct {
		name  string
		pkgs  []bundle.Package
		fetch func(ctx context.Context, out string, pkgs []bundle.Package, sandboxed bool) error
	}{
		{"npm", spec.NPM, b.fetchNPM},
		{"pip", spec.Pip, b.fetchPip},
		{"apt", spec.Apt, func(ctx context.Context, out string, pkgs []bundle.Package, sandboxed bool) error {
			return b.fetchApt(ctx, out, pkgs, spec.ResolvedDistroImage(), sandboxed)
		}},
	}
	for _, k := range kinds {
		if len(k.pkgs) == 0 {
			continue
		}
		out := filepath.Join(dir, hostDir, k.name)
		if err := bundlefs.EnsureDir(out); err != nil {
			return nil, &bundle.IOError{Op: "create " + k.name + " directory", Err: err}
		}
		if err := k.fetch(ctx, out, k.pkgs, sandboxed); err != nil {
			return nil, err
		}
	}

	script, err := installScript(installKinds{NPM: len(spec.NPM) > 0, Pip: len(spec.Pip) > 0, Apt: len(spec.Apt) > 0})
	if err != nil {
		return nil, &bundle.IOError{Op: "render install script", Err: err}
	}
	if err = bundlefs.WriteFile(filepath.Join(dir, filepath.FromSlash(installPath)), script, 0o755); err != nil {
		return nil, &bundle.IOError{Op: "write install script", Err: err}
	}

	files, err := bundlefs.Walk(dir, hostDir)
	if err != nil {
		return nil, &bundle.IOError{Op: "list packages", Err: err}
	}
	files = append(files, installPath)
	if err = bundlefs.WriteChecksums(dir, files, filepath.Join(dir, filepath.FromSlash(checksumsPath))); err != nil {
		return nil, &bundle.IOError{Op: "write checksums", Err: err}
	}

	zipPath := bundle.ArchivePath(b.cfg.StorageDir, job.ID)
	if err = bundlefs.ZipDir(dir, zipPath); err != nil {
		return nil, &bundle.IOError{Op: "write archive", Err: err}
	}

	return []bundle.ArtifactFile{
		{Kind: bundle.ArtifactKindZip, Filename: bundle.ArchiveName(job.ID), Path: zipPath},
	}, nil
}

// sandboxAvailable probes the sandbox once per build.
func (b *Builder) sandboxAvailable(ctx context.Context) bool {
	if b.cfg.SandboxDisabled || b.sandbox == nil {
		return false
	}
	return b.sandbox.Available(ctx)
}

func (b *Builder) fetchNPM(ctx context.Context, out string, pkgs []bundle.Package, sandboxed bool) error {
	if !sandboxed {
		if _, err := b.commander.LookPath("npm"); err != nil {
			return &bundle.EnvironmentError{Err: fmt.Errorf("sandbox unavailable and npm not installed: %w", err)}
		}
	}
	for _, p := range pkgs {
		ref := p.Name + "@" + p.Version
		var err error
		if sandboxed {
			err = b.runSandboxed(ctx, b.cfg.npmImage(), out, true, "npm", "pack", ref)
		} else {
			err = b.runNative(ctx, out, "npm", "pack", ref)
		}
		if err != nil {
			return &bundle.FetchError{Item: "npm " + ref, Err: err}
		}
	}
	return writeNotes(out, map[string]string{"npmrc-template": npmrcTemplate, "README.txt": npmReadme})
}

func (b *Builder) fetchPip(ctx context.Context, out string, pkgs []bundle.Package, sandboxed bool) error {
	pip := "pip"
	if !sandboxed {
		var err error
		if pip, err = b.lookPipCommand(); err != nil {
			return &bundle.EnvironmentError{Err: fmt.Errorf("sandbox unavailable and pip not installed: %w", err)}
		}
	}
	for _, p := range pkgs {
		ref := p.Name
		if p.Version != "" {
			ref += "==" + p.Version
		}
		var err error
		if sandboxed {
			err = b.runSandboxed(ctx, b.cfg.pipImage(), out, true, pip, "download", ref, "-d", sandboxOutDir)
		} else {
			err = b.runNative(ctx, out, pip, "download", ref, "-d", out)
		}
		if err != nil {
			return &bundle.FetchError{Item: "pip " + ref, Err: err}
		}
	}
	return writeNotes(out, map[string]string{"README.txt": pipReadme})
}

func (b *Builder) lookPipCommand() (string, error) {
	if _, err := b.commander.LookPath("pip"); err == nil {
		return "pip", nil
	}
	if _, err := b.commander.LookPath("pip3"); err != nil {
		return "", err
	}
	return "pip3", nil
}

func (b *Builder) fetchApt(ctx context.Context, out string, pkgs []bundle.Package, distroImage string, sandboxed bool) error {
	refs := make([]string, len(pkgs))
	for i, p := range pkgs {
		refs[i] = p.Name
		if p.Version != "" {
			refs[i] += "=" + p.Version
		}
	}

	if sandboxed {
		script, err := aptScript(refs, b.owner)
		if err != nil {
			return &bundle.IOError{Op: "render apt script", Err: err}
		}
		if err = b.runSandboxed(ctx, distroImage, out, false, "bash", "-lc", script); err != nil {
			return &bundle.FetchError{Item: "apt " + strings.Join(refs, " "), Err: err}
		}
		return writeNotes(out, map[string]string{"README.txt": aptReadme})
	}

	if _, err := b.commander.LookPath("apt-get"); err != nil {
		return &bundle.EnvironmentError{Err: fmt.Errorf("sandbox unavailable and apt-get not installed: %w", err)}
	}
	if err := b.runNative(ctx, out, "apt-get", "update"); err != nil {
		return &bundle.FetchError{Item: "apt index", Err: err}
	}
	for _, ref := range refs {
		if err := b.runNative(ctx, out, "apt-get", "download", ref); err != nil {
			return &bundle.FetchError{Item: "apt " + ref, Err: err}
		}
	}
	if err := b.writeAptIndex(ctx, out); err != nil {
		// The .deb files stay installable one by one without an index.
		b.log.Warn("didn't write apt package index", "dir", out, "error", err)
	}
	return writeNotes(out, map[string]string{"README.txt": aptReadme})
}

// writeAptIndex writes a gzip-compressed Packages index of the .deb files in out.
func (b *Builder) writeAptIndex(ctx context.Context, out string) error {
	if _, err := b.commander.LookPath("dpkg-scanpackages"); err != nil {
		return err
	}
	index, err := b.commander.Output(ctx, out, "dpkg-scanpackages", ".", "/dev/null")
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err = zw.Write(index); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	return bundlefs.WriteFile(filepath.Join(out, aptPackagesGz), buf.Bytes(), 0o644)
}

// runSandboxed runs cmd in a disposable container with out mounted as its working directory.
// Unprivileged runs use the builder's owner so fetched files stay removable by the worker.
func (b *Builder) runSandboxed(ctx context.Context, image, out string, unprivileged bool, cmd ...string) error {
	params := &engine.RunParams{
		Image:      image,
		Cmd:        cmd,
		WorkingDir: sandboxOutDir,
		Binds:      []engine.Bind{{Source: out, Target: sandboxOutDir}},
	}
	if unprivileged && b.owner != "" {
		params.User = b.owner
		params.Env = []string{"HOME=" + sandboxHomeDir}
	}
	_, err := b.sandbox.Run(ctx, params)
	return err
}

func (b *Builder) runNative(ctx context.Context, dir, name string, args ...string) error {
	output, err := b.commander.CombinedOutput(ctx, dir, name, args...)
	if err != nil {
		if tail := lastBytes(strings.TrimSpace(string(output)), outputTailLen); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

func writeNotes(out string, notes map[string]string) error {
	for name, content := range notes {
		if err := bundlefs.WriteFile(filepath.Join(out, name), []byte(content), 0o644); err != nil {
			return &bundle.IOError{Op: "write " + name, Err: err}
		}
	}
	return nil
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
