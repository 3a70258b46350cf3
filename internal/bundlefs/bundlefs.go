// Package bundlefs provides the file operations bundles are assembled with:
// directories, content hashes, checksum manifests and zip archives.
package bundlefs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// HashFile returns the hex-encoded sha256 digest of the file content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	// os.WriteFile keeps the mode of an existing file.
	return os.Chmod(path, perm)
}

// Glob returns the regular files under root matching pattern, relative to root
// and slash-separated, in lexical order.
func Glob(root, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return nil, err
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return files, nil
}

// Walk returns the regular files under root/dir, relative to root and
// slash-separated, in lexical walk order. A missing dir yields no files.
func Walk(root, dir string) ([]string, error) {
	start := filepath.Join(root, filepath.FromSlash(dir))
	if _, err := os.Stat(start); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Checksums returns one "<sha256>  <relpath>\n" line per file, in the given order.
func Checksums(root string, files []string) ([]byte, error) {
	var b strings.Builder
	for _, f := range files {
		sum, err := HashFile(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", f, err)
		}
		b.WriteString(sum)
		b.WriteString("  ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// WriteChecksums writes the checksum manifest of files to dst.
func WriteChecksums(root string, files []string, dst string) error {
	data, err := Checksums(root, files)
	if err != nil {
		return err
	}
	return WriteFile(dst, data, 0o644)
}
