// Package imagestore is the external collaborator contract spec.md §1
// describes as "the image-file store providing reference image paths": a
// capability to resolve an image name to a filesystem path. The core only
// consumes this interface; how images got onto disk is out of scope.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store resolves a reference image name to a filesystem path and reports
// whether that path exists on disk.
type Store interface {
	// Resolve returns the path for name, trimmed to its base filename, or
	// an error if name has no usable filename at all.
	Resolve(name string) (string, error)
	// Exists reports whether the resolved path is present on disk.
	Exists(name string) bool
}

// FSStore is a Store backed by a flat directory of image files, the
// simplest concrete collaborator a deployment can point the core at.
type FSStore struct {
	root string
}

// NewFSStore returns a Store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

// Resolve trims name to its base filename, discarding any path components
// ("subdir/foo.png" resolves the same as "foo.png"), then joins it onto the
// store root. Trimming rather than rejecting matches set_references()'s
// documented "trim each name to its filename" contract; a traversal
// attempt ("../../etc/passwd") still can't escape root because Base never
// leaves a ".." component standing on its own.
func (s *FSStore) Resolve(name string) (string, error) {
	base := filepath.Base(name)
	if base == "" || base == "." || base == ".." {
		return "", fmt.Errorf("imagestore: %q has no usable filename", name)
	}
	return filepath.Join(s.root, base), nil
}

// Exists reports whether name resolves to a regular file under root.
func (s *FSStore) Exists(name string) bool {
	path, err := s.Resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
