// Package registry implements the shared-filesystem presence registry.
//
// # Convention
//
// The registry is a directory convention, not a service. Each available
// worker creates a zero-content marker file named after its own host
// identity; deleting the file retracts availability. Absence of the file
// is the only record of unavailability. Controllers discover workers by
// listing the directory.
//
// The directory is namespaced by protocol version and platform family:
//
//	<root>/main/<version>.<platform>/<identity>
//
// so workers built against incompatible protocol revisions never see each
// other.
//
// # Concurrency
//
// Any number of worker processes write to the directory concurrently, but
// each only ever creates or deletes its own uniquely named file, so no
// locking is needed. Listing tolerates entries vanishing mid-read; a
// worker retracting while a controller lists is an ordinary event, not an
// error.
//
// # Staleness
//
// A worker that exits without retracting leaves its marker behind. That
// staleness window is part of the contract: cleanup is best-effort only,
// and readers must expect the occasional dead entry.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// RootFor derives the versioned, platform-tagged registry directory from
// a configured base path.
func RootFor(base string, version int, tag string) string {
	return filepath.Join(base, "main", fmt.Sprintf("%d.%s", version, tag))
}

// Registry is a handle on one versioned registry directory.
type Registry struct {
	root   string
	logger *zap.Logger
}

// New returns a Registry over the given (already versioned) root
// directory. The directory is created lazily on first publish, not here:
// a controller that only ever lists must not create registry directories
// on a shared filesystem.
func New(root string, logger *zap.Logger) *Registry {
	return &Registry{root: root, logger: logger}
}

// Root returns the registry directory.
func (r *Registry) Root() string {
	return r.root
}

// MarkerPath returns the path of the marker file for the given identity.
func (r *Registry) MarkerPath(identity string) string {
	return filepath.Join(r.root, identity)
}

// List returns the identities of all currently advertised workers, i.e.
// the names of the entries in the registry directory. A missing or
// unreadable directory is an error; the caller decides whether that is
// fatal (for this system it never is).
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list registry %q: %w", r.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			// Foreign debris; markers are always plain files.
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Publish ensures a marker file exists for the given identity, creating
// the registry directory if needed. It reports whether a file was
// actually created: re-publishing over an existing marker is a no-op so
// periodic re-assertion causes no filesystem churn.
func (r *Registry) Publish(identity string) (bool, error) {
	path := r.MarkerPath(identity)
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return false, fmt.Errorf("create registry %q: %w", r.root, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create marker %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return true, err
	}
	r.logger.Debug("published availability marker", zap.String("path", path))
	return true, nil
}

// Retract removes the marker file for the given identity. Retracting an
// identity that was never published is not an error.
func (r *Registry) Retract(identity string) error {
	path := r.MarkerPath(identity)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove marker %q: %w", path, err)
	}
	return nil
}
