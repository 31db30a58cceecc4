// Package zarr implements a minimal chunked, compressed, N-dimensional array
// store following the Zarr v2 storage convention: per-array JSON metadata
// under a ".zarray" key, group markers under ".zgroup", and one compressed
// binary object per chunk, keyed by a separator-joined coordinate string.
//
// The package is organized around four pieces: array metadata (metadata.go),
// a pluggable chunk codec (codec.go), a key-value chunk store with atomic
// publish semantics (store.go), and an Array view that maps N-dimensional
// selections onto chunk reads and writes (array.go, indexing.go).
package zarr

import "strings"

// Format is the Zarr storage specification version this package writes.
const Format = 2

// Path is a normalized logical location within a Store.
type Path []string

// NewPath normalizes a posix-style path into a Path.
//
// To ensure consistent behaviour across different storage systems, logical
// paths are normalized as follows:
//   - replace all backward slash characters with forward slashes
//   - strip leading and trailing "/" characters
//   - collapse any run of "/" characters into one
func NewPath(posix string) Path {
	posix = strings.ReplaceAll(posix, "\\", "/")
	parts := strings.Split(posix, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			p = append(p, part)
		}
	}
	return p
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new Path with elems appended. The receiver is not modified.
func (p Path) Join(elems ...string) Path {
	joined := make(Path, 0, len(p)+len(elems))
	joined = append(joined, p...)
	joined = append(joined, elems...)
	return joined
}

// PersistenceMode controls create/overwrite behaviour when opening an array.
type PersistenceMode string

const (
	// ModeRead means read only (must exist).
	ModeRead PersistenceMode = "r"
	// ModeReadWrite means read/write (must exist).
	ModeReadWrite PersistenceMode = "r+"
	// ModeReadWriteCreate means read/write (create if it doesn't exist).
	ModeReadWriteCreate PersistenceMode = "a"
	// ModeWrite means create (overwrite if exists).
	ModeWrite PersistenceMode = "w"
	// ModeWriteFail means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)
