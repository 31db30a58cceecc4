package zarr

import "github.com/pkg/errors"

// Sentinel errors for the package. Callers should test with errors.Is; most
// returned errors wrap one of these with path or key context.
var (
	// ErrNotFound indicates a missing key: no metadata document at a path,
	// or no chunk at a coordinate. For chunk reads this is a valid outcome,
	// not a failure; the caller substitutes the array's fill value.
	ErrNotFound = errors.New("not found")

	// ErrInvalidShape indicates a rank mismatch or a non-positive dimension
	// in a shape or chunk shape at array creation or resize.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrCorruptMetadata indicates a metadata document that exists but is
	// unparsable or violates invariants. Never auto-repaired.
	ErrCorruptMetadata = errors.New("corrupt metadata")

	// ErrDecode indicates a chunk payload that fails the codec contract:
	// malformed stream, or decompressed length differing from the chunk's
	// expected byte size.
	ErrDecode = errors.New("chunk decode failed")

	// ErrReadOnly indicates a write through an array opened in mode "r".
	ErrReadOnly = errors.New("array is read-only")

	// ErrExists indicates mode "w-" creation of an array that already exists.
	ErrExists = errors.New("already exists")
)
