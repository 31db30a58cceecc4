package zarr

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Array is a view over one stored N-dimensional array. It holds no chunk
// state between calls: every GetSlice/SetSlice reads exactly the chunks the
// selection touches and releases them when the call returns.
type Array struct {
	store Store
	path  Path
	mode  PersistenceMode
	meta  *ArrayMeta
	codec Codec
	log   *zap.Logger
	limit int

	// metaMu guards meta replacement during Resize. Chunk data itself is
	// protected by locks below plus the store's atomic publish.
	metaMu sync.RWMutex
	locks  *keyLocks

	tolerateCorrupt bool
}

// ArrayOption configures an Array view.
type ArrayOption func(*Array)

// WithLogger sets the logger for operation debug output. The default is a
// no-op logger.
func WithLogger(l *zap.Logger) ArrayOption {
	return func(a *Array) { a.log = l }
}

// WithConcurrency bounds the number of chunks processed in parallel within
// one GetSlice or SetSlice call. The default is GOMAXPROCS; chunk decode is
// CPU-bound and independent per chunk.
func WithConcurrency(n int) ArrayOption {
	return func(a *Array) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithTolerateCorruptChunks makes reads treat a chunk that fails to decode
// as if it were never written, substituting the fill value. Without this
// option a decode failure is fatal to the read.
func WithTolerateCorruptChunks() ArrayOption {
	return func(a *Array) { a.tolerateCorrupt = true }
}

// Create initializes a new array at path. Mode must be ModeWrite, which
// replaces any existing array metadata, or ModeWriteFail, which returns
// ErrExists when metadata is already present. Chunks from a replaced array
// are not deleted; they are unreachable once metadata changes shape or
// dtype, and identical layouts simply adopt them.
func Create(ctx context.Context, store Store, path string, mode PersistenceMode, m *ArrayMeta, opts ...ArrayOption) (*Array, error) {
	switch mode {
	case ModeWrite:
	case ModeWriteFail:
		ok, err := store.Exists(ctx, NewPath(path).Join(string(MTArray)).String())
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, errors.Wrap(ErrExists, path)
		}
	default:
		return nil, errors.Errorf("create requires mode %q or %q, got %q", ModeWrite, ModeWriteFail, mode)
	}

	meta := *m
	if meta.ZarrFormat == 0 {
		meta.ZarrFormat = Format
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	if err := SaveArrayMeta(ctx, store, NewPath(path), &meta); err != nil {
		return nil, err
	}
	return newArray(store, path, ModeReadWrite, &meta, opts...)
}

// Open loads an existing array at path. Mode ModeRead yields a read-only
// view; ModeReadWrite and ModeReadWriteCreate yield writable views. The
// array must exist; creation needs metadata and goes through Create.
func Open(ctx context.Context, store Store, path string, mode PersistenceMode, opts ...ArrayOption) (*Array, error) {
	switch mode {
	case ModeRead, ModeReadWrite, ModeReadWriteCreate:
	default:
		return nil, errors.Errorf("open requires mode %q, %q or %q, got %q", ModeRead, ModeReadWrite, ModeReadWriteCreate, mode)
	}
	m, err := LoadArrayMeta(ctx, store, NewPath(path))
	if err != nil {
		return nil, err
	}
	return newArray(store, path, mode, m, opts...)
}

func newArray(store Store, path string, mode PersistenceMode, m *ArrayMeta, opts ...ArrayOption) (*Array, error) {
	var cfg CompressorConfig
	if m.Compressor != nil {
		cfg = *m.Compressor
	}
	codec, err := NewCodec(cfg, m.Dtype.Size())
	if err != nil {
		return nil, err
	}
	a := &Array{
		store: store,
		path:  NewPath(path),
		mode:  mode,
		meta:  m,
		codec: codec,
		log:   zap.NewNop(),
		limit: runtime.GOMAXPROCS(0),
		locks: newKeyLocks(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Meta returns a copy of the array's metadata.
func (a *Array) Meta() ArrayMeta {
	a.metaMu.RLock()
	defer a.metaMu.RUnlock()
	return *a.meta
}

// Shape returns the current array shape.
func (a *Array) Shape() []int {
	a.metaMu.RLock()
	defer a.metaMu.RUnlock()
	shape := make([]int, len(a.meta.Shape))
	copy(shape, a.meta.Shape)
	return shape
}

// Path returns the array's location within its store.
func (a *Array) Path() string { return a.path.String() }

// GetSlice reads the selection into a freshly allocated dense row-major
// buffer. Out-of-bounds selection indices clamp to the array shape; a fully
// out-of-range selection yields an empty buffer. Chunks the selection never
// touches are never read, and chunks that were never written read as the
// fill value. Intersecting chunks are fetched and decoded in parallel.
func (a *Array) GetSlice(ctx context.Context, sel []Slice) ([]byte, error) {
	a.metaMu.RLock()
	meta := a.meta
	a.metaMu.RUnlock()

	clamped, err := clampSelection(sel, meta.Shape)
	if err != nil {
		return nil, err
	}
	outShape := selShape(clamped)
	elemSize := meta.Dtype.Size()
	out := make([]byte, numElements(outShape)*elemSize)
	if len(out) == 0 {
		return out, nil
	}

	projs := intersectingChunks(clamped, meta.Chunks)
	a.log.Debug("get_slice",
		zap.String("path", a.path.String()),
		zap.Int("chunks", len(projs)))

	outStrides := byteStrides(outShape, elemSize)
	chunkStrides := byteStrides(meta.Chunks, elemSize)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.limit)
	for _, proj := range projs {
		proj := proj
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := a.readChunk(ctx, meta, proj.coord)
			if err != nil {
				return err
			}
			// each chunk writes a disjoint region of out
			chunkOff := make([]int, len(proj.dims))
			outOff := make([]int, len(proj.dims))
			n := make([]int, len(proj.dims))
			for d, dp := range proj.dims {
				chunkOff[d] = dp.chunkOff
				outOff[d] = dp.outOff
				n[d] = dp.n
			}
			copyRegion(out, outStrides, outOff, chunk, chunkStrides, chunkOff, n, elemSize)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSlice writes a dense row-major buffer into the selection. The buffer
// length must match the clamped selection exactly. Chunks fully covered by
// the selection are overwritten without a prior read; partially covered
// chunks do a read-modify-write under a per-chunk lock so that concurrent
// partial writers within this process never lose updates. Each chunk is
// published atomically; cancelling the context stops further chunks but
// never leaves a half-written one.
func (a *Array) SetSlice(ctx context.Context, sel []Slice, data []byte) error {
	if a.mode == ModeRead {
		return errors.Wrap(ErrReadOnly, a.path.String())
	}
	a.metaMu.RLock()
	meta := a.meta
	a.metaMu.RUnlock()

	clamped, err := clampSelection(sel, meta.Shape)
	if err != nil {
		return err
	}
	inShape := selShape(clamped)
	elemSize := meta.Dtype.Size()
	if want := numElements(inShape) * elemSize; len(data) != want {
		return errors.Errorf("data length %d does not match selection size %d", len(data), want)
	}
	if len(data) == 0 {
		return nil
	}

	projs := intersectingChunks(clamped, meta.Chunks)
	a.log.Debug("set_slice",
		zap.String("path", a.path.String()),
		zap.Int("chunks", len(projs)))

	inStrides := byteStrides(inShape, elemSize)
	chunkStrides := byteStrides(meta.Chunks, elemSize)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.limit)
	for _, proj := range projs {
		proj := proj
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := a.chunkKey(meta, proj.coord)
			a.locks.lock(key)
			defer a.locks.unlock(key)

			var chunk []byte
			if proj.coversChunk(meta.Shape, meta.Chunks) {
				// full overwrite: no read needed, padding stays fill
				chunk = a.fillChunk(meta)
			} else {
				var err error
				chunk, err = a.readChunk(ctx, meta, proj.coord)
				if err != nil {
					return err
				}
			}

			chunkOff := make([]int, len(proj.dims))
			inOff := make([]int, len(proj.dims))
			n := make([]int, len(proj.dims))
			for d, dp := range proj.dims {
				chunkOff[d] = dp.chunkOff
				inOff[d] = dp.outOff
				n[d] = dp.n
			}
			copyRegion(chunk, chunkStrides, chunkOff, data, inStrides, inOff, n, elemSize)

			encoded, err := a.codec.Encode(chunk)
			if err != nil {
				return errors.Wrapf(err, "encoding chunk %v", proj.coord)
			}
			return a.store.Put(ctx, key, encoded)
		})
	}
	return eg.Wait()
}

// Resize grows the array along resizable dimensions by updating metadata
// only. No chunk is touched: newly addressable positions read as fill until
// written. Shrinking is not supported.
func (a *Array) Resize(ctx context.Context, shape []int) error {
	if a.mode == ModeRead {
		return errors.Wrap(ErrReadOnly, a.path.String())
	}
	a.metaMu.Lock()
	defer a.metaMu.Unlock()

	if len(shape) != len(a.meta.Shape) {
		return errors.Wrapf(ErrInvalidShape, "resize rank %d != array rank %d", len(shape), len(a.meta.Shape))
	}
	for d, n := range shape {
		switch {
		case n < a.meta.Shape[d]:
			return errors.Wrapf(ErrInvalidShape, "resize cannot shrink dimension %d from %d to %d", d, a.meta.Shape[d], n)
		case n > a.meta.Shape[d] && !a.meta.resizableDim(d):
			return errors.Wrapf(ErrInvalidShape, "dimension %d is not resizable", d)
		}
	}

	meta := *a.meta
	meta.Shape = make([]int, len(shape))
	copy(meta.Shape, shape)
	if err := SaveArrayMeta(ctx, a.store, a.path, &meta); err != nil {
		return err
	}
	a.meta = &meta
	a.log.Info("resized array",
		zap.String("path", a.path.String()),
		zap.Ints("shape", meta.Shape))
	return nil
}

// readChunk returns the decoded full-size chunk at coord, or a fill-valued
// chunk when it was never written.
func (a *Array) readChunk(ctx context.Context, meta *ArrayMeta, coord []int) ([]byte, error) {
	encoded, err := a.store.Get(ctx, a.chunkKey(meta, coord))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return a.fillChunk(meta), nil
		}
		return nil, err
	}
	chunk, err := a.codec.Decode(encoded, meta.ChunkByteSize())
	if err != nil {
		if a.tolerateCorrupt && errors.Is(err, ErrDecode) {
			a.log.Warn("treating corrupt chunk as unwritten",
				zap.String("path", a.path.String()),
				zap.Ints("coord", coord),
				zap.Error(err))
			return a.fillChunk(meta), nil
		}
		return nil, errors.Wrapf(err, "chunk %v", coord)
	}
	return chunk, nil
}

// fillChunk materializes one full-size chunk of fill values.
func (a *Array) fillChunk(meta *ArrayMeta) []byte {
	buf := make([]byte, meta.ChunkByteSize())
	if meta.FillValue.Value() == 0 {
		return buf
	}
	elemSize := meta.Dtype.Size()
	meta.Dtype.PutValue(buf[:elemSize], meta.FillValue.Value())
	for off := elemSize; off < len(buf); off *= 2 {
		copy(buf[off:], buf[:off])
	}
	return buf
}

func (a *Array) chunkKey(meta *ArrayMeta, coord []int) string {
	return a.path.Join(ChunkKey(coord, meta.Separator())).String()
}

// keyLocks is a set of reference-counted mutexes keyed by chunk key,
// serializing read-modify-write sequences on the same chunk. Entries exist
// only while held or contended.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: map[string]*keyLock{}}
}

func (l *keyLocks) lock(key string) {
	l.mu.Lock()
	k, ok := l.m[key]
	if !ok {
		k = &keyLock{}
		l.m[key] = k
	}
	k.refs++
	l.mu.Unlock()
	k.Lock()
}

func (l *keyLocks) unlock(key string) {
	l.mu.Lock()
	k := l.m[key]
	k.refs--
	if k.refs == 0 {
		delete(l.m, key)
	}
	l.mu.Unlock()
	k.Unlock()
}
