package zarr

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records Get calls per key so tests can assert exactly which
// chunks an operation touched.
type countingStore struct {
	Store
	mu   sync.Mutex
	gets map[string]int
}

func newCountingStore(inner Store) *countingStore {
	return &countingStore{Store: inner, gets: map[string]int{}}
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets[key]++
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

func (s *countingStore) chunkGets() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for key, n := range s.gets {
		if _, reserved := KeyMetaType(key); !reserved {
			out[key] = n
		}
	}
	return out
}

func mustDtype(t *testing.T, s string) Dtype {
	t.Helper()
	dt, err := ParseDtype(s)
	require.NoError(t, err)
	return dt
}

func newTestArray(t *testing.T, store Store, shape, chunks []int, fill float64) *Array {
	t.Helper()
	a, err := Create(context.Background(), store, "test/arr", ModeWrite, &ArrayMeta{
		Shape:     shape,
		Chunks:    chunks,
		Dtype:     mustDtype(t, "<u1"),
		FillValue: Fill(fill),
	})
	require.NoError(t, err)
	return a
}

func TestFillSemantics(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t, NewMemoryStore(), []int{9, 11}, []int{4, 5}, 7)

	// every position of a never-written array reads as the fill value
	got, err := a.GetSlice(ctx, nil)
	require.NoError(t, err)
	require.Len(t, got, 9*11)
	for i, b := range got {
		require.Equal(t, byte(7), b, "position %d", i)
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	const rows, cols = 9, 11
	a := newTestArray(t, NewMemoryStore(), []int{rows, cols}, []int{4, 5}, 0)

	// reference array maintained with plain nested loops
	ref := make([]byte, rows*cols)
	writeRef := func(sel []Slice, v byte) {
		buf := make([]byte, (sel[0].Stop-sel[0].Start)*(sel[1].Stop-sel[1].Start))
		k := 0
		for i := sel[0].Start; i < sel[0].Stop; i++ {
			for j := sel[1].Start; j < sel[1].Stop; j++ {
				ref[i*cols+j] = v
				buf[k] = v
				k++
			}
		}
		require.NoError(t, a.SetSlice(ctx, sel, buf))
	}

	writeRef(Sel(Slice{0, 9}, Slice{0, 11}), 1)
	writeRef(Sel(Slice{2, 7}, Slice{3, 9}), 2)  // partial chunks on all sides
	writeRef(Sel(Slice{8, 9}, Slice{10, 11}), 3) // bottom-right edge chunk
	writeRef(Sel(Slice{0, 4}, Slice{0, 5}), 4)  // exactly one full chunk

	for _, sel := range [][]Slice{
		Sel(Full(rows), Full(cols)),
		Sel(Slice{1, 8}, Slice{2, 10}),
		Sel(Slice{4, 5}, Slice{4, 5}),
		Sel(Slice{6, 9}, Slice{0, 11}),
	} {
		got, err := a.GetSlice(ctx, sel)
		require.NoError(t, err)
		k := 0
		for i := sel[0].Start; i < sel[0].Stop; i++ {
			for j := sel[1].Start; j < sel[1].Stop; j++ {
				require.Equal(t, ref[i*cols+j], got[k], "at (%d,%d)", i, j)
				k++
			}
		}
	}
}

func TestPartialWritePreservation(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t, NewMemoryStore(), []int{8, 8}, []int{8, 8}, 0)

	base := make([]byte, 64)
	for i := range base {
		base[i] = byte(i)
	}
	require.NoError(t, a.SetSlice(ctx, nil, base))

	// overwrite a 2x2 sub-region in the middle of the single chunk
	require.NoError(t, a.SetSlice(ctx, Sel(Slice{3, 5}, Slice{3, 5}), []byte{99, 99, 99, 99}))

	got, err := a.GetSlice(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			want := byte(i*8 + j)
			if i >= 3 && i < 5 && j >= 3 && j < 5 {
				want = 99
			}
			require.Equal(t, want, got[i*8+j], "at (%d,%d)", i, j)
		}
	}
}

func TestIdempotentFullChunkWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newTestArray(t, store, []int{4, 4}, []int{4, 4}, 0)

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.NoError(t, a.SetSlice(ctx, nil, data))
	first, err := store.Get(ctx, "test/arr/0.0")
	require.NoError(t, err)

	require.NoError(t, a.SetSlice(ctx, nil, data))
	second, err := store.Get(ctx, "test/arr/0.0")
	require.NoError(t, err)
	assert.Equal(t, first, second, "stored bytes changed on identical rewrite")

	got, err := a.GetSlice(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// The video-frame scenario: reading a 960x960 crop of frame 0 must touch
// exactly the 4 chunks whose extents intersect it, and no others.
func TestGetSliceTouchesOnlyIntersectingChunks(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(NewMemoryStore())
	a := newTestArray(t, store, []int{100, 3, 2160, 3840}, []int{1, 3, 960, 960}, 0)

	_, err := a.GetSlice(ctx, Sel(Slice{0, 1}, Full(3), Slice{500, 1460}, Slice{1000, 1960}))
	require.NoError(t, err)

	gets := store.chunkGets()
	assert.Equal(t, map[string]int{
		"test/arr/0.0.0.1": 1,
		"test/arr/0.0.0.2": 1,
		"test/arr/0.0.1.1": 1,
		"test/arr/0.0.1.2": 1,
	}, gets)
}

func TestResize(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t, NewMemoryStore(), []int{100}, []int{10}, 5)

	require.NoError(t, a.Resize(ctx, []int{150}))
	assert.Equal(t, []int{150}, a.Shape())

	// newly addressable positions read as fill before any write
	got, err := a.GetSlice(ctx, Sel(Slice{120, 121}))
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, got)

	require.NoError(t, a.SetSlice(ctx, Sel(Slice{120, 121}), []byte{9}))
	got, err = a.GetSlice(ctx, Sel(Slice{120, 121}))
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)

	// shrinking is rejected
	err = a.Resize(ctx, []int{100})
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestResizeSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newTestArray(t, store, []int{100}, []int{10}, 0)
	require.NoError(t, a.Resize(ctx, []int{130}))

	b, err := Open(ctx, store, "test/arr", ModeRead)
	require.NoError(t, err)
	assert.Equal(t, []int{130}, b.Shape())
}

func TestResizePinnedDimension(t *testing.T) {
	ctx := context.Background()
	a, err := Create(ctx, NewMemoryStore(), "pinned", ModeWrite, &ArrayMeta{
		Shape:     []int{10, 20},
		Chunks:    []int{5, 5},
		Dtype:     mustDtype(t, "<u1"),
		Resizable: []bool{true, false},
	})
	require.NoError(t, err)

	require.NoError(t, a.Resize(ctx, []int{15, 20}))
	err = a.Resize(ctx, []int{15, 25})
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestReadOnlyMode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newTestArray(t, store, []int{10}, []int{5}, 0)

	a, err := Open(ctx, store, "test/arr", ModeRead)
	require.NoError(t, err)

	err = a.SetSlice(ctx, Sel(Slice{0, 1}), []byte{1})
	assert.True(t, errors.Is(err, ErrReadOnly))
	err = a.Resize(ctx, []int{20})
	assert.True(t, errors.Is(err, ErrReadOnly))
	err = a.SetAttrs(ctx, Attributes{"a": 1})
	assert.True(t, errors.Is(err, ErrReadOnly))
}

func TestCreateModes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	meta := &ArrayMeta{
		Shape:  []int{10},
		Chunks: []int{5},
		Dtype:  mustDtype(t, "<u1"),
	}

	_, err := Create(ctx, store, "m", ModeWriteFail, meta)
	require.NoError(t, err)
	_, err = Create(ctx, store, "m", ModeWriteFail, meta)
	assert.True(t, errors.Is(err, ErrExists))

	// plain write mode replaces
	_, err = Create(ctx, store, "m", ModeWrite, meta)
	require.NoError(t, err)

	_, err = Create(ctx, store, "m", ModeRead, meta)
	assert.Error(t, err)

	_, err = Open(ctx, store, "nope", ModeRead)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOutOfBoundsSelection(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t, NewMemoryStore(), []int{10}, []int{4}, 2)

	// indices beyond the shape clamp
	got, err := a.GetSlice(ctx, Sel(Slice{8, 100}))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 2}, got)

	// fully out of range yields an empty result, not an error
	got, err = a.GetSlice(ctx, Sel(Slice{50, 60}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetSliceLengthMismatch(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t, NewMemoryStore(), []int{10}, []int{5}, 0)
	err := a.SetSlice(ctx, Sel(Slice{0, 4}), []byte{1, 2})
	require.Error(t, err)
}

func TestConcurrentPartialWritersSameChunk(t *testing.T) {
	ctx := context.Background()
	const width = 100
	a := newTestArray(t, NewMemoryStore(), []int{width}, []int{width}, 0)

	// ten writers each own a disjoint 10-element band of one shared chunk;
	// the keyed chunk lock must prevent lost updates between them
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for w := 0; w < 10; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			band := make([]byte, 10)
			for i := range band {
				band[i] = byte(w + 1)
			}
			errs <- a.SetSlice(ctx, Sel(Slice{w * 10, (w + 1) * 10}), band)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := a.GetSlice(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < width; i++ {
		require.Equal(t, byte(i/10+1), got[i], "position %d", i)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newTestArray(t, NewMemoryStore(), []int{10}, []int{2}, 0)
	cancel()

	_, err := a.GetSlice(ctx, nil)
	assert.Error(t, err)
	err = a.SetSlice(ctx, nil, make([]byte, 10))
	assert.Error(t, err)
}

func TestDimensionSeparatorSlash(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, err := Create(ctx, store, "nested", ModeWrite, &ArrayMeta{
		Shape:              []int{4, 4},
		Chunks:             []int{2, 2},
		Dtype:              mustDtype(t, "<u1"),
		DimensionSeparator: "/",
	})
	require.NoError(t, err)

	require.NoError(t, a.SetSlice(ctx, Sel(Slice{2, 4}, Slice{0, 2}), []byte{1, 2, 3, 4}))
	ok, err := store.Exists(ctx, "nested/1/0")
	require.NoError(t, err)
	assert.True(t, ok, "expected slash-separated chunk key")
}

func TestCompressedArrayRoundtrip(t *testing.T) {
	ctx := context.Background()
	for _, compressor := range []string{"raw", "zstd", "gzip", "lz4"} {
		t.Run(compressor, func(t *testing.T) {
			store := NewMemoryStore()
			a, err := Create(ctx, store, "c", ModeWrite, &ArrayMeta{
				Shape:      []int{30, 30},
				Chunks:     []int{16, 16},
				Dtype:      mustDtype(t, "<u2"),
				Compressor: &CompressorConfig{ID: compressor, Shuffle: 1},
			})
			require.NoError(t, err)

			data := make([]byte, 30*30*2)
			for i := range data {
				data[i] = byte(i % 251)
			}
			require.NoError(t, a.SetSlice(ctx, nil, data))

			// reopen so the codec is resolved from stored metadata
			b, err := Open(ctx, store, "c", ModeRead)
			require.NoError(t, err)
			got, err := b.GetSlice(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestCorruptChunkSurfacesDecodeError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, err := Create(ctx, store, "c", ModeWrite, &ArrayMeta{
		Shape:      []int{8},
		Chunks:     []int{8},
		Dtype:      mustDtype(t, "<u1"),
		Compressor: &CompressorConfig{ID: "zstd"},
	})
	require.NoError(t, err)
	require.NoError(t, a.SetSlice(ctx, nil, make([]byte, 8)))

	require.NoError(t, store.Put(ctx, "c/0", []byte("garbage")))
	_, err = a.GetSlice(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))

	// opting in to corruption tolerance reads the chunk as unwritten
	tolerant, err := Open(ctx, store, "c", ModeRead, WithTolerateCorruptChunks())
	require.NoError(t, err)
	got, err := tolerant.GetSlice(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)
}

func TestStoredChunkCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newTestArray(t, store, []int{9, 11}, []int{4, 5}, 0)
	require.NoError(t, a.SetSlice(ctx, nil, make([]byte, 9*11)))

	keys, err := store.List(ctx, "test/arr/")
	require.NoError(t, err)
	var chunks int
	for _, key := range keys {
		if _, reserved := KeyMetaType(key); !reserved {
			chunks++
		}
	}
	// ceil(9/4) x ceil(11/5) grid
	assert.Equal(t, 9, chunks)
}
