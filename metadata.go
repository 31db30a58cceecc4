package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// marshalMetaDocument encodes a metadata document with HTML escaping off.
// Typestrs begin with "<" or ">", and json.Marshal would store them as
// unicode escape sequences that reference writers never emit.
func marshalMetaDocument(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MetaType enumerates the reserved metadata keys of the storage convention.
type MetaType string

const (
	// MTAttributes stores userland attributes for an array or group
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing array metadata
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group markers
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for consolidated metadata
	MTMetadata MetaType = ".zmetadata"
)

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// KeyMetaType extracts the metadata type from a storage key. It relies on
// all reserved key names being 7 characters long.
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

// ArrayMeta is the essential configuration an array needs for later reads to
// interpret its chunks. It is encoded as JSON under the array's ".zarray"
// key, adjacent to the chunk entries. Immutable after creation, except that
// Shape may grow along resizable dimensions.
type ArrayMeta struct {
	// ZarrFormat is the storage specification version, always 2.
	ZarrFormat int `json:"zarr_format"`
	// Shape lists the length of each dimension of the array.
	Shape []int `json:"shape"`
	// Chunks lists the length of each dimension of a chunk. All chunks of
	// an array share one shape; chunks overhanging the array edge are
	// padded with the fill value.
	Chunks []int `json:"chunks"`
	// Dtype is the element type, encoded as a NumPy typestr.
	Dtype Dtype `json:"dtype"`
	// Compressor identifies the chunk codec and its parameters, or null
	// for uncompressed chunks.
	Compressor *CompressorConfig `json:"compressor"`
	// FillValue is the value reported for positions in chunks that were
	// never written.
	FillValue FillValue `json:"fill_value"`
	// Order is the chunk memory layout. Only "C" (row-major, last
	// dimension varies fastest) is supported.
	Order string `json:"order"`
	// Filters would list additional codec stages; none are supported.
	Filters []Filter `json:"filters"`
	// DimensionSeparator is "." or "/", placed between coordinates in
	// chunk keys. Unset means ".".
	DimensionSeparator string `json:"dimension_separator,omitempty"`
	// Resizable marks the dimensions Resize may grow. Unset means every
	// dimension is resizable.
	Resizable []bool `json:"resizable,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the creation-time invariants. Violations are construction
// errors, wrapped around ErrInvalidShape where shape-related.
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) == 0 {
		return errors.Wrap(ErrInvalidShape, "shape must have at least one dimension")
	}
	if len(a.Chunks) != len(a.Shape) {
		return errors.Wrapf(ErrInvalidShape, "shape rank %d != chunk rank %d", len(a.Shape), len(a.Chunks))
	}
	for d, n := range a.Shape {
		if n <= 0 {
			return errors.Wrapf(ErrInvalidShape, "shape[%d] = %d", d, n)
		}
	}
	for d, n := range a.Chunks {
		if n <= 0 {
			return errors.Wrapf(ErrInvalidShape, "chunks[%d] = %d", d, n)
		}
	}
	if a.Resizable != nil && len(a.Resizable) != len(a.Shape) {
		return errors.Wrapf(ErrInvalidShape, "resizable rank %d != shape rank %d", len(a.Resizable), len(a.Shape))
	}
	if a.Order != "" && a.Order != "C" {
		return errors.Errorf("unsupported order %q", a.Order)
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return errors.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	if len(a.Filters) > 0 {
		return errors.Errorf("filters are not supported")
	}
	if err := a.Dtype.validate(); err != nil {
		return err
	}
	return nil
}

// Separator returns the effective chunk key separator.
func (a *ArrayMeta) Separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

// ChunkByteSize returns the byte size of one full decoded chunk.
func (a *ArrayMeta) ChunkByteSize() int {
	return numElements(a.Chunks) * a.Dtype.Size()
}

// resizableDim reports whether Resize may grow dimension d.
func (a *ArrayMeta) resizableDim(d int) bool {
	return a.Resizable == nil || a.Resizable[d]
}

// Filter is an additional codec stage in metadata. Present for format
// compatibility; arrays with filters are rejected on open.
type Filter struct {
	ID string `json:"id"`
}

// FillValue is the scalar substituted for unwritten positions. JSON null
// (no fill) reads as zero; NaN and the infinities serialize as the strings
// the format reserves for them.
type FillValue struct {
	set bool
	v   float64
}

// Fill returns a set FillValue.
func Fill(v float64) FillValue { return FillValue{set: true, v: v} }

// Value returns the scalar, zero when unset.
func (f FillValue) Value() float64 {
	if !f.set {
		return 0
	}
	return f.v
}

const (
	fillValueNaN              = "NaN"
	fillValueInfinity         = "Infinity"
	fillValueNegativeInfinity = "-Infinity"
)

func (f FillValue) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	switch {
	case math.IsNaN(f.v):
		return json.Marshal(fillValueNaN)
	case math.IsInf(f.v, 1):
		return json.Marshal(fillValueInfinity)
	case math.IsInf(f.v, -1):
		return json.Marshal(fillValueNegativeInfinity)
	}
	return json.Marshal(f.v)
}

func (f *FillValue) UnmarshalJSON(d []byte) error {
	if string(d) == "null" {
		*f = FillValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(d, &s); err == nil {
		switch s {
		case fillValueNaN:
			*f = Fill(math.NaN())
		case fillValueInfinity:
			*f = Fill(math.Inf(1))
		case fillValueNegativeInfinity:
			*f = Fill(math.Inf(-1))
		default:
			return errors.Errorf("invalid fill_value %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(d, &v); err != nil {
		return errors.Errorf("invalid fill_value %s", d)
	}
	*f = Fill(v)
	return nil
}

// LoadArrayMeta reads and validates the ".zarray" document at path.
func LoadArrayMeta(ctx context.Context, store Store, path Path) (*ArrayMeta, error) {
	key := path.Join(string(MTArray)).String()
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	m := &ArrayMeta{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
	}
	return m, nil
}

// SaveArrayMeta validates and writes metadata at path. Publication is
// atomic through the store's Put, so readers see either the old document or
// the new one, never a partial write.
func SaveArrayMeta(ctx context.Context, store Store, path Path, m *ArrayMeta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := marshalMetaDocument(m)
	if err != nil {
		return errors.Wrap(err, "encoding array metadata")
	}
	return store.Put(ctx, path.Join(string(MTArray)).String(), data)
}
