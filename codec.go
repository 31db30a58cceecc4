package zarr

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// CompressorConfig selects and parameterizes the chunk compressor. It is
// stored in array metadata so that reads are self-describing.
type CompressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
	// Shuffle enables the byte-shuffle pre-filter: element bytes are
	// transposed so that the i-th byte of every element is contiguous,
	// which tends to help compression of numeric data.
	Shuffle int `json:"shuffle,omitempty"`
}

// Compressor is a pure, stateless pair of byte-buffer transforms.
// Decode(Encode(x), len(x)) == x must hold for all valid x.
type Compressor interface {
	ID() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte, expectedLen int) ([]byte, error)
}

// CompressorMaker constructs a Compressor from its stored configuration.
type CompressorMaker func(cfg CompressorConfig) (Compressor, error)

var (
	compressorsMu sync.RWMutex
	compressors   = map[string]CompressorMaker{}
)

// RegisterCompressor adds a compressor implementation to the registry.
// Registering an already-registered id replaces the previous maker.
func RegisterCompressor(id string, fn CompressorMaker) {
	compressorsMu.Lock()
	defer compressorsMu.Unlock()
	compressors[id] = fn
}

// NewCompressor resolves a CompressorConfig against the registry.
// An empty id means no compression.
func NewCompressor(cfg CompressorConfig) (Compressor, error) {
	id := cfg.ID
	if id == "" {
		id = "raw"
	}
	compressorsMu.RLock()
	fn, ok := compressors[id]
	compressorsMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown compressor id %q", id)
	}
	return fn(cfg)
}

func init() {
	RegisterCompressor("raw", func(CompressorConfig) (Compressor, error) {
		return rawCompressor{}, nil
	})
	RegisterCompressor("zstd", newZstdCompressor)
	RegisterCompressor("gzip", newGzipCompressor)
	RegisterCompressor("lz4", newLZ4Compressor)
}

// Codec couples a Compressor with the optional shuffle pre-filter for a
// particular element size. It is the unit the Array uses to move chunks
// between their canonical row-major in-memory form and their at-rest form.
type Codec struct {
	comp     Compressor
	elemSize int
	shuffle  bool
}

// NewCodec builds the codec described by cfg for elements of elemSize bytes.
func NewCodec(cfg CompressorConfig, elemSize int) (Codec, error) {
	comp, err := NewCompressor(cfg)
	if err != nil {
		return Codec{}, err
	}
	return Codec{
		comp:     comp,
		elemSize: elemSize,
		shuffle:  cfg.Shuffle != 0 && elemSize > 1,
	}, nil
}

func (c Codec) Encode(raw []byte) ([]byte, error) {
	if c.shuffle {
		raw = shuffleBytes(raw, c.elemSize)
	}
	return c.comp.Encode(raw)
}

func (c Codec) Decode(src []byte, expectedLen int) ([]byte, error) {
	raw, err := c.comp.Decode(src, expectedLen)
	if err != nil {
		return nil, err
	}
	if len(raw) != expectedLen {
		return nil, errors.Wrapf(ErrDecode, "got %d bytes, expected %d", len(raw), expectedLen)
	}
	if c.shuffle {
		raw = unshuffleBytes(raw, c.elemSize)
	}
	return raw, nil
}

// shuffleBytes transposes src from element-major to byte-position-major
// order. src length must be a multiple of elemSize; chunks always are.
func shuffleBytes(src []byte, elemSize int) []byte {
	n := len(src) / elemSize
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for b := 0; b < elemSize; b++ {
			dst[b*n+i] = src[i*elemSize+b]
		}
	}
	return dst
}

func unshuffleBytes(src []byte, elemSize int) []byte {
	n := len(src) / elemSize
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for b := 0; b < elemSize; b++ {
			dst[i*elemSize+b] = src[b*n+i]
		}
	}
	return dst
}

type rawCompressor struct{}

func (rawCompressor) ID() string { return "raw" }

func (rawCompressor) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

func (rawCompressor) Decode(src []byte, expectedLen int) ([]byte, error) {
	if len(src) != expectedLen {
		return nil, errors.Wrapf(ErrDecode, "raw: got %d bytes, expected %d", len(src), expectedLen)
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor(cfg CompressorConfig) (Compressor, error) {
	level := zstd.SpeedDefault
	if cfg.Level != 0 {
		level = zstd.EncoderLevelFromZstd(cfg.Level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, errors.Wrap(err, "zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decoder")
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) ID() string { return "zstd" }

func (c *zstdCompressor) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCompressor) Decode(src []byte, expectedLen int) ([]byte, error) {
	dst, err := c.dec.DecodeAll(src, make([]byte, 0, expectedLen))
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "zstd: %v", err)
	}
	return dst, nil
}

type gzipCompressor struct {
	level int
}

func newGzipCompressor(cfg CompressorConfig) (Compressor, error) {
	level := gzip.DefaultCompression
	if cfg.Level != 0 {
		level = cfg.Level
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, errors.Errorf("gzip: invalid level %d", level)
	}
	return &gzipCompressor{level: level}, nil
}

func (c *gzipCompressor) ID() string { return "gzip" }

func (c *gzipCompressor) Encode(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := gzip.NewWriterLevel(buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "gzip writer")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "gzip write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decode(src []byte, expectedLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "gzip: %v", err)
	}
	defer r.Close()
	dst := bytes.NewBuffer(make([]byte, 0, expectedLen))
	if _, err := io.Copy(dst, r); err != nil {
		return nil, errors.Wrapf(ErrDecode, "gzip: %v", err)
	}
	return dst.Bytes(), nil
}

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func newLZ4Compressor(cfg CompressorConfig) (Compressor, error) {
	var level lz4.CompressionLevel
	switch cfg.Level {
	case 0:
		level = lz4.Fast
	case 1:
		level = lz4.Level1
	case 2:
		level = lz4.Level2
	case 3:
		level = lz4.Level3
	case 4:
		level = lz4.Level4
	case 5:
		level = lz4.Level5
	case 6:
		level = lz4.Level6
	case 7:
		level = lz4.Level7
	case 8:
		level = lz4.Level8
	case 9:
		level = lz4.Level9
	default:
		return nil, errors.Errorf("lz4: invalid level %d", cfg.Level)
	}
	return &lz4Compressor{level: level}, nil
}

func (c *lz4Compressor) ID() string { return "lz4" }

func (c *lz4Compressor) Encode(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := lz4.NewWriter(buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, errors.Wrap(err, "lz4 options")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "lz4 write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "lz4 close")
	}
	return buf.Bytes(), nil
}

func (c *lz4Compressor) Decode(src []byte, expectedLen int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	dst := bytes.NewBuffer(make([]byte, 0, expectedLen))
	if _, err := io.Copy(dst, r); err != nil {
		return nil, errors.Wrapf(ErrDecode, "lz4: %v", err)
	}
	return dst.Bytes(), nil
}
