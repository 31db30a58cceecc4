package zarr

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Slice selects the half-open interval [Start, Stop) along one axis.
// Step-1 selections only; strided access is not supported.
type Slice struct {
	Start int
	Stop  int
}

// Full returns a Slice covering an entire axis of length n.
func Full(n int) Slice { return Slice{Start: 0, Stop: n} }

// Sel is shorthand for building a selection literal.
func Sel(slices ...Slice) []Slice { return slices }

// clampSelection normalizes sel against shape: missing trailing axes select
// everything, negative starts clamp to 0, stops clamp to the axis length.
// A fully out-of-range slice becomes empty, which is valid, not an error.
func clampSelection(sel []Slice, shape []int) ([]Slice, error) {
	if len(sel) > len(shape) {
		return nil, errors.Wrapf(ErrInvalidShape, "selection rank %d exceeds array rank %d", len(sel), len(shape))
	}
	out := make([]Slice, len(shape))
	for d := range shape {
		if d >= len(sel) {
			out[d] = Full(shape[d])
			continue
		}
		s := sel[d]
		if s.Start < 0 {
			s.Start = 0
		}
		if s.Start > shape[d] {
			s.Start = shape[d]
		}
		if s.Stop > shape[d] {
			s.Stop = shape[d]
		}
		if s.Stop < s.Start {
			s.Stop = s.Start
		}
		out[d] = s
	}
	return out, nil
}

// selShape returns the per-axis lengths of a normalized selection.
func selShape(sel []Slice) []int {
	shape := make([]int, len(sel))
	for d, s := range sel {
		shape[d] = s.Stop - s.Start
	}
	return shape
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// gridShape returns the chunk-grid dimensions for an array shape.
func gridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for d := range shape {
		grid[d] = ceilDiv(shape[d], chunks[d])
	}
	return grid
}

// dimProjection maps one axis of a chunk onto one axis of a selection.
type dimProjection struct {
	chunkIx  int // index of the chunk on this axis
	chunkOff int // first selected element within the chunk
	outOff   int // first written element within the output
	n        int // number of elements
}

// chunkProjection maps one chunk onto the selection: which chunk, the
// sub-region of the chunk involved, and where that sub-region lands in the
// output (or comes from, for writes).
type chunkProjection struct {
	coord []int
	dims  []dimProjection
}

// coversChunk reports whether the projection spans the chunk's entire
// in-bounds extent, letting writers skip the read-modify step.
func (p chunkProjection) coversChunk(shape, chunks []int) bool {
	for d, dp := range p.dims {
		lo := dp.chunkIx * chunks[d]
		hi := lo + chunks[d]
		if hi > shape[d] {
			hi = shape[d]
		}
		if dp.chunkOff != 0 || dp.n != hi-lo {
			return false
		}
	}
	return true
}

// intersectingChunks computes the exact set of chunks the normalized
// selection touches: a per-axis integer range division, not a search.
func intersectingChunks(sel []Slice, chunks []int) []chunkProjection {
	rank := len(sel)
	first := make([]int, rank)
	count := make([]int, rank)
	total := 1
	for d, s := range sel {
		if s.Stop <= s.Start {
			return nil
		}
		first[d] = s.Start / chunks[d]
		count[d] = (s.Stop-1)/chunks[d] - first[d] + 1
		total *= count[d]
	}

	projs := make([]chunkProjection, 0, total)
	ix := make([]int, rank)
	for {
		coord := make([]int, rank)
		dims := make([]dimProjection, rank)
		for d := range ix {
			c := first[d] + ix[d]
			coord[d] = c
			lo := c * chunks[d]
			hi := lo + chunks[d]
			if lo < sel[d].Start {
				lo = sel[d].Start
			}
			if hi > sel[d].Stop {
				hi = sel[d].Stop
			}
			dims[d] = dimProjection{
				chunkIx:  c,
				chunkOff: lo - c*chunks[d],
				outOff:   lo - sel[d].Start,
				n:        hi - lo,
			}
		}
		projs = append(projs, chunkProjection{coord: coord, dims: dims})

		// odometer increment, last axis fastest
		d := rank - 1
		for ; d >= 0; d-- {
			ix[d]++
			if ix[d] < count[d] {
				break
			}
			ix[d] = 0
		}
		if d < 0 {
			return projs
		}
	}
}

// byteStrides returns row-major byte strides for shape.
func byteStrides(shape []int, elemSize int) []int {
	strides := make([]int, len(shape))
	stride := elemSize
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}
	return strides
}

// copyRegion copies an N-dimensional box of n[d] elements per axis between
// two row-major buffers, reading from src at srcOff and writing to dst at
// dstOff. The innermost axis is contiguous, so rows copy as single slices.
func copyRegion(dst []byte, dstStrides, dstOff []int, src []byte, srcStrides, srcOff []int, n []int, elemSize int) {
	rank := len(n)
	if numElements(n) == 0 {
		return
	}
	dstBase := 0
	srcBase := 0
	for d := 0; d < rank; d++ {
		dstBase += dstOff[d] * dstStrides[d]
		srcBase += srcOff[d] * srcStrides[d]
	}
	rowLen := n[rank-1] * elemSize

	ix := make([]int, rank-1)
	for {
		d := dstBase
		s := srcBase
		for a := 0; a < rank-1; a++ {
			d += ix[a] * dstStrides[a]
			s += ix[a] * srcStrides[a]
		}
		copy(dst[d:d+rowLen], src[s:s+rowLen])

		a := rank - 2
		for ; a >= 0; a-- {
			ix[a]++
			if ix[a] < n[a] {
				break
			}
			ix[a] = 0
		}
		if a < 0 {
			return
		}
	}
}

// ChunkKey builds the storage key suffix for a chunk coordinate using the
// array's dimension separator, e.g. coord (0,2,1) and "." yield "0.2.1".
func ChunkKey(coord []int, separator string) string {
	if len(coord) == 0 {
		return "0"
	}
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, separator)
}
