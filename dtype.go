package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Dtype describes the element type of an array, encoded in metadata as a
// NumPy array-protocol type string (typestr). The format has 3 parts:
//   - one character describing the byte order of the data:
//     "<": little-endian; ">": big-endian; "|": not relevant
//   - one character code giving the basic type:
//     "b": boolean, "i": integer, "u": unsigned integer, "f": floating point
//   - an integer giving the number of bytes the type uses.
//
// The supported set is closed: booleans, signed and unsigned integers of
// 1/2/4/8 bytes, and 4/8-byte floats. Anything else fails to parse.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// ParseDtype parses a NumPy typestr like "<u1" or ">f8" into a Dtype.
func ParseDtype(s string) (dt Dtype, err error) {
	// some python writers HTML-escape angle brackets when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, errors.Errorf("invalid dtype string: %q is too short", s)
	}

	dt.ByteOrder, err = ParseByteOrder(rune(s[0]))
	if err != nil {
		return dt, err
	}
	dt.BasicType, err = ParseBasicType(rune(s[1]))
	if err != nil {
		return dt, err
	}

	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return dt, errors.Errorf("invalid dtype string %q: bad byte size", s)
	}
	dt.ByteSize = size

	if err := dt.validate(); err != nil {
		return dt, err
	}
	return dt, nil
}

func (dt Dtype) validate() error {
	switch dt.BasicType {
	case BTBoolean:
		if dt.ByteSize != 1 {
			return errors.Errorf("dtype %s: booleans are 1 byte", dt)
		}
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
		default:
			return errors.Errorf("dtype %s: unsupported integer width", dt)
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4, 8:
		default:
			return errors.Errorf("dtype %s: unsupported float width", dt)
		}
	}
	if dt.ByteSize > 1 && dt.ByteOrder == BONotRelevant {
		return errors.Errorf("dtype %s: byte order required for multi-byte types", dt)
	}
	return nil
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

// Size returns the number of bytes one element occupies.
func (dt Dtype) Size() int { return dt.ByteSize }

// Order returns the binary byte order for multi-byte element encoding.
// Single-byte types report little-endian; the choice is inert for them.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// PutValue encodes v as one element into buf, which must be at least
// dt.Size() bytes. Integer types truncate v toward zero.
func (dt Dtype) PutValue(buf []byte, v float64) {
	bo := dt.Order()
	switch dt.BasicType {
	case BTBoolean:
		if v != 0 {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
	case BTInteger:
		u := uint64(int64(v))
		dt.putUint(buf, bo, u)
	case BTUnsigned:
		dt.putUint(buf, bo, uint64(v))
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			bo.PutUint32(buf, math.Float32bits(float32(v)))
		case 8:
			bo.PutUint64(buf, math.Float64bits(v))
		}
	}
}

// Value decodes one element from buf into a float64.
func (dt Dtype) Value(buf []byte) float64 {
	bo := dt.Order()
	switch dt.BasicType {
	case BTBoolean:
		if buf[0] != 0 {
			return 1
		}
		return 0
	case BTInteger:
		return float64(int64(dt.uint(buf, bo)) << (64 - 8*dt.ByteSize) >> (64 - 8*dt.ByteSize))
	case BTUnsigned:
		return float64(dt.uint(buf, bo))
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return float64(math.Float32frombits(bo.Uint32(buf)))
		case 8:
			return math.Float64frombits(bo.Uint64(buf))
		}
	}
	return 0
}

func (dt Dtype) putUint(buf []byte, bo binary.ByteOrder, u uint64) {
	switch dt.ByteSize {
	case 1:
		buf[0] = byte(u)
	case 2:
		bo.PutUint16(buf, uint16(u))
	case 4:
		bo.PutUint32(buf, uint32(u))
	case 8:
		bo.PutUint64(buf, u)
	}
}

func (dt Dtype) uint(buf []byte, bo binary.ByteOrder) uint64 {
	switch dt.ByteSize {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(bo.Uint16(buf))
	case 4:
		return uint64(bo.Uint32(buf))
	case 8:
		return bo.Uint64(buf)
	}
	return 0
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

// ByteOrder is the one-character byte order code of a typestr.
type ByteOrder rune

const (
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
	BONotRelevant  ByteOrder = '|'
)

var byteOrders = map[ByteOrder]struct{}{
	BOLittleEndian: {},
	BOBigEndian:    {},
	BONotRelevant:  {},
}

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, errors.Errorf("unsupported byte order: %q", r)
	}
	return o, nil
}

// BasicType is the one-character kind code of a typestr.
type BasicType rune

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
)

var basicTypes = map[BasicType]struct{}{
	BTBoolean:       {},
	BTInteger:       {},
	BTUnsigned:      {},
	BTFloatingPoint: {},
}

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := basicTypes[t]; !ok {
		return t, errors.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}
