package zarr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDtype(t *testing.T) {
	cases := []struct {
		in   string
		want Dtype
	}{
		{"|b1", Dtype{BONotRelevant, BTBoolean, 1}},
		{"|u1", Dtype{BONotRelevant, BTUnsigned, 1}},
		{"<u1", Dtype{BOLittleEndian, BTUnsigned, 1}},
		{"<i2", Dtype{BOLittleEndian, BTInteger, 2}},
		{"<i8", Dtype{BOLittleEndian, BTInteger, 8}},
		{">u4", Dtype{BOBigEndian, BTUnsigned, 4}},
		{"<f4", Dtype{BOLittleEndian, BTFloatingPoint, 4}},
		{">f8", Dtype{BOBigEndian, BTFloatingPoint, 8}},
		// some python writers HTML-escape the byte order character
		{"&lt;f8", Dtype{BOLittleEndian, BTFloatingPoint, 8}},
	}
	for _, c := range cases {
		got, err := ParseDtype(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDtypeErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"<u",
		"<x4",
		"?u1",
		"<f3",
		"<i5",
		"|i2", // multi-byte types need a byte order
		"<b2",
	} {
		_, err := ParseDtype(in)
		assert.Error(t, err, in)
	}
}

func TestDtypeJSONRoundtrip(t *testing.T) {
	dt, err := ParseDtype("<f8")
	require.NoError(t, err)

	// encode through the document path; plain json.Marshal HTML-escapes
	// the leading "<" of the typestr
	data, err := marshalMetaDocument(dt)
	require.NoError(t, err)
	assert.Equal(t, `"<f8"`, string(data))

	var back Dtype
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, dt, back)
}

func TestDtypeValueRoundtrip(t *testing.T) {
	cases := []struct {
		typestr string
		values  []float64
	}{
		{"|b1", []float64{0, 1}},
		{"<u1", []float64{0, 7, 255}},
		{"<i2", []float64{-32768, -1, 0, 32767}},
		{">i2", []float64{-32768, -1, 0, 32767}},
		{"<u4", []float64{0, 4294967295}},
		{"<i8", []float64{-1, 1 << 40}},
		{"<f4", []float64{-1.5, 0, 3.25}},
		{">f8", []float64{-1.5, 0, 3.141592653589793}},
	}
	for _, c := range cases {
		dt, err := ParseDtype(c.typestr)
		require.NoError(t, err)
		buf := make([]byte, dt.Size())
		for _, v := range c.values {
			dt.PutValue(buf, v)
			assert.Equal(t, v, dt.Value(buf), "%s %v", c.typestr, v)
		}
	}
}

func TestDtypeEndianness(t *testing.T) {
	le, err := ParseDtype("<u2")
	require.NoError(t, err)
	be, err := ParseDtype(">u2")
	require.NoError(t, err)

	bufLE := make([]byte, 2)
	bufBE := make([]byte, 2)
	le.PutValue(bufLE, 0x0102)
	be.PutValue(bufBE, 0x0102)
	assert.Equal(t, []byte{0x02, 0x01}, bufLE)
	assert.Equal(t, []byte{0x01, 0x02}, bufBE)
}
