package grid

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGrid() *Grid {
	g := New(9, 146000, 200000, 3, 2)
	copy(g.Values, []float64{0, 12, 5, 40000, 7, 3})
	return g
}

func TestBinaryRoundTrip(t *testing.T) {
	g := sampleGrid()

	var buf bytes.Buffer
	require.NoError(t, g.WriteBinary(&buf))
	assert.Equal(t, "GRID", buf.String()[:4])
	assert.Equal(t, 4+6*4+len(g.Values)*4, buf.Len())

	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestBinaryRoundsValues(t *testing.T) {
	g := New(9, 0, 0, 2, 1)
	g.Values[0] = 1.4
	g.Values[1] = 2.6

	var buf bytes.Buffer
	require.NoError(t, g.WriteBinary(&buf))
	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3}, got.Values)
}

func TestReadBinaryRejectsBadMagic(t *testing.T) {
	_, err := ReadBinary(bytes.NewReader([]byte("NOPE0000000000000000000000000")))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestWritePNG(t *testing.T) {
	g := sampleGrid()
	var buf bytes.Buffer
	require.NoError(t, g.WritePNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	_, _, _, a := img.At(0, 1).RGBA()
	assert.Equal(t, uint32(0xffff), a, "maximum cell is fully opaque")
	_, _, _, a = img.At(0, 0).RGBA()
	assert.Zero(t, a, "zero cell is transparent")
}

func TestWriteGeoTIFF(t *testing.T) {
	g := sampleGrid()
	var buf bytes.Buffer
	require.NoError(t, g.WriteGeoTIFF(&buf))
	data := buf.Bytes()

	require.Equal(t, "II", string(data[:2]))
	le := binary.LittleEndian
	assert.Equal(t, uint16(42), le.Uint16(data[2:]))
	ifd := le.Uint32(data[4:])
	n := int(le.Uint16(data[ifd:]))

	tags := map[uint16]uint32{}
	for i := 0; i < n; i++ {
		e := data[int(ifd)+2+i*12:]
		tag, typ := le.Uint16(e), le.Uint16(e[2:])
		if typ == tiffShort && le.Uint32(e[4:]) == 1 {
			tags[tag] = uint32(le.Uint16(e[8:]))
		} else {
			tags[tag] = le.Uint32(e[8:])
		}
	}
	assert.Equal(t, uint32(3), tags[256])
	assert.Equal(t, uint32(2), tags[257])
	assert.Equal(t, uint32(3), tags[339], "float samples")

	offset := tags[273]
	assert.Equal(t, int(offset)+len(g.Values)*4, len(data))
	last := math.Float32frombits(le.Uint32(data[len(data)-4:]))
	assert.Equal(t, float32(3), last)
}

func TestAccessRoundTripAndSelect(t *testing.T) {
	a := NewAccessGrid(9, 10, 20, 2, 2, 3)
	copy(a.Values, []int32{
		100, 90, 110,
		5, 6, 7,
		0, 0, 0,
		-3, 4, 2,
	})

	var buf bytes.Buffer
	require.NoError(t, a.WriteAccess(&buf))
	got, err := ReadAccess(&buf)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	point, err := got.Select(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 5, 0, -3}, point.Values)
	assert.Equal(t, 10, point.West)

	assert.Equal(t, []int32{-3, 4, 2}, got.PixelSamples(1, 1))
	assert.True(t, got.Contains(11, 21))
	assert.False(t, got.Contains(12, 21))

	_, err = got.Select(3)
	assert.Error(t, err)
}

func accessHeader(t *testing.T, width, height, samples int32) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(accessMagic[:])
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{accessVersion, 9, 0, 0, width, height, samples}))
	return bytes.NewReader(buf.Bytes())
}

func TestReadAccessRejectsCorruptDimensions(t *testing.T) {
	for _, tc := range []struct {
		name                   string
		width, height, samples int32
	}{
		{"negative width", -1, 2, 3},
		{"negative height", 2, -5, 3},
		{"no samples", 2, 2, 0},
		{"negative samples", 2, 2, -3},
		{"too large", 1 << 15, 1 << 15, 200},
		{"overflows int32 product", math.MaxInt32, math.MaxInt32, math.MaxInt32},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				got *AccessGrid
				err error
			)
			require.NotPanics(t, func() {
				got, err = ReadAccess(accessHeader(t, tc.width, tc.height, tc.samples))
			})
			assert.ErrorIs(t, err, ErrBadHeader)
			assert.Nil(t, got)
		})
	}
}

func TestReadBinaryRejectsCorruptDimensions(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(gridMagic[:])
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{gridVersion, 9, 0, 0, -4, 2}))

	require.NotPanics(t, func() {
		_, err := ReadBinary(&buf)
		assert.ErrorIs(t, err, ErrBadHeader)
	})
}
