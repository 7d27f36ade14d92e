package grid

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// TIFF field types.
const (
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

const (
	mercatorHalfWorld = 20037508.342789244
	tileSize          = 256
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	// value holds the inline value, or the payload written after the IFD
	// when it does not fit in four bytes.
	value   uint32
	payload []byte
}

// WriteGeoTIFF writes a single-strip float32 GeoTIFF in EPSG:3857 whose
// pixels line up with the grid's web mercator pixels.
func (g *Grid) WriteGeoTIFF(w io.Writer) error {
	pixelSize := 2 * mercatorHalfWorld / (tileSize * math.Pow(2, float64(g.Zoom)))
	originX := float64(g.West)*pixelSize - mercatorHalfWorld
	originY := mercatorHalfWorld - float64(g.North)*pixelSize

	scale := doubles(pixelSize, pixelSize, 0)
	tiepoint := doubles(0, 0, 0, originX, originY, 0)
	geoKeys := shorts(
		1, 1, 0, 3, // directory header: version, revision, minor, key count
		1024, 0, 1, 1, // GTModelType = projected
		1025, 0, 1, 1, // GTRasterType = PixelIsArea
		3072, 0, 1, 3857, // ProjectedCSType = web mercator
	)

	stripBytes := uint32(g.Width * g.Height * 4)
	entries := []*ifdEntry{
		{tag: 256, typ: tiffLong, count: 1, value: uint32(g.Width)},
		{tag: 257, typ: tiffLong, count: 1, value: uint32(g.Height)},
		{tag: 258, typ: tiffShort, count: 1, value: 32},
		{tag: 259, typ: tiffShort, count: 1, value: 1},
		{tag: 262, typ: tiffShort, count: 1, value: 1},
		{tag: 273, typ: tiffLong, count: 1}, // strip offset, filled below
		{tag: 277, typ: tiffShort, count: 1, value: 1},
		{tag: 278, typ: tiffLong, count: 1, value: uint32(g.Height)},
		{tag: 279, typ: tiffLong, count: 1, value: stripBytes},
		{tag: 284, typ: tiffShort, count: 1, value: 1},
		{tag: 339, typ: tiffShort, count: 1, value: 3},
		{tag: 33550, typ: tiffDouble, count: 3, payload: scale},
		{tag: 33922, typ: tiffDouble, count: 6, payload: tiepoint},
		{tag: 34735, typ: tiffShort, count: 16, payload: geoKeys},
	}

	const ifdOffset = 8
	offset := uint32(ifdOffset + 2 + len(entries)*12 + 4)
	for _, e := range entries {
		if e.payload != nil {
			e.value = offset
			offset += uint32(len(e.payload))
		}
	}
	entries[5].value = offset

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(ifdOffset))
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, e.count)
		if e.typ == tiffShort && e.payload == nil {
			binary.Write(&buf, le, uint16(e.value))
			binary.Write(&buf, le, uint16(0))
		} else {
			binary.Write(&buf, le, e.value)
		}
	}
	binary.Write(&buf, le, uint32(0))
	for _, e := range entries {
		buf.Write(e.payload)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	row := make([]byte, g.Width*4)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			le.PutUint32(row[x*4:], math.Float32bits(float32(g.At(x, y))))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func doubles(vs ...float64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func shorts(vs ...uint16) []byte {
	out := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}
