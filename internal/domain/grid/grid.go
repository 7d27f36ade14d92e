package grid

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var gridMagic = [4]byte{'G', 'R', 'I', 'D'}

const gridVersion = 0

// ErrBadHeader is returned when a serialized grid has an unknown header.
var ErrBadHeader = errors.New("grid: bad header")

// MaxValues caps width*height*samples of a decoded grid.
const MaxValues = 1 << 27

// checkDims rejects negative dimensions and grids larger than MaxValues
// before anything is allocated.
func checkDims(width, height, samples int32) error {
	if width < 0 || height < 0 || samples < 1 {
		return fmt.Errorf("%w: dimensions %dx%d with %d samples", ErrBadHeader, width, height, samples)
	}
	if n := int64(width) * int64(height) * int64(samples); n > MaxValues {
		return fmt.Errorf("%w: %d values exceed the limit of %d", ErrBadHeader, n, MaxValues)
	}
	return nil
}

// Grid is a web mercator raster at a fixed zoom. Values are stored row-major,
// index y*Width+x, with (0,0) at pixel (West, North).
type Grid struct {
	Zoom   int
	West   int
	North  int
	Width  int
	Height int
	Values []float64
}

// New allocates a zero-valued grid.
func New(zoom, west, north, width, height int) *Grid {
	return &Grid{
		Zoom:   zoom,
		West:   west,
		North:  north,
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}
}

func (g *Grid) At(x, y int) float64 { return g.Values[y*g.Width+x] }

func (g *Grid) Set(x, y int, v float64) { g.Values[y*g.Width+x] = v }

// Max returns the largest value in the grid, or 0 for an empty grid.
func (g *Grid) Max() float64 {
	peak := 0.0
	for _, v := range g.Values {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// WriteBinary writes the little-endian GRID format: magic, version, zoom,
// west, north, width, height, then delta-coded rounded int32 values in
// row-major order. Compression is left to the caller.
func (g *Grid) WriteBinary(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(gridMagic[:]); err != nil {
		return err
	}
	header := []int32{gridVersion, int32(g.Zoom), int32(g.West), int32(g.North), int32(g.Width), int32(g.Height)}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	var prev int32
	buf := make([]byte, 4)
	for _, v := range g.Values {
		cur := int32(math.Round(v))
		binary.LittleEndian.PutUint32(buf, uint32(cur-prev))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
		prev = cur
	}
	return bw.Flush()
}

// ReadBinary decodes a grid written by WriteBinary.
func ReadBinary(r io.Reader) (*Grid, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, err
	}
	if magic != gridMagic {
		return nil, ErrBadHeader
	}
	var header [6]int32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header[0] != gridVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, header[0])
	}
	if err := checkDims(header[4], header[5], 1); err != nil {
		return nil, err
	}
	g := New(int(header[1]), int(header[2]), int(header[3]), int(header[4]), int(header[5]))
	var prev int32
	buf := make([]byte, 4)
	for i := range g.Values {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, err
		}
		prev += int32(binary.LittleEndian.Uint32(buf))
		g.Values[i] = float64(prev)
	}
	return g, nil
}
