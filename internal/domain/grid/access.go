package grid

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

var accessMagic = [8]byte{'A', 'C', 'C', 'E', 'S', 'S', 'G', 'R'}

const accessVersion = 0

// AccessGrid holds the raw replicate output of a regional analysis: for every
// pixel, Samples accessibility values. Sample 0 is the point estimate over all
// Monte Carlo draws; samples 1..n-1 are bootstrap replicates.
type AccessGrid struct {
	Zoom    int
	West    int
	North   int
	Width   int
	Height  int
	Samples int
	Values  []int32
}

// NewAccessGrid allocates an access grid with zeroed samples.
func NewAccessGrid(zoom, west, north, width, height, samples int) *AccessGrid {
	return &AccessGrid{
		Zoom:    zoom,
		West:    west,
		North:   north,
		Width:   width,
		Height:  height,
		Samples: samples,
		Values:  make([]int32, width*height*samples),
	}
}

// PixelSamples returns the samples of pixel (x, y). The slice aliases the
// grid storage.
func (a *AccessGrid) PixelSamples(x, y int) []int32 {
	start := (y*a.Width + x) * a.Samples
	return a.Values[start : start+a.Samples]
}

// Contains reports whether the web mercator pixel (px, py) lies in the grid.
func (a *AccessGrid) Contains(px, py int) bool {
	return px >= a.West && px < a.West+a.Width && py >= a.North && py < a.North+a.Height
}

// Select returns a grid holding sample i of every pixel.
func (a *AccessGrid) Select(i int) (*Grid, error) {
	if i < 0 || i >= a.Samples {
		return nil, fmt.Errorf("sample %d out of range [0,%d)", i, a.Samples)
	}
	g := New(a.Zoom, a.West, a.North, a.Width, a.Height)
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			g.Set(x, y, float64(a.PixelSamples(x, y)[i]))
		}
	}
	return g, nil
}

// ReadAccess decodes an uncompressed access grid: magic, then int32 version,
// zoom, west, north, width, height, samples, then per pixel the samples
// delta-coded against the previous sample of the same pixel.
func ReadAccess(r io.Reader) (*AccessGrid, error) {
	br := bufio.NewReader(r)
	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, err
	}
	if magic != accessMagic {
		return nil, ErrBadHeader
	}
	var header [7]int32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header[0] != accessVersion {
		return nil, fmt.Errorf("%w: access version %d", ErrBadHeader, header[0])
	}
	if err := checkDims(header[4], header[5], header[6]); err != nil {
		return nil, err
	}
	a := NewAccessGrid(int(header[1]), int(header[2]), int(header[3]), int(header[4]), int(header[5]), int(header[6]))
	buf := make([]byte, 4)
	for p := 0; p < a.Width*a.Height; p++ {
		var prev int32
		for s := 0; s < a.Samples; s++ {
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, err
			}
			prev += int32(binary.LittleEndian.Uint32(buf))
			a.Values[p*a.Samples+s] = prev
		}
	}
	return a, nil
}

// WriteAccess is the inverse of ReadAccess.
func (a *AccessGrid) WriteAccess(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(accessMagic[:]); err != nil {
		return err
	}
	header := []int32{accessVersion, int32(a.Zoom), int32(a.West), int32(a.North), int32(a.Width), int32(a.Height), int32(a.Samples)}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for p := 0; p < a.Width*a.Height; p++ {
		var prev int32
		for s := 0; s < a.Samples; s++ {
			cur := a.Values[p*a.Samples+s]
			binary.LittleEndian.PutUint32(buf, uint32(cur-prev))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
			prev = cur
		}
	}
	return bw.Flush()
}
