package grid

import (
	"image"
	"image/color"
	"image/png"
	"io"
)

// WritePNG renders the grid as a translucent single-hue raster where opacity
// scales with the cell value relative to the grid maximum.
func (g *Grid) WritePNG(w io.Writer) error {
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	peak := g.Max()
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			var alpha uint8
			if peak > 0 {
				v := g.At(x, y)
				if v > 0 {
					alpha = uint8(v / peak * 255)
				}
			}
			img.SetNRGBA(x, y, color.NRGBA{R: 0x2e, G: 0x6d, B: 0xb4, A: alpha})
		}
	}
	return png.Encode(w, img)
}
