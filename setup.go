package vrtwo

import (
	"math"

	vec2d "github.com/flywave/go3d/float64/vec2"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// Setup is the pyramid plan derived from the source dataset: the (possibly
// padded) base geometry, the overview level sizes with their tile grids,
// and the mask mode the whole pyramid runs in.
type Setup struct {
	Size     raster.Size
	Extents  vec2d.Rect
	OvrSizes []raster.Size
	OvrTiled []raster.Size
	XPlus    int
	Mask     raster.MaskMode
	Dataset  string
}

func makeSetup(info raster.Info, cfg Config) Setup {
	size := info.Size

	setup := Setup{
		Size:    size,
		Extents: info.Extents,
		Mask:    raster.ClassifyMask(info.MaskFlags),
	}

	halve := func() {
		size.Width = int(math.Round(float64(size.Width) / 2.0))
		size.Height = int(math.Round(float64(size.Height) / 2.0))
	}

	halve()
	for size.Width >= cfg.MinOvrSize.Width || size.Height >= cfg.MinOvrSize.Height {
		setup.OvrSizes = append(setup.OvrSizes, size)

		if size.Width == cfg.MinOvrSize.Width || size.Height == cfg.MinOvrSize.Height {
			// special case
			break
		}

		halve()
	}

	makeTiled := func() {
		ts := cfg.TileSize
		for _, s := range setup.OvrSizes {
			setup.OvrTiled = append(setup.OvrTiled, raster.Size{
				Width:  (s.Width + ts.Width - 1) / ts.Width,
				Height: (s.Height + ts.Height - 1) / ts.Height,
			})
		}
	}

	if cfg.WrapX == nil {
		makeTiled()
		return setup
	}

	// add 3 pixels to each side at the bottom level and double on the way
	// up; 3 pixels covers the widest (lanczos) filter
	add := 6
	for i := len(setup.OvrSizes) - 1; i >= 0; i-- {
		setup.OvrSizes[i].Width += add
		add *= 2
	}

	setup.XPlus = add / 2

	pw := (setup.Extents.Max[0] - setup.Extents.Min[0]) / float64(setup.Size.Width)
	eadd := float64(setup.XPlus) * pw

	setup.Extents.Min[0] -= eadd
	setup.Extents.Max[0] += eadd

	setup.Size.Width += add

	makeTiled()
	return setup
}
