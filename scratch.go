package vrtwo

import (
	"math"

	vec2d "github.com/flywave/go3d/float64/vec2"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// scratchSpec builds the in-memory warp target for one tile. The warper
// writes band samples only, never a destination mask, so with a band mask
// validity rides on a nodata sentinel outside the source range: the sample
// type is promoted one size up and the sentinel is planted at the promoted
// type's lowest value. The codec synthesizes the scratch's mask from it.
func scratchSpec(src raster.Info, extents vec2d.Rect, size raster.Size, mask raster.MaskMode) (raster.CreateSpec, error) {
	spec := raster.CreateSpec{
		SRS:     src.SRS,
		Extents: extents,
		Size:    size,
		Format:  src.Format,
		Nodata:  src.Nodata,
	}
	if mask != raster.MaskBand {
		return spec, nil
	}

	var nodata float64
	switch src.Format.DataType {
	case raster.Byte:
		spec.Format.DataType = raster.Int16
		nodata = math.MinInt16

	case raster.UInt16, raster.Int16:
		spec.Format.DataType = raster.Int32
		nodata = math.MinInt32

	case raster.UInt32, raster.Int32, raster.Float32:
		spec.Format.DataType = raster.Float64
		nodata = -math.MaxFloat64

	case raster.Float64:
		nodata = -math.MaxFloat64

	default:
		return raster.CreateSpec{}, configErrorf("unsupported data type <%s>", src.Format.DataType)
	}

	spec.Nodata = &nodata
	return spec, nil
}
