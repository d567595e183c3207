package vrtwo

import (
	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// emptyTile reports whether a warped tile holds nothing worth storing.
// With a background color the tile must match it exactly in every band;
// otherwise an all-invalid validity mask makes it empty.
func emptyTile(cfg Config, ds raster.Dataset) (bool, error) {
	if len(cfg.Background) > 0 {
		info, err := ds.Info()
		if err != nil {
			return false, err
		}
		bands := info.Format.BandCount()
		background := make([]float64, bands)
		copy(background, cfg.Background)

		for _, w := range ds.Blocks() {
			for i := 0; i < bands; i++ {
				block, err := ds.Read(i, w)
				if err != nil {
					return false, err
				}
				same, err := uniformValue(block, background[i])
				if err != nil {
					return false, err
				}
				if !same {
					return false, nil
				}
			}
		}
		return true, nil
	}

	// no background: do not store only when the mask says nothing is valid
	mask, ok, err := ds.Mask()
	if err != nil {
		return false, err
	}
	if !ok {
		// no mask, the full area is valid
		return false, nil
	}
	for _, v := range mask {
		if v != 0 {
			return false, nil
		}
	}
	return true, nil
}

// uniformValue reports whether every sample equals value in the buffer's
// native type. 32 bit unsigned samples go through int32, matching the
// comparison kernels on the renderer side.
func uniformValue(b raster.Buffer, value float64) (bool, error) {
	switch data := b.Data.(type) {
	case []uint8:
		want := uint8(value)
		for _, v := range data {
			if v != want {
				return false, nil
			}
		}

	case []uint16:
		want := uint16(value)
		for _, v := range data {
			if v != want {
				return false, nil
			}
		}

	case []int16:
		want := int16(value)
		for _, v := range data {
			if v != want {
				return false, nil
			}
		}

	case []uint32:
		want := int32(value)
		for _, v := range data {
			if int32(v) != want {
				return false, nil
			}
		}

	case []int32:
		want := int32(value)
		for _, v := range data {
			if v != want {
				return false, nil
			}
		}

	case []float32:
		want := float32(value)
		for _, v := range data {
			if v != want {
				return false, nil
			}
		}

	case []float64:
		for _, v := range data {
			if v != value {
				return false, nil
			}
		}

	default:
		return false, configErrorf("unsupported data type <%s>", b.DataType)
	}
	return true, nil
}
