package vrtwo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/tiff"
	"github.com/tbonfort/gobs"
	"go.airbusds-geo.com/log"

	"github.com/cartolinadev/cartolina-tileserver/vrt"
)

const (
	subfileTypeReducedImage = 1
	subfileTypeMask         = 4
)

// tileIFD is the slice of TIFF structure the checker cares about.
type tileIFD struct {
	SubfileType     uint32   `tiff:"field,tag=254"`
	ImageWidth      uint64   `tiff:"field,tag=256"`
	ImageLength     uint64   `tiff:"field,tag=257"`
	StripOffsets    []uint64 `tiff:"field,tag=273"`
	SamplesPerPixel uint16   `tiff:"field,tag=277"`
	StripByteCounts []uint64 `tiff:"field,tag=279"`
	TileWidth       uint16   `tiff:"field,tag=322"`
	TileLength      uint16   `tiff:"field,tag=323"`
	TileOffsets     []uint64 `tiff:"field,tag=324"`
	TileByteCounts  []uint64 `tiff:"field,tag=325"`
}

// Check walks a generated pyramid under dir and validates every tile file
// the level descriptors reference: tiles must be tiled rasters with a
// consistent tile index and the band count their descriptor announces.
// jobs bounds how many tiles are checked at once, 0 means one per CPU.
func Check(ctx context.Context, dir string, jobs int) error {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	if _, err := vrt.Parse(filepath.Join(dir, "dataset")); err != nil {
		return err
	}

	p := gobs.NewPool(jobs)
	batch := p.Batch()

	levels, tiles := 0, 0
	for i := 0; ; i++ {
		ovrPath := filepath.Join(dir, strconv.Itoa(i), "ovr.vrt")
		if _, err := os.Stat(ovrPath); err != nil {
			if os.IsNotExist(err) {
				break
			}
			return fmt.Errorf("stat %s: %w", ovrPath, err)
		}
		doc, err := vrt.Parse(ovrPath)
		if err != nil {
			return err
		}
		if len(doc.Bands) == 0 {
			return fmt.Errorf("%s: descriptor has no bands", ovrPath)
		}
		bands := len(doc.Bands)
		levelDir := filepath.Dir(ovrPath)

		for _, src := range doc.Bands[0].Sources {
			name := src.Filename.Path
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(levelDir, name)
			}
			tiles++
			batch.Submit(func() error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := checkTile(path, bands); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				return nil
			})
		}
		levels++
	}

	log.Logger(ctx).Sugar().Infof("about to check %d tiles across %d overviews in %s", tiles, levels, dir)
	if err := batch.Wait(); err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("checked %d tiles, all consistent", tiles)
	return nil
}

func checkTile(path string, bands int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close() //nolint:errcheck

	tif, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return fmt.Errorf("tiff.parse: %w", err)
	}

	var main *tileIFD
	for i, tifd := range tif.IFDs() {
		ifd := &tileIFD{}
		if err := tiff.UnmarshalIFD(tifd, ifd); err != nil {
			return fmt.Errorf("unmarshal ifd %d: %w", i, err)
		}
		if err := checkTileIFD(ifd); err != nil {
			return fmt.Errorf("ifd %d: %w", i, err)
		}
		switch ifd.SubfileType {
		case 0:
			if main != nil {
				return fmt.Errorf("more than one main image")
			}
			main = ifd
		case subfileTypeMask, subfileTypeMask | subfileTypeReducedImage:
			if ifd.SamplesPerPixel != 1 {
				return fmt.Errorf("mask samples per pixel %d must be exactly 1", ifd.SamplesPerPixel)
			}
		}
	}
	if main == nil {
		return fmt.Errorf("no main image")
	}
	if int(main.SamplesPerPixel) != bands {
		return fmt.Errorf("%d samples per pixel, descriptor has %d bands", main.SamplesPerPixel, bands)
	}
	return nil
}

func checkTileIFD(ifd *tileIFD) error {
	if len(ifd.StripOffsets) > 0 || len(ifd.StripByteCounts) > 0 {
		return fmt.Errorf("tif has strips")
	}
	if ifd.TileWidth == 0 || ifd.TileLength == 0 {
		return fmt.Errorf("not tiled")
	}
	if len(ifd.TileOffsets) == 0 {
		return fmt.Errorf("no tiles")
	}
	if len(ifd.TileOffsets) != len(ifd.TileByteCounts) {
		return fmt.Errorf("inconsistent tile off/len count")
	}
	nx := (ifd.ImageWidth + uint64(ifd.TileWidth) - 1) / uint64(ifd.TileWidth)
	ny := (ifd.ImageLength + uint64(ifd.TileLength) - 1) / uint64(ifd.TileLength)
	if nx == 0 || ny == 0 {
		return fmt.Errorf("empty image")
	}
	// planar configurations store one set of tiles per plane
	if uint64(len(ifd.TileOffsets))%(nx*ny) != 0 {
		return fmt.Errorf("inconsistent tile count %dx%d vs %d", nx, ny, len(ifd.TileOffsets))
	}
	return nil
}
