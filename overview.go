package vrtwo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/sourcegraph/conc/pool"
	"go.airbusds-geo.com/log"

	"github.com/cartolinadev/cartolina-tileserver/raster"
	"github.com/cartolinadev/cartolina-tileserver/vrt"
)

// generator carries the state shared by every level of one generation run.
type generator struct {
	drv    raster.Driver
	cfg    Config
	output string
	mask   raster.MaskMode

	total    int
	progress int32

	// createMu serializes dataset creation and copy in the codec
	createMu sync.Mutex
}

// resolvePredictor pins a PREDICTOR creation option to the value the source
// data type calls for. An empty value is filled in, "1" stays as an explicit
// opt-out, any other mismatch is a configuration error.
func resolvePredictor(opts raster.Options, dt raster.DataType) (raster.Options, error) {
	i := opts.Index("PREDICTOR")
	if i < 0 {
		return opts, nil
	}

	predictor := "2"
	if dt.IsFloat() {
		predictor = "3"
	}

	switch v := opts[i].Value; {
	case v == "":
		opts[i].Value = predictor
	case v == "1":
		// predictor turned off, leave it

	case v != predictor:
		return nil, configErrorf("PREDICTOR value and bandtype mismatch. " +
			"Use 2 for integer and 3 for floating point or leave without " +
			"value to be determined automatically.")
	}
	return opts, nil
}

// background artifact names, relative to the level descriptor.
const (
	bgSolidName = "bg.solid"
	bgImageName = "bg.tif"
)

// bgImageSize is the stored footprint of the background raster; the
// descriptor stretches it across the whole level.
var bgImageSize = raster.Size{Width: 256, Height: 256}

// addBackground gives a level a uniform backdrop registered as the first
// source of every band. The color lands twice next to the descriptor: a
// solid sidecar keeps the exact values for the renderer side, and a small
// raster carries them for the codec, which resolves descriptor sources on
// its own and has no driver for the sidecar format. color is padded with
// zeros to the band count; a nil color is a no-op.
func addBackground(ctx context.Context, drv raster.Driver, w *vrt.Writer, dir, srs string,
	extents vec2d.Rect, size raster.Size, format raster.Format, color []float64) error {

	if len(color) == 0 {
		return nil
	}
	background := make([]float64, format.BandCount())
	copy(background, color)

	cfg := raster.SolidConfig{
		SRS:          srs,
		Size:         size,
		GeoTransform: raster.NorthUpGeoTransform(extents, size),
	}
	for i, ci := range format.ColorInterp {
		cfg.Bands = append(cfg.Bands, raster.SolidBand{
			Value:       background[i],
			ColorInterp: ci,
			DataType:    format.DataType,
		})
	}
	solid, err := raster.CreateSolid(filepath.Join(dir, bgSolidName), cfg)
	if err != nil {
		return fmt.Errorf("create background: %w", err)
	}
	solid.Close() //nolint:errcheck

	bg, err := drv.Create(ctx, filepath.Join(dir, bgImageName), raster.CreateSpec{
		SRS:     srs,
		Extents: extents,
		Size:    bgImageSize,
		Format:  format,
		Options: raster.Options{{"TILED", "YES"}},
	})
	if err != nil {
		return fmt.Errorf("create background: %w", err)
	}

	buf := raster.NewBuffer(format.DataType, bgImageSize)
	for i, v := range background {
		buf.Fill(v)
		if err := bg.Write(i, raster.WholeRect(bgImageSize), buf); err != nil {
			bg.Close()
			return fmt.Errorf("fill background: %w", err)
		}
	}

	whole := raster.WholeRect(size)
	for band := 0; band < w.BandCount(); band++ {
		if err := w.AddSource(band, bgImageName, bg, band, nil, &whole); err != nil {
			bg.Close()
			return err
		}
	}
	if err := bg.Close(); err != nil {
		return fmt.Errorf("close background: %w", err)
	}
	return nil
}

// createOverview builds one overview level from the previous level's
// descriptor at srcPath: materializes every non-empty tile under dir and
// writes the level descriptor referencing them. Returns the descriptor path
// relative to the output directory.
func (g *generator) createOverview(ctx context.Context, index int, srcPath, dir string,
	size, tiled raster.Size) (string, error) {

	ovrName := filepath.Join(dir, "ovr.vrt")
	ovrPath := filepath.Join(g.output, ovrName)

	log.Logger(ctx).Sugar().Infof("creating overview #%d of %d tiles in %s from %s",
		index, tiled.Area(), ovrPath, srcPath)

	src, err := g.drv.Open(ctx, srcPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", srcPath, err)
	}
	srcInfo, err := src.Info()
	src.Close()
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", srcPath, err)
	}

	// resolve the PREDICTOR on a copy so one level cannot leak its value
	// into the next
	options, err := resolvePredictor(g.cfg.CreateOptions.Clone(), srcInfo.Format.DataType)
	if err != nil {
		return "", err
	}

	writer := vrt.NewWriter(ovrPath, srcInfo.SRS, srcInfo.Extents, size,
		srcInfo.Format, srcInfo.Nodata, g.mask)
	if err := addBackground(ctx, g.drv, writer, filepath.Join(g.output, dir),
		srcInfo.SRS, srcInfo.Extents, size, srcInfo.Format, g.cfg.Background); err != nil {
		return "", err
	}

	b := &levelBuilder{
		generator: g,
		index:     index,
		srcPath:   srcPath,
		srcInfo:   srcInfo,
		dir:       dir,
		size:      size,
		tiled:     tiled,
		writer:    writer,
		options:   options,
	}

	ts := g.cfg.TileSize
	extents := srcInfo.Extents

	// tile size in real extents
	b.tileW = (extents.Max[0] - extents.Min[0]) * float64(ts.Width) / float64(size.Width)
	b.tileH = (extents.Max[1] - extents.Min[1]) * float64(ts.Height) / float64(size.Height)

	// the extents' upper-left corner is the origin for tile calculations
	b.originX = extents.Min[0]
	b.originY = extents.Max[1]

	// last row and column take the remainder pixels
	b.last = raster.Size{
		Width:  size.Width - (tiled.Width-1)*ts.Width,
		Height: size.Height - (tiled.Height-1)*ts.Height,
	}

	p := pool.New().WithMaxGoroutines(g.cfg.jobs()).WithErrors().WithFirstError()
	for i := 0; i < tiled.Area(); i++ {
		x, y := i%tiled.Width, i/tiled.Width
		p.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return b.buildTile(ctx, x, y)
		})
	}
	if err := p.Wait(); err != nil {
		return "", err
	}

	if err := writer.Flush(); err != nil {
		return "", err
	}
	return ovrName, nil
}

// levelBuilder holds the per-level geometry shared by the tile workers.
type levelBuilder struct {
	*generator
	index   int
	srcPath string
	srcInfo raster.Info
	dir     string
	size    raster.Size
	tiled   raster.Size
	writer  *vrt.Writer
	options raster.Options

	tileW, tileH     float64
	originX, originY float64
	last             raster.Size
}

func (b *levelBuilder) buildTile(ctx context.Context, x, y int) error {
	start := time.Now()
	ts := b.cfg.TileSize

	lastX := x == b.tiled.Width-1
	lastY := y == b.tiled.Height-1

	pxSize := raster.Size{Width: ts.Width, Height: ts.Height}
	if lastX {
		pxSize.Width = b.last.Width
	}
	if lastY {
		pxSize.Height = b.last.Height
	}

	// tile extents; the last row and column are clamped to the level
	// extents so rounding cannot push them outside
	ulX := b.originX + b.tileW*float64(x)
	ulY := b.originY - b.tileH*float64(y)
	lrX := ulX + b.tileW
	if lastX {
		lrX = b.srcInfo.Extents.Max[0]
	}
	lrY := ulY - b.tileH
	if lastY {
		lrY = b.srcInfo.Extents.Min[1]
	}
	te := vec2d.Rect{Min: vec2d.T{ulX, lrY}, Max: vec2d.T{lrX, ulY}}

	log.Logger(ctx).Sugar().Debugf("processing tile %d-%d-%d (size: %s, extents: %v)",
		b.index, x, y, pxSize, te)

	src, err := b.drv.Open(ctx, b.srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.srcPath, err)
	}
	defer src.Close() //nolint:errcheck

	spec, err := scratchSpec(b.srcInfo, te, pxSize, b.mask)
	if err != nil {
		return err
	}
	scratch, err := b.drv.CreateScratch(ctx, spec)
	if err != nil {
		return fmt.Errorf("create scratch for tile %d-%d-%d: %w", b.index, x, y, err)
	}
	defer scratch.Close() //nolint:errcheck

	if err := src.WarpInto(ctx, scratch, b.cfg.Resampling); err != nil {
		return fmt.Errorf("warp tile %d-%d-%d: %w", b.index, x, y, err)
	}

	empty, err := emptyTile(b.cfg, scratch)
	if err != nil {
		return fmt.Errorf("inspect tile %d-%d-%d: %w", b.index, x, y, err)
	}
	if empty {
		id := atomic.AddInt32(&b.progress, 1)
		log.Logger(ctx).Sugar().Infof("processed tile #%d/%d %d-%d-%d (size: %s, extents: %v) [empty]; took %s",
			id, b.total, b.index, x, y, pxSize, te, time.Since(start))
		return nil
	}

	tileName := fmt.Sprintf("%d-%d.tif", x, y)
	tilePath := filepath.Join(b.output, b.dir, tileName)

	// make room for the output file
	os.Remove(tilePath)

	if err := b.materialize(ctx, scratch, tilePath); err != nil {
		return err
	}

	drect := raster.Rect{X: x * ts.Width, Y: y * ts.Height, Width: pxSize.Width, Height: pxSize.Height}
	for band := 0; band < b.writer.BandCount(); band++ {
		if err := b.writer.AddSource(band, tileName, scratch, band, nil, &drect); err != nil {
			return err
		}
	}

	id := atomic.AddInt32(&b.progress, 1)
	log.Logger(ctx).Sugar().Infof("processed tile #%d/%d %d-%d-%d (size: %s, extents: %v) [valid]; took %s",
		id, b.total, b.index, x, y, pxSize, te, time.Since(start))
	return nil
}

// materialize stores the warped scratch as a tile file. With a band mask the
// file keeps the pre-promotion sample format and validity lands in its mask
// band; otherwise the codec's native copy is enough.
func (b *levelBuilder) materialize(ctx context.Context, scratch raster.Dataset, path string) error {
	if b.mask != raster.MaskBand {
		b.createMu.Lock()
		defer b.createMu.Unlock()
		if err := b.drv.Copy(ctx, scratch, path, b.options); err != nil {
			return fmt.Errorf("copy %s: %w", path, err)
		}
		return nil
	}

	info, err := scratch.Info()
	if err != nil {
		return err
	}

	spec := raster.CreateSpec{
		SRS:     info.SRS,
		Extents: info.Extents,
		Size:    info.Size,
		Format:  b.srcInfo.Format,
		Options: b.options,
		Mask:    true,
	}

	b.createMu.Lock()
	dst, err := b.drv.Create(ctx, path, spec)
	b.createMu.Unlock()
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := copyWithMask(scratch, dst); err != nil {
		dst.Close()
		return fmt.Errorf("store %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// copyWithMask copies all data bands and the validity mask block by block.
func copyWithMask(src, dst raster.Dataset) error {
	info, err := src.Info()
	if err != nil {
		return err
	}
	bands := info.Format.BandCount()

	for _, w := range src.Blocks() {
		for b := 0; b < bands; b++ {
			block, err := src.Read(b, w)
			if err != nil {
				return err
			}
			if err := dst.Write(b, w, block); err != nil {
				return err
			}
		}
		mask, err := src.ReadMask(w)
		if err != nil {
			return err
		}
		if err := dst.WriteMask(w, mask); err != nil {
			return err
		}
	}
	return nil
}
