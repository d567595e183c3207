// Package gdal implements raster.Driver on top of the godal bindings.
package gdal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// Register initializes the codec drivers. Call once at startup.
func Register() {
	godal.RegisterAll()
}

// Driver adapts godal to raster.Driver.
type Driver struct{}

func New() Driver { return Driver{} }

func (d Driver) Open(ctx context.Context, path string) (raster.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// solid datasets are this repo's own format
	if strings.HasSuffix(path, ".solid") {
		return raster.OpenSolid(path)
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newDataset(path, ds)
}

func (d Driver) Create(ctx context.Context, path string, spec raster.CreateSpec) (raster.Dataset, error) {
	return create(ctx, godal.GTiff, path, spec)
}

func (d Driver) CreateScratch(ctx context.Context, spec raster.CreateSpec) (raster.Dataset, error) {
	return create(ctx, godal.Memory, "", spec)
}

func (d Driver) Copy(ctx context.Context, src raster.Dataset, path string, opts raster.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gsrc, ok := src.(*dataset)
	if !ok {
		return fmt.Errorf("copy to %s: source is not a godal dataset", path)
	}
	out, err := gsrc.ds.Translate(path, nil, godal.CreationOption(opts.Strings()...))
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", gsrc.path, path, err)
	}
	return out.Close()
}

func create(ctx context.Context, driver godal.DriverName, path string, spec raster.CreateSpec) (raster.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dt, err := toGodalType(spec.Format.DataType)
	if err != nil {
		return nil, err
	}
	ds, err := godal.Create(driver, path, spec.Format.BandCount(), dt,
		spec.Size.Width, spec.Size.Height,
		godal.CreationOption(spec.Options.Strings()...))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := ds.SetProjection(spec.SRS); err != nil {
		ds.Close()
		return nil, fmt.Errorf("create %s: set projection: %w", path, err)
	}
	if err := ds.SetGeoTransform(raster.NorthUpGeoTransform(spec.Extents, spec.Size)); err != nil {
		ds.Close()
		return nil, fmt.Errorf("create %s: set geotransform: %w", path, err)
	}
	if spec.Nodata != nil {
		for _, b := range ds.Bands() {
			if err := b.SetNoData(*spec.Nodata); err != nil {
				ds.Close()
				return nil, fmt.Errorf("create %s: set nodata: %w", path, err)
			}
		}
	}
	if spec.Mask {
		// file formats must keep the mask inside the dataset, not in a
		// .msk sidecar
		if _, err := ds.CreateMaskBand(raster.MaskFlagPerDataset,
			godal.ConfigOption("GDAL_TIFF_INTERNAL_MASK=YES")); err != nil {
			ds.Close()
			return nil, fmt.Errorf("create %s: create mask band: %w", path, err)
		}
	}
	return newDataset(path, ds)
}

type dataset struct {
	path    string
	ds      *godal.Dataset
	info    raster.Info
	bands   []raster.Band
	hasMask bool
}

func newDataset(path string, ds *godal.Dataset) (*dataset, error) {
	d := &dataset{path: path, ds: ds}
	if err := d.describe(); err != nil {
		ds.Close()
		return nil, fmt.Errorf("describe %s: %w", path, err)
	}
	return d, nil
}

func (d *dataset) describe() error {
	st := d.ds.Structure()
	dt, err := fromGodalType(st.DataType)
	if err != nil {
		return err
	}
	info := raster.Info{
		Driver: driverName(d.path),
		Size:   raster.Size{Width: st.SizeX, Height: st.SizeY},
		SRS:    d.ds.Projection(),
		Format: raster.Format{DataType: dt},
	}
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return fmt.Errorf("geotransform: %w", err)
	}
	info.Extents = raster.GeoTransformExtents(gt, info.Size)

	bands := d.ds.Bands()
	for i, b := range bands {
		bst := b.Structure()
		bdt, err := fromGodalType(bst.DataType)
		if err != nil {
			return fmt.Errorf("band %d: %w", i+1, err)
		}
		d.bands = append(d.bands, raster.Band{
			Size:        raster.Size{Width: bst.SizeX, Height: bst.SizeY},
			BlockSize:   raster.Size{Width: bst.BlockSizeX, Height: bst.BlockSizeY},
			DataType:    bdt,
			ColorInterp: b.ColorInterp().Name(),
		})
		info.Format.ColorInterp = append(info.Format.ColorInterp, b.ColorInterp().Name())
	}
	if len(bands) > 0 {
		if nd, ok := bands[0].NoData(); ok {
			info.Nodata = &nd
		}
		info.MaskFlags = bands[0].MaskFlags()
		d.hasMask = info.MaskFlags&raster.MaskFlagAllValid == 0
	}
	d.info = info
	return nil
}

// driverName maps a dataset path to the short name of the format driver
// serving it. The bindings do not hand out the driver; for the formats this
// tool meets the extension identifies it just as well.
func driverName(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "GTiff"
	case ".vrt":
		return "VRT"
	case ".hgt":
		return "SRTMHGT"
	case ".solid":
		return raster.SolidDriverName
	}
	return ""
}

func (d *dataset) Path() string { return d.path }

func (d *dataset) Info() (raster.Info, error) { return d.info, nil }

func (d *dataset) Band(i int) raster.Band { return d.bands[i] }

// Files returns the dataset's main file plus its prefix-named sidecars
// (.ovr, .msk, .aux.xml and friends).
func (d *dataset) Files() []string {
	if d.path == "" {
		return nil
	}
	files := []string{d.path}
	dir := filepath.Dir(d.path)
	prefix := filepath.Base(d.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return files
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files
}

func (d *dataset) Blocks() []raster.Rect {
	if len(d.bands) == 0 {
		return nil
	}
	return raster.BlockWindows(d.info.Size, d.bands[0].BlockSize)
}

func (d *dataset) Read(band int, w raster.Rect) (raster.Buffer, error) {
	buf := raster.NewBuffer(d.bands[band].DataType, w.Size())
	err := d.ds.Bands()[band].Read(w.X, w.Y, buf.Data, w.Width, w.Height)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("read %s band %d: %w", d.path, band+1, err)
	}
	return buf, nil
}

func (d *dataset) Write(band int, w raster.Rect, b raster.Buffer) error {
	err := d.ds.Bands()[band].Write(w.X, w.Y, b.Data, w.Width, w.Height)
	if err != nil {
		return fmt.Errorf("write %s band %d: %w", d.path, band+1, err)
	}
	return nil
}

func (d *dataset) ReadMask(w raster.Rect) ([]byte, error) {
	mask := make([]byte, w.Size().Area())
	mb := d.ds.Bands()[0].MaskBand()
	if err := mb.Read(w.X, w.Y, mask, w.Width, w.Height); err != nil {
		return nil, fmt.Errorf("read %s mask: %w", d.path, err)
	}
	return mask, nil
}

func (d *dataset) WriteMask(w raster.Rect, data []byte) error {
	if !d.hasMask {
		// internal masks must be requested before the first write
		if _, err := d.ds.CreateMaskBand(raster.MaskFlagPerDataset,
			godal.ConfigOption("GDAL_TIFF_INTERNAL_MASK=YES")); err != nil {
			return fmt.Errorf("write %s mask: create mask band: %w", d.path, err)
		}
		d.hasMask = true
	}
	mb := d.ds.Bands()[0].MaskBand()
	if err := mb.Write(w.X, w.Y, data, w.Width, w.Height); err != nil {
		return fmt.Errorf("write %s mask: %w", d.path, err)
	}
	return nil
}

func (d *dataset) Mask() ([]byte, bool, error) {
	if d.info.MaskFlags&raster.MaskFlagAllValid != 0 {
		return nil, false, nil
	}
	mask, err := d.ReadMask(raster.WholeRect(d.info.Size))
	if err != nil {
		return nil, false, err
	}
	return mask, true, nil
}

func (d *dataset) WarpInto(ctx context.Context, dst raster.Dataset, resampling raster.Resampling) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gdst, ok := dst.(*dataset)
	if !ok {
		return fmt.Errorf("warp %s: destination is not a godal dataset", d.path)
	}
	switches := []string{
		"-r", string(resampling),
		// full fidelity: never read source overview levels
		"-ovr", "NONE",
		"-wo", "INIT_DEST=NO_DATA",
	}
	if err := gdst.ds.WarpInto([]*godal.Dataset{d.ds}, switches); err != nil {
		return fmt.Errorf("warp %s: %w", d.path, err)
	}
	return nil
}

func (d *dataset) Close() error {
	if d.ds == nil {
		return nil
	}
	err := d.ds.Close()
	d.ds = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}

func toGodalType(dt raster.DataType) (godal.DataType, error) {
	switch dt {
	case raster.Byte:
		return godal.Byte, nil
	case raster.UInt16:
		return godal.UInt16, nil
	case raster.Int16:
		return godal.Int16, nil
	case raster.UInt32:
		return godal.UInt32, nil
	case raster.Int32:
		return godal.Int32, nil
	case raster.Float32:
		return godal.Float32, nil
	case raster.Float64:
		return godal.Float64, nil
	}
	return godal.Unknown, fmt.Errorf("unsupported data type <%s>", dt)
}

func fromGodalType(dt godal.DataType) (raster.DataType, error) {
	switch dt {
	case godal.Byte:
		return raster.Byte, nil
	case godal.UInt16:
		return raster.UInt16, nil
	case godal.Int16:
		return raster.Int16, nil
	case godal.UInt32:
		return raster.UInt32, nil
	case godal.Int32:
		return raster.Int32, nil
	case godal.Float32:
		return raster.Float32, nil
	case godal.Float64:
		return raster.Float64, nil
	}
	return raster.Unknown, fmt.Errorf("unsupported data type <%s>", dt)
}
