package vrtwo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	vec2d "github.com/flywave/go3d/float64/vec2"

	"github.com/cartolinadev/cartolina-tileserver/raster"
	"github.com/cartolinadev/cartolina-tileserver/vrt"
)

// fakeDriver is an in-memory codec. Registered datasets are served by path,
// descriptor files on disk are composed from their sources, solid sidecars
// are read with their own codec.
type fakeDriver struct {
	mu  sync.Mutex
	reg map[string]*fakeDataset
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{reg: map[string]*fakeDataset{}}
}

var _ raster.Driver = (*fakeDriver)(nil)

func (d *fakeDriver) register(ds *fakeDataset) {
	key, _ := filepath.Abs(ds.path)
	d.mu.Lock()
	d.reg[key] = ds
	d.mu.Unlock()
}

// lookup finds a registered dataset, following symlinks on disk.
func (d *fakeDriver) lookup(path string) *fakeDataset {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key, err := filepath.Abs(path); err == nil {
		if ds, ok := d.reg[key]; ok {
			return ds
		}
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if key, err := filepath.Abs(resolved); err == nil {
			if ds, ok := d.reg[key]; ok {
				return ds
			}
		}
	}
	return nil
}

func (d *fakeDriver) Open(ctx context.Context, path string) (raster.Dataset, error) {
	if ds := d.lookup(path); ds != nil {
		return ds, nil
	}
	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(path, ".solid") {
			return raster.OpenSolid(path)
		}
		return d.compose(ctx, path)
	}
	return nil, fmt.Errorf("no dataset at %s", path)
}

func (d *fakeDriver) Create(_ context.Context, path string, spec raster.CreateSpec) (raster.Dataset, error) {
	ds := newFakeFromSpec(path, spec)
	ds.options = spec.Options
	d.register(ds)
	return ds, nil
}

func (d *fakeDriver) CreateScratch(_ context.Context, spec raster.CreateSpec) (raster.Dataset, error) {
	return newFakeFromSpec("", spec), nil
}

func (d *fakeDriver) Copy(_ context.Context, src raster.Dataset, path string, opts raster.Options) error {
	s, ok := src.(*fakeDataset)
	if !ok {
		return fmt.Errorf("cannot copy %T", src)
	}
	c := s.clone(path)
	c.options = opts
	d.register(c)
	return nil
}

// compose builds an in-memory view of a descriptor file by painting its
// sources, nearest in the file wins last.
func (d *fakeDriver) compose(ctx context.Context, path string) (*fakeDataset, error) {
	doc, err := vrt.Parse(path)
	if err != nil {
		return nil, err
	}
	if len(doc.Bands) == 0 {
		return nil, fmt.Errorf("descriptor %s has no bands", path)
	}
	gt, err := parseGeoTransform(doc.GeoTransform)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	size := raster.Size{Width: doc.RasterXSize, Height: doc.RasterYSize}
	dt, err := raster.ParseDataType(doc.Bands[0].DataType)
	if err != nil {
		return nil, err
	}

	var interp []string
	for _, b := range doc.Bands {
		interp = append(interp, b.ColorInterp)
	}
	f := newFakeDataset(path, size, raster.GeoTransformExtents(gt, size), dt, interp...)
	f.driver = "VRT"
	f.srs = doc.SRS
	f.nodata = doc.Bands[0].NoData
	switch {
	case doc.Mask != nil:
		f.valid = make([]byte, size.Area())
		f.flags = raster.MaskFlagPerDataset
	case f.nodata != nil:
		f.flags = raster.MaskFlagNodata
	default:
		f.flags = raster.MaskFlagAllValid
	}
	// areas no source covers read as the band nodata
	if f.nodata != nil {
		for b := range f.data {
			f.fill(b, *f.nodata)
		}
	}

	dir := filepath.Dir(path)
	// the codec resolves source files on its own; the solid sidecar
	// format has no driver there
	openSource := func(name string) (raster.Dataset, error) {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if strings.HasSuffix(p, ".solid") {
			return nil, fmt.Errorf("descriptor %s: no driver opens %s", path, name)
		}
		return d.Open(ctx, p)
	}

	for bi, band := range doc.Bands {
		for _, s := range band.Sources {
			src, err := openSource(s.Filename.Path)
			if err != nil {
				return nil, err
			}
			sb, err := strconv.Atoi(s.SourceBand)
			if err != nil {
				src.Close()
				return nil, fmt.Errorf("descriptor %s: source band %q", path, s.SourceBand)
			}
			if err := paintBand(f, bi, src, sb-1, s); err != nil {
				src.Close()
				return nil, err
			}
			src.Close()
		}
	}
	if doc.Mask != nil {
		for _, s := range doc.Mask.Band.Sources {
			src, err := openSource(s.Filename.Path)
			if err != nil {
				return nil, err
			}
			if err := paintMask(f, src, s); err != nil {
				src.Close()
				return nil, err
			}
			src.Close()
		}
	}
	return f, nil
}

func sourceWindows(src raster.Dataset, s vrt.SimpleSource) (srcRect, dstRect raster.Rect, err error) {
	info, err := src.Info()
	if err != nil {
		return raster.Rect{}, raster.Rect{}, err
	}
	srcRect = raster.WholeRect(info.Size)
	if s.SrcRect != nil {
		srcRect = raster.Rect{X: s.SrcRect.XOff, Y: s.SrcRect.YOff, Width: s.SrcRect.XSize, Height: s.SrcRect.YSize}
	}
	dstRect = srcRect
	if s.DstRect != nil {
		dstRect = raster.Rect{X: s.DstRect.XOff, Y: s.DstRect.YOff, Width: s.DstRect.XSize, Height: s.DstRect.YSize}
	}
	return srcRect, dstRect, nil
}

// nearestIndex maps a destination index onto a source run of a different
// length, nearest neighbor by pixel center.
func nearestIndex(i, from, to int) int {
	if from == to {
		return i
	}
	return int((float64(i) + 0.5) * float64(to) / float64(from))
}

func paintBand(f *fakeDataset, band int, src raster.Dataset, srcBand int, s vrt.SimpleSource) error {
	srcRect, dstRect, err := sourceWindows(src, s)
	if err != nil {
		return err
	}
	buf, err := src.Read(srcBand, srcRect)
	if err != nil {
		return err
	}
	for y := 0; y < dstRect.Height; y++ {
		sy := nearestIndex(y, dstRect.Height, srcRect.Height)
		for x := 0; x < dstRect.Width; x++ {
			sx := nearestIndex(x, dstRect.Width, srcRect.Width)
			f.data[band][(dstRect.Y+y)*f.size.Width+dstRect.X+x] = bufferSample(buf, sy*srcRect.Width+sx)
		}
	}
	return nil
}

func paintMask(f *fakeDataset, src raster.Dataset, s vrt.SimpleSource) error {
	srcRect, dstRect, err := sourceWindows(src, s)
	if err != nil {
		return err
	}
	mask, err := src.ReadMask(srcRect)
	if err != nil {
		return err
	}
	for y := 0; y < dstRect.Height; y++ {
		sy := nearestIndex(y, dstRect.Height, srcRect.Height)
		for x := 0; x < dstRect.Width; x++ {
			sx := nearestIndex(x, dstRect.Width, srcRect.Width)
			f.valid[(dstRect.Y+y)*f.size.Width+dstRect.X+x] = mask[sy*srcRect.Width+sx]
		}
	}
	return nil
}

func parseGeoTransform(s string) ([6]float64, error) {
	parts := strings.Split(s, ",")
	var gt [6]float64
	if len(parts) != 6 {
		return gt, fmt.Errorf("invalid geotransform %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return gt, fmt.Errorf("invalid geotransform %q: %w", s, err)
		}
		gt[i] = v
	}
	return gt, nil
}

// fakeDataset keeps samples as float64 regardless of the declared type;
// reads clamp and convert to the native type.
type fakeDataset struct {
	path    string
	driver  string
	srs     string
	extents vec2d.Rect
	size    raster.Size
	format  raster.Format
	nodata  *float64
	flags   int
	block   raster.Size
	files   []string
	options raster.Options

	data  [][]float64
	valid []byte
}

var _ raster.Dataset = (*fakeDataset)(nil)

func newFakeDataset(path string, size raster.Size, ext vec2d.Rect, dt raster.DataType, interp ...string) *fakeDataset {
	f := &fakeDataset{
		path:    path,
		driver:  "Fake",
		srs:     "EPSG:4326",
		extents: ext,
		size:    size,
		format:  raster.Format{DataType: dt, ColorInterp: interp},
		flags:   raster.MaskFlagAllValid,
		block:   size,
		files:   []string{path},
		data:    make([][]float64, len(interp)),
	}
	for i := range f.data {
		f.data[i] = make([]float64, size.Area())
	}
	return f
}

func newFakeFromSpec(path string, spec raster.CreateSpec) *fakeDataset {
	f := newFakeDataset(path, spec.Size, spec.Extents, spec.Format.DataType, spec.Format.ColorInterp...)
	f.srs = spec.SRS
	f.nodata = spec.Nodata
	switch {
	case spec.Mask:
		f.valid = make([]byte, spec.Size.Area())
		f.flags = raster.MaskFlagPerDataset
	case spec.Nodata != nil:
		f.flags = raster.MaskFlagNodata
	}
	return f
}

func (f *fakeDataset) clone(path string) *fakeDataset {
	c := newFakeDataset(path, f.size, f.extents, f.format.DataType, f.format.ColorInterp...)
	c.srs = f.srs
	c.nodata = f.nodata
	c.flags = f.flags
	for i := range f.data {
		copy(c.data[i], f.data[i])
	}
	if f.valid != nil {
		c.valid = append([]byte(nil), f.valid...)
	}
	return c
}

// withMask turns on an explicit validity mask, everything valid.
func (f *fakeDataset) withMask() *fakeDataset {
	f.valid = make([]byte, f.size.Area())
	for i := range f.valid {
		f.valid[i] = 255
	}
	f.flags = raster.MaskFlagPerDataset
	return f
}

func (f *fakeDataset) fill(band int, v float64) {
	for i := range f.data[band] {
		f.data[band][i] = v
	}
}

func (f *fakeDataset) setPix(band, x, y int, v float64) {
	f.data[band][y*f.size.Width+x] = v
}

func (f *fakeDataset) pix(band, x, y int) float64 {
	return f.data[band][y*f.size.Width+x]
}

// maskAt is the effective validity of one pixel: the explicit mask when
// there is one, else nodata synthesis, else everything valid.
func (f *fakeDataset) maskAt(x, y int) byte {
	i := y*f.size.Width + x
	if f.valid != nil {
		return f.valid[i]
	}
	if f.nodata != nil && f.data[0][i] == *f.nodata {
		return 0
	}
	return 255
}

func (f *fakeDataset) validAt(x, y int) bool {
	return f.maskAt(x, y) != 0
}

func (f *fakeDataset) Path() string { return f.path }

func (f *fakeDataset) Info() (raster.Info, error) {
	return raster.Info{
		Driver:    f.driver,
		Size:      f.size,
		Extents:   f.extents,
		SRS:       f.srs,
		Format:    f.format,
		Nodata:    f.nodata,
		MaskFlags: f.flags,
	}, nil
}

func (f *fakeDataset) Band(i int) raster.Band {
	return raster.Band{
		Size:        f.size,
		BlockSize:   f.block,
		DataType:    f.format.DataType,
		ColorInterp: f.format.ColorInterp[i],
	}
}

func (f *fakeDataset) Files() []string { return f.files }

func (f *fakeDataset) Blocks() []raster.Rect {
	return raster.BlockWindows(f.size, f.block)
}

func (f *fakeDataset) Read(band int, w raster.Rect) (raster.Buffer, error) {
	if band < 0 || band >= len(f.data) {
		return raster.Buffer{}, fmt.Errorf("no band %d", band)
	}
	buf := raster.NewBuffer(f.format.DataType, w.Size())
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			setBufferSample(buf, y*w.Width+x, f.data[band][(w.Y+y)*f.size.Width+w.X+x])
		}
	}
	return buf, nil
}

func (f *fakeDataset) Write(band int, w raster.Rect, b raster.Buffer) error {
	if band < 0 || band >= len(f.data) {
		return fmt.Errorf("no band %d", band)
	}
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			v := clampTo(f.format.DataType, bufferSample(b, y*w.Width+x))
			f.data[band][(w.Y+y)*f.size.Width+w.X+x] = v
		}
	}
	return nil
}

func (f *fakeDataset) ReadMask(w raster.Rect) ([]byte, error) {
	out := make([]byte, w.Size().Area())
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			out[y*w.Width+x] = f.maskAt(w.X+x, w.Y+y)
		}
	}
	return out, nil
}

func (f *fakeDataset) WriteMask(w raster.Rect, data []byte) error {
	if f.valid == nil {
		f.valid = make([]byte, f.size.Area())
		f.flags = raster.MaskFlagPerDataset
	}
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			f.valid[(w.Y+y)*f.size.Width+w.X+x] = data[y*w.Width+x]
		}
	}
	return nil
}

func (f *fakeDataset) Mask() ([]byte, bool, error) {
	if f.flags&raster.MaskFlagAllValid != 0 {
		return nil, false, nil
	}
	mask, err := f.ReadMask(raster.WholeRect(f.size))
	if err != nil {
		return nil, false, err
	}
	return mask, true, nil
}

// WarpInto resamples nearest neighbor by pixel center, modeling what the
// codec's warper does to its target: every band is initialized to the
// target's nodata value, then band samples are written for source pixels
// that are inside and valid. The target's mask band is never written.
func (f *fakeDataset) WarpInto(_ context.Context, dst raster.Dataset, _ raster.Resampling) error {
	t, ok := dst.(*fakeDataset)
	if !ok {
		return fmt.Errorf("cannot warp into %T", dst)
	}
	spw := (f.extents.Max[0] - f.extents.Min[0]) / float64(f.size.Width)
	sph := (f.extents.Max[1] - f.extents.Min[1]) / float64(f.size.Height)
	tpw := (t.extents.Max[0] - t.extents.Min[0]) / float64(t.size.Width)
	tph := (t.extents.Max[1] - t.extents.Min[1]) / float64(t.size.Height)

	init := 0.0
	if t.nodata != nil {
		init = *t.nodata
	}
	for b := range t.data {
		t.fill(b, init)
	}

	bands := len(t.data)
	if len(f.data) < bands {
		bands = len(f.data)
	}

	for y := 0; y < t.size.Height; y++ {
		gy := t.extents.Max[1] - (float64(y)+0.5)*tph
		sy := int((f.extents.Max[1] - gy) / sph)
		for x := 0; x < t.size.Width; x++ {
			gx := t.extents.Min[0] + (float64(x)+0.5)*tpw
			sx := int((gx - f.extents.Min[0]) / spw)

			inside := sx >= 0 && sx < f.size.Width && sy >= 0 && sy < f.size.Height
			if !inside || !f.validAt(sx, sy) {
				continue
			}
			ti := y*t.size.Width + x
			si := sy*f.size.Width + sx
			for b := 0; b < bands; b++ {
				t.data[b][ti] = f.data[b][si]
			}
		}
	}
	return nil
}

func (f *fakeDataset) Close() error { return nil }

func clampTo(dt raster.DataType, v float64) float64 {
	clamp := func(lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	switch dt {
	case raster.Byte:
		return clamp(0, 255)
	case raster.UInt16:
		return clamp(0, 65535)
	case raster.Int16:
		return clamp(-32768, 32767)
	case raster.UInt32:
		return clamp(0, 4294967295)
	case raster.Int32:
		return clamp(-2147483648, 2147483647)
	}
	return v
}

func setBufferSample(b raster.Buffer, i int, v float64) {
	v = clampTo(b.DataType, v)
	switch data := b.Data.(type) {
	case []uint8:
		data[i] = uint8(v)
	case []uint16:
		data[i] = uint16(v)
	case []int16:
		data[i] = int16(v)
	case []uint32:
		data[i] = uint32(v)
	case []int32:
		data[i] = int32(v)
	case []float32:
		data[i] = float32(v)
	case []float64:
		data[i] = v
	}
}

func bufferSample(b raster.Buffer, i int) float64 {
	switch data := b.Data.(type) {
	case []uint8:
		return float64(data[i])
	case []uint16:
		return float64(data[i])
	case []int16:
		return float64(data[i])
	case []uint32:
		return float64(data[i])
	case []int32:
		return float64(data[i])
	case []float32:
		return float64(data[i])
	case []float64:
		return data[i]
	}
	return 0
}
