// Package raster holds the pixel-space model shared by the pyramid engine and
// its descriptor writers, plus the codec driver interfaces the engine runs on.
package raster

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	vec2d "github.com/flywave/go3d/float64/vec2"
)

// DataType identifies the sample type of a raster band.
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Byte:    "Byte",
	UInt16:  "UInt16",
	Int16:   "Int16",
	UInt32:  "UInt32",
	Int32:   "Int32",
	Float32: "Float32",
	Float64: "Float64",
}

func (dt DataType) String() string {
	if n, ok := dataTypeNames[dt]; ok {
		return n
	}
	return "Unknown"
}

// Size returns the sample size in bytes.
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// ParseDataType maps a type name to its DataType. Names follow the usual
// codec spelling (Byte, UInt16, ...).
func ParseDataType(s string) (DataType, error) {
	for dt, n := range dataTypeNames {
		if strings.EqualFold(n, s) {
			return dt, nil
		}
	}
	return Unknown, fmt.Errorf("unsupported data type <%s>", s)
}

func (dt DataType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *DataType) UnmarshalText(text []byte) error {
	t, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

// Size is a raster size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Area() int { return s.Width * s.Height }

func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ParseSize parses a "WIDTHxHEIGHT" string; a single number is taken as a
// square size.
func ParseSize(s string) (Size, error) {
	parts := strings.SplitN(s, "x", 2)
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if len(parts) == 1 {
		return Size{w, w}, nil
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size{w, h}, nil
}

// Rect is a pixel-space window given by its origin and size.
type Rect struct {
	X, Y          int
	Width, Height int
}

// WholeRect covers a raster of the given size.
func WholeRect(s Size) Rect {
	return Rect{Width: s.Width, Height: s.Height}
}

func (r Rect) Size() Size { return Size{r.Width, r.Height} }

// BlockWindows returns the natural block windows of a raster, row-major.
// Edge windows are clipped to the raster size.
func BlockWindows(size, block Size) []Rect {
	var out []Rect
	for y := 0; y < size.Height; y += block.Height {
		h := block.Height
		if y+h > size.Height {
			h = size.Height - y
		}
		for x := 0; x < size.Width; x += block.Width {
			w := block.Width
			if x+w > size.Width {
				w = size.Width - x
			}
			out = append(out, Rect{X: x, Y: y, Width: w, Height: h})
		}
	}
	return out
}

// Option is a single KEY=VALUE creation option.
type Option struct {
	Key   string
	Value string
}

// Options is an ordered creation option list. Order is preserved by all
// operations; some options are position sensitive for certain codecs.
type Options []Option

// Index returns the position of key or -1.
func (o Options) Index(key string) int {
	for i := range o {
		if o[i].Key == key {
			return i
		}
	}
	return -1
}

func (o Options) Get(key string) (string, bool) {
	if i := o.Index(key); i >= 0 {
		return o[i].Value, true
	}
	return "", false
}

func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	copy(out, o)
	return out
}

// Strings renders the options as KEY=VALUE strings.
func (o Options) Strings() []string {
	out := make([]string, 0, len(o))
	for _, op := range o {
		out = append(out, op.Key+"="+op.Value)
	}
	return out
}

// ParseOptions parses KEY=VALUE strings. A missing '=' leaves the value
// empty, which some options use as "pick a suitable value".
func ParseOptions(kvs []string) (Options, error) {
	var out Options
	for _, kv := range kvs {
		k, v, _ := cutOption(kv)
		if k == "" {
			return nil, fmt.Errorf("invalid creation option %q", kv)
		}
		out = append(out, Option{Key: k, Value: v})
	}
	return out, nil
}

func cutOption(kv string) (key, value string, found bool) {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i], kv[i+1:], true
	}
	return kv, "", false
}

func (o Options) MarshalJSON() ([]byte, error) {
	return jsonStrings(o.Strings())
}

func (o *Options) UnmarshalJSON(data []byte) error {
	kvs, err := jsonStringList(data)
	if err != nil {
		return err
	}
	parsed, err := ParseOptions(kvs)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

func jsonStrings(kvs []string) ([]byte, error) {
	return json.Marshal(kvs)
}

func jsonStringList(data []byte) ([]string, error) {
	var kvs []string
	if err := json.Unmarshal(data, &kvs); err != nil {
		return nil, err
	}
	return kvs, nil
}

// MaskMode tells how dataset validity is represented.
type MaskMode int

const (
	// MaskNone means all pixels are valid.
	MaskNone MaskMode = iota
	// MaskNodata derives validity from the nodata value.
	MaskNodata
	// MaskBand uses an explicit mask band.
	MaskBand
)

func (m MaskMode) String() string {
	switch m {
	case MaskNone:
		return "none"
	case MaskNodata:
		return "nodata"
	case MaskBand:
		return "band"
	}
	return "unknown"
}

// Codec mask flag bits, as reported by Dataset info.
const (
	MaskFlagAllValid   = 0x01
	MaskFlagPerDataset = 0x02
	MaskFlagAlpha      = 0x04
	MaskFlagNodata     = 0x08
)

// ClassifyMask picks the mask mode for a dataset from its mask flags. The
// all-valid flag wins, then nodata, anything else needs a real mask band.
func ClassifyMask(flags int) MaskMode {
	switch {
	case flags&MaskFlagAllValid != 0:
		return MaskNone
	case flags&MaskFlagNodata != 0:
		return MaskNodata
	default:
		return MaskBand
	}
}

// Format describes the band layout of a dataset: one common sample type and
// a color interpretation per band.
type Format struct {
	DataType    DataType
	ColorInterp []string
}

func (f Format) BandCount() int { return len(f.ColorInterp) }

// Band holds per-band structural properties.
type Band struct {
	Size        Size
	BlockSize   Size
	DataType    DataType
	ColorInterp string
}

// Info is the descriptor of an open dataset.
type Info struct {
	Driver    string
	Size      Size
	Extents   vec2d.Rect
	SRS       string
	Format    Format
	Nodata    *float64
	MaskFlags int
}

// PixelSize returns the geographic size of one pixel.
func (i Info) PixelSize() (float64, float64) {
	return (i.Extents.Max[0] - i.Extents.Min[0]) / float64(i.Size.Width),
		(i.Extents.Max[1] - i.Extents.Min[1]) / float64(i.Size.Height)
}

// NorthUpGeoTransform builds the affine transform of a north-up raster
// covering extents at the given size.
func NorthUpGeoTransform(ext vec2d.Rect, size Size) [6]float64 {
	pw := (ext.Max[0] - ext.Min[0]) / float64(size.Width)
	ph := (ext.Max[1] - ext.Min[1]) / float64(size.Height)
	return [6]float64{ext.Min[0], pw, 0, ext.Max[1], 0, -ph}
}

// GeoTransformExtents inverts NorthUpGeoTransform for north-up transforms.
func GeoTransformExtents(gt [6]float64, size Size) vec2d.Rect {
	return vec2d.Rect{
		Min: vec2d.T{gt[0], gt[3] + gt[5]*float64(size.Height)},
		Max: vec2d.T{gt[0] + gt[1]*float64(size.Width), gt[3]},
	}
}

// Resampling names a warp resampling algorithm.
type Resampling string

const (
	Nearest     Resampling = "nearest"
	Bilinear    Resampling = "bilinear"
	Cubic       Resampling = "cubic"
	CubicSpline Resampling = "cubicspline"
	Lanczos     Resampling = "lanczos"
	Average     Resampling = "average"
	Mode        Resampling = "mode"
	Minimum     Resampling = "min"
	Maximum     Resampling = "max"
	Median      Resampling = "med"
	Quartile1   Resampling = "q1"
	Quartile3   Resampling = "q3"
)

var resamplings = []Resampling{
	Nearest, Bilinear, Cubic, CubicSpline, Lanczos, Average, Mode,
	Minimum, Maximum, Median, Quartile1, Quartile3,
}

func ParseResampling(s string) (Resampling, error) {
	for _, r := range resamplings {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resampling %q", s)
}

// Buffer holds the samples of one band window in the band's native type.
// Data is a []uint8, []uint16, []int16, []uint32, []int32, []float32 or
// []float64 of Size.Area() samples in row-major order.
type Buffer struct {
	DataType DataType
	Size     Size
	Data     interface{}
}

// NewBuffer allocates a buffer for a window of the given type and size.
func NewBuffer(dt DataType, size Size) Buffer {
	n := size.Area()
	b := Buffer{DataType: dt, Size: size}
	switch dt {
	case Byte:
		b.Data = make([]uint8, n)
	case UInt16:
		b.Data = make([]uint16, n)
	case Int16:
		b.Data = make([]int16, n)
	case UInt32:
		b.Data = make([]uint32, n)
	case Int32:
		b.Data = make([]int32, n)
	case Float32:
		b.Data = make([]float32, n)
	case Float64:
		b.Data = make([]float64, n)
	}
	return b
}

// Fill sets every sample to value, converted to the buffer's type.
func (b Buffer) Fill(value float64) {
	switch data := b.Data.(type) {
	case []uint8:
		v := uint8(value)
		for i := range data {
			data[i] = v
		}
	case []uint16:
		v := uint16(value)
		for i := range data {
			data[i] = v
		}
	case []int16:
		v := int16(value)
		for i := range data {
			data[i] = v
		}
	case []uint32:
		v := uint32(value)
		for i := range data {
			data[i] = v
		}
	case []int32:
		v := int32(value)
		for i := range data {
			data[i] = v
		}
	case []float32:
		v := float32(value)
		for i := range data {
			data[i] = v
		}
	case []float64:
		for i := range data {
			data[i] = value
		}
	}
}
