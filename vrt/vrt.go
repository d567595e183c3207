// Package vrt reads and writes virtual mosaic descriptors: XML documents
// that stitch raster sources, per-dataset masks and overview links into one
// dataset any GDAL style consumer can open.
package vrt

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// Flag is a boolean serialized as "1"/"0".
type Flag bool

func (f Flag) MarshalText() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalText(text []byte) error {
	switch string(text) {
	case "1", "true":
		*f = true
	case "0", "false":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %q", text)
	}
	return nil
}

// Dataset is a descriptor document.
type Dataset struct {
	XMLName      xml.Name     `xml:"VRTDataset"`
	RasterXSize  int          `xml:"rasterXSize,attr"`
	RasterYSize  int          `xml:"rasterYSize,attr"`
	SRS          string       `xml:"SRS,omitempty"`
	GeoTransform string       `xml:"GeoTransform,omitempty"`
	Bands        []RasterBand `xml:"VRTRasterBand"`
	Mask         *MaskBand    `xml:"MaskBand"`
}

// RasterBand is one band of a descriptor.
type RasterBand struct {
	DataType    string         `xml:"dataType,attr,omitempty"`
	Band        int            `xml:"band,attr,omitempty"`
	NoData      *float64       `xml:"NoDataValue"`
	ColorInterp string         `xml:"ColorInterp,omitempty"`
	Sources     []SimpleSource `xml:"SimpleSource"`
	Overviews   []Overview     `xml:"Overview"`
}

// MaskBand holds the dataset-level validity band.
type MaskBand struct {
	Band RasterBand `xml:"VRTRasterBand"`
}

// SimpleSource maps a window of a source file into the descriptor.
type SimpleSource struct {
	Filename   SourceFilename    `xml:"SourceFilename"`
	SourceBand string            `xml:"SourceBand"`
	SrcRect    *RectElem         `xml:"SrcRect"`
	DstRect    *RectElem         `xml:"DstRect"`
	Properties *SourceProperties `xml:"SourceProperties"`
}

// Overview links a band to the same band of a coarser descriptor.
type Overview struct {
	Filename   SourceFilename `xml:"SourceFilename"`
	SourceBand string         `xml:"SourceBand"`
}

// SourceFilename is a file reference. Shared is left out for overview links.
type SourceFilename struct {
	RelativeToVRT Flag   `xml:"relativeToVRT,attr"`
	Shared        *Flag  `xml:"shared,attr,omitempty"`
	Path          string `xml:",chardata"`
}

// RectElem is a pixel window element.
type RectElem struct {
	XOff  int `xml:"xOff,attr"`
	YOff  int `xml:"yOff,attr"`
	XSize int `xml:"xSize,attr"`
	YSize int `xml:"ySize,attr"`
}

func newRectElem(r raster.Rect) *RectElem {
	return &RectElem{XOff: r.X, YOff: r.Y, XSize: r.Width, YSize: r.Height}
}

// SourceProperties lets consumers size buffers without opening the source.
type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
	BlockXSize  int    `xml:"BlockXSize,attr"`
	BlockYSize  int    `xml:"BlockYSize,attr"`
}

// Marshal serializes the document.
func (d *Dataset) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

// Parse loads a descriptor document from a file.
func Parse(path string) (*Dataset, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Dataset
	if err := xml.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	return &d, nil
}

// FormatGeoTransform renders an affine transform the way descriptor
// consumers expect it.
func FormatGeoTransform(gt [6]float64) string {
	parts := make([]string, 6)
	for i, v := range gt {
		parts[i] = strconv.FormatFloat(v, 'e', 16, 64)
	}
	return strings.Join(parts, ", ")
}

// BandDescriptor captures everything needed to reference one band of a
// source dataset: the file, the band, the source and destination windows
// and the band properties of the dataset it was built from.
type BandDescriptor struct {
	Filename string
	SrcBand  int
	Src      raster.Rect
	Dst      raster.Rect
	Props    raster.Band
}

// NewBandDescriptor builds a descriptor for one band of ds. A nil source
// window means the whole raster; a nil destination window mirrors the
// source window. srcBand is zero based.
func NewBandDescriptor(filename string, ds raster.Dataset, srcBand int, srcRect, dstRect *raster.Rect) BandDescriptor {
	bd := BandDescriptor{
		Filename: filename,
		SrcBand:  srcBand,
		Props:    ds.Band(srcBand),
	}
	if srcRect != nil {
		bd.Src = *srcRect
	} else {
		bd.Src = raster.WholeRect(bd.Props.Size)
	}
	if dstRect != nil {
		bd.Dst = *dstRect
	} else {
		bd.Dst = bd.Src
	}
	return bd
}

// Source renders the descriptor as a document node. With mask set the band
// reference points at the validity mask of the source band.
func (bd BandDescriptor) Source(mask bool) SimpleSource {
	band := strconv.Itoa(bd.SrcBand + 1)
	if mask {
		band = "mask," + band
	}
	shared := Flag(true)
	return SimpleSource{
		Filename: SourceFilename{
			RelativeToVRT: Flag(!filepath.IsAbs(bd.Filename)),
			Shared:        &shared,
			Path:          bd.Filename,
		},
		SourceBand: band,
		SrcRect:    newRectElem(bd.Src),
		DstRect:    newRectElem(bd.Dst),
		Properties: &SourceProperties{
			RasterXSize: bd.Props.Size.Width,
			RasterYSize: bd.Props.Size.Height,
			DataType:    bd.Props.DataType.String(),
			BlockXSize:  bd.Props.BlockSize.Width,
			BlockYSize:  bd.Props.BlockSize.Height,
		},
	}
}
