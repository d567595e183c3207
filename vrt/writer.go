package vrt

import (
	"fmt"
	"os"
	"sync"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/google/uuid"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// Writer accumulates sources into a descriptor document and serializes it
// on Flush. Source registration is safe for concurrent use; everything else
// is meant for the single goroutine driving a level build.
type Writer struct {
	path string

	mu     sync.Mutex
	doc    Dataset
	closed bool
}

// NewWriter starts a descriptor at path. With raster.MaskBand the document
// carries a dataset-level validity band and every band 0 source is mirrored
// into it.
func NewWriter(path, srs string, extents vec2d.Rect, size raster.Size,
	format raster.Format, nodata *float64, mask raster.MaskMode) *Writer {

	w := &Writer{path: path}
	w.doc = Dataset{
		RasterXSize:  size.Width,
		RasterYSize:  size.Height,
		SRS:          srs,
		GeoTransform: FormatGeoTransform(raster.NorthUpGeoTransform(extents, size)),
	}
	for i, ci := range format.ColorInterp {
		band := RasterBand{
			DataType:    format.DataType.String(),
			Band:        i + 1,
			ColorInterp: ci,
		}
		if nodata != nil {
			nd := *nodata
			band.NoData = &nd
		}
		w.doc.Bands = append(w.doc.Bands, band)
	}
	if mask == raster.MaskBand {
		w.doc.Mask = &MaskBand{Band: RasterBand{DataType: raster.Byte.String()}}
	}
	return w
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) BandCount() int { return len(w.doc.Bands) }

// AddSource registers one band of ds as a source of the descriptor band.
// band and srcBand are zero based. A nil source window means the whole
// raster, a nil destination window mirrors the source window.
func (w *Writer) AddSource(band int, filename string, ds raster.Dataset,
	srcBand int, srcRect, dstRect *raster.Rect) error {

	if band < 0 || band >= len(w.doc.Bands) {
		return fmt.Errorf("descriptor %s has no band %d", w.path, band)
	}
	bd := NewBandDescriptor(filename, ds, srcBand, srcRect, dstRect)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("descriptor %s is already flushed", w.path)
	}
	w.doc.Bands[band].Sources = append(w.doc.Bands[band].Sources, bd.Source(false))
	if band == 0 && w.doc.Mask != nil {
		w.doc.Mask.Band.Sources = append(w.doc.Mask.Band.Sources, bd.Source(true))
	}
	return nil
}

// Flush serializes the descriptor to its path. The writer cannot be used
// afterwards.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("descriptor %s is already flushed", w.path)
	}
	body, err := w.doc.Marshal()
	if err != nil {
		return fmt.Errorf("serialize descriptor %s: %w", w.path, err)
	}
	tmp := w.path + ".tmp-" + uuid.New().String()
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write descriptor %s: %w", w.path, err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write descriptor %s: %w", w.path, err)
	}
	w.closed = true
	return nil
}
