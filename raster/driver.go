package raster

import (
	"context"

	vec2d "github.com/flywave/go3d/float64/vec2"
)

// CreateSpec describes a dataset to be created.
type CreateSpec struct {
	SRS     string
	Extents vec2d.Rect
	Size    Size
	Format  Format
	Nodata  *float64
	Options Options
	// Mask requests a dataset-level mask band on creation. Warps do not
	// fill it; validity is stored explicitly through WriteMask.
	Mask bool
}

// Driver is the raster codec the engine runs on. Implementations are not
// assumed to be reentrant for dataset creation; callers serialize those.
type Driver interface {
	Open(ctx context.Context, path string) (Dataset, error)
	// Create makes a new dataset file at path.
	Create(ctx context.Context, path string, spec CreateSpec) (Dataset, error)
	// CreateScratch makes a new in-memory dataset.
	CreateScratch(ctx context.Context, spec CreateSpec) (Dataset, error)
	// Copy writes src to path as a new file using the codec's native
	// whole-dataset copy with the given creation options.
	Copy(ctx context.Context, src Dataset, path string, opts Options) error
}

// Dataset is one open raster. Band indices are zero based everywhere.
type Dataset interface {
	Path() string
	Info() (Info, error)
	// Band returns the structural properties of one band.
	Band(i int) Band
	// Files lists the files the dataset is made of, main file included.
	Files() []string
	// Blocks returns the dataset's natural block windows.
	Blocks() []Rect
	// Read fetches a window of one band in its native type.
	Read(band int, w Rect) (Buffer, error)
	Write(band int, w Rect, b Buffer) error
	// ReadMask fetches a window of the validity mask (255 valid, 0 not).
	ReadMask(w Rect) ([]byte, error)
	// WriteMask stores a window of the validity mask, creating the mask
	// band if the dataset has none yet.
	WriteMask(w Rect, data []byte) error
	// Mask fetches the whole optimized validity mask. ok is false when the
	// dataset carries no mask at all (everything valid).
	Mask() (data []byte, ok bool, err error)
	// WarpInto reprojects/resamples this dataset into dst at full
	// fidelity, without shortcuts through existing overviews.
	WarpInto(ctx context.Context, dst Dataset, resampling Resampling) error
	Close() error
}
