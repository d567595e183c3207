package raster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	vec2d "github.com/flywave/go3d/float64/vec2"
)

// SolidDriverName is the driver name reported by solid datasets.
const SolidDriverName = "Solid"

var solidBlockSize = Size{256, 256}

// SolidBand is one uniform-value band of a solid dataset.
type SolidBand struct {
	Value       float64  `json:"value"`
	ColorInterp string   `json:"colorInterpretation"`
	DataType    DataType `json:"dataType"`
}

// SolidConfig is the stored form of a solid dataset: a synthetic raster
// where every band holds a single value. The renderer side ships a codec
// driver for the same sidecar.
type SolidConfig struct {
	SRS          string      `json:"srs"`
	Size         Size        `json:"size"`
	GeoTransform [6]float64  `json:"geoTransform"`
	Bands        []SolidBand `json:"bands"`
}

// CreateSolid writes a solid dataset sidecar at path and returns it opened.
func CreateSolid(path string, cfg SolidConfig) (Dataset, error) {
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("solid dataset needs at least one band")
	}
	if cfg.Size.Empty() {
		return nil, fmt.Errorf("solid dataset needs a positive size")
	}
	body, err := json.MarshalIndent(&cfg, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("serialize solid dataset: %w", err)
	}
	if err := os.WriteFile(path, append(body, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write solid dataset: %w", err)
	}
	return &solidDataset{path: path, cfg: cfg}, nil
}

// OpenSolid opens a solid dataset sidecar.
func OpenSolid(path string) (Dataset, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read solid dataset: %w", err)
	}
	var cfg SolidConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("parse solid dataset %s: %w", path, err)
	}
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("solid dataset %s has no bands", path)
	}
	return &solidDataset{path: path, cfg: cfg}, nil
}

type solidDataset struct {
	path string
	cfg  SolidConfig
}

func (s *solidDataset) Path() string { return s.path }

func (s *solidDataset) Info() (Info, error) {
	f := Format{DataType: s.cfg.Bands[0].DataType}
	for _, b := range s.cfg.Bands {
		f.ColorInterp = append(f.ColorInterp, b.ColorInterp)
	}
	return Info{
		Driver:    SolidDriverName,
		Size:      s.cfg.Size,
		Extents:   s.extents(),
		SRS:       s.cfg.SRS,
		Format:    f,
		MaskFlags: MaskFlagAllValid,
	}, nil
}

func (s *solidDataset) extents() vec2d.Rect {
	return GeoTransformExtents(s.cfg.GeoTransform, s.cfg.Size)
}

func (s *solidDataset) Band(i int) Band {
	b := s.cfg.Bands[i]
	return Band{
		Size:        s.cfg.Size,
		BlockSize:   solidBlockSize,
		DataType:    b.DataType,
		ColorInterp: b.ColorInterp,
	}
}

func (s *solidDataset) Files() []string { return []string{s.path} }

func (s *solidDataset) Blocks() []Rect {
	return BlockWindows(s.cfg.Size, solidBlockSize)
}

func (s *solidDataset) Read(band int, w Rect) (Buffer, error) {
	if band < 0 || band >= len(s.cfg.Bands) {
		return Buffer{}, fmt.Errorf("solid dataset has no band %d", band)
	}
	b := s.cfg.Bands[band]
	buf := NewBuffer(b.DataType, w.Size())
	buf.Fill(b.Value)
	return buf, nil
}

func (s *solidDataset) Write(int, Rect, Buffer) error {
	return fmt.Errorf("solid dataset %s is read only", s.path)
}

func (s *solidDataset) ReadMask(w Rect) ([]byte, error) {
	mask := make([]byte, w.Size().Area())
	for i := range mask {
		mask[i] = 255
	}
	return mask, nil
}

func (s *solidDataset) WriteMask(Rect, []byte) error {
	return fmt.Errorf("solid dataset %s is read only", s.path)
}

func (s *solidDataset) Mask() ([]byte, bool, error) {
	// everything is valid, there is no mask to fetch
	return nil, false, nil
}

func (s *solidDataset) WarpInto(context.Context, Dataset, Resampling) error {
	return fmt.Errorf("solid dataset %s cannot warp", s.path)
}

func (s *solidDataset) Close() error { return nil }
