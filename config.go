// Package vrtwo generates multiresolution raster pyramids: a chain of
// virtual mosaic descriptors over materialized tile files, each level half
// the linear resolution of the previous one.
package vrtwo

import (
	"fmt"
	"os"
	"runtime"

	"sigs.k8s.io/yaml"

	"github.com/cartolinadev/cartolina-tileserver/raster"
)

// PathMode tells how the source dataset is referenced from the output.
type PathMode string

const (
	// PathSymlink links the source with a relative target.
	PathSymlink PathMode = "symlink"
	// PathAbsoluteSymlink links the source with an absolute target.
	PathAbsoluteSymlink PathMode = "absoluteSymlink"
	// PathCopy copies the source into the output. Not implemented.
	PathCopy PathMode = "copy"
)

func ParsePathMode(s string) (PathMode, error) {
	switch PathMode(s) {
	case PathSymlink, PathAbsoluteSymlink, PathCopy:
		return PathMode(s), nil
	}
	return "", fmt.Errorf("unknown path mode %q", s)
}

// Config drives one pyramid generation job.
type Config struct {
	// TileSize is the pixel size of materialized overview tiles.
	TileSize raster.Size `json:"tileSize"`
	// MinOvrSize stops overview generation once a level dimension
	// reaches it.
	MinOvrSize raster.Size `json:"minOverviewSize"`
	// Resampling is the warp algorithm used to derive overview tiles.
	Resampling raster.Resampling `json:"resampling"`
	// CreateOptions are handed to the codec when materializing tiles.
	CreateOptions raster.Options `json:"createOptions,omitempty"`
	// Nodata overrides the source nodata value in the base descriptor.
	Nodata *float64 `json:"nodata,omitempty"`
	// Background marks tiles holding only this color as empty and
	// injects a matching solid dataset under every overview level.
	Background []float64 `json:"background,omitempty"`
	// WrapX enables x-axis wraparound padding; the value is the pixel
	// overlap between the dataset's vertical edges.
	WrapX *int `json:"wrapx,omitempty"`
	// PathMode selects how the source is referenced.
	PathMode PathMode `json:"pathMode"`
	// Overwrite allows writing into an existing output directory.
	Overwrite bool `json:"overwrite,omitempty"`
	// Jobs bounds tile generation parallelism. 0 means one per CPU.
	Jobs int `json:"jobs,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		TileSize:   raster.Size{Width: 1024, Height: 1024},
		MinOvrSize: raster.Size{Width: 256, Height: 256},
		Resampling: raster.Lanczos,
		PathMode:   PathSymlink,
	}
}

func (c Config) Validate() error {
	if c.TileSize.Empty() {
		return configErrorf("tile size %s must be positive", c.TileSize)
	}
	if c.MinOvrSize.Empty() {
		return configErrorf("minimum overview size %s must be positive", c.MinOvrSize)
	}
	if _, err := raster.ParseResampling(string(c.Resampling)); err != nil {
		return configErrorf("%v", err)
	}
	if _, err := ParsePathMode(string(c.PathMode)); err != nil {
		return configErrorf("%v", err)
	}
	if c.WrapX != nil && *c.WrapX < 0 {
		return configErrorf("wrapx overlap must not be negative")
	}
	if c.Jobs < 0 {
		return configErrorf("jobs must not be negative")
	}
	return nil
}

func (c Config) jobs() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

// LoadConfig reads a YAML job file over the defaults.
func LoadConfig(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
