package vrtwo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.airbusds-geo.com/log"

	"github.com/cartolinadev/cartolina-tileserver/raster"
	"github.com/cartolinadev/cartolina-tileserver/vrt"
)

// symlinkSource resolves the link target referencing path from the output
// directory in the configured path mode.
func symlinkSource(cfg Config, path, output string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if cfg.PathMode == PathAbsoluteSymlink {
		return abs, nil
	}
	absOutput, err := filepath.Abs(output)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", output, err)
	}
	rel, err := filepath.Rel(absOutput, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s against %s: %w", abs, absOutput, err)
	}
	return rel, nil
}

// buildBase links the source dataset (and its sidecar files) into the
// output directory, writes the base descriptor over the link and returns
// the pyramid plan.
func buildBase(ctx context.Context, drv raster.Driver, cfg Config, input, output string) (Setup, error) {
	if cfg.PathMode == PathCopy {
		return Setup{}, configErrorf("support for dataset copy not implemented yet")
	}

	outputDataset := filepath.Join(output, "dataset")

	inputDataset := "./original"
	var files []string
	{
		src, err := drv.Open(ctx, input)
		if err != nil {
			return Setup{}, fmt.Errorf("open %s: %w", input, err)
		}
		info, err := src.Info()
		if err != nil {
			src.Close()
			return Setup{}, fmt.Errorf("describe %s: %w", input, err)
		}
		files = src.Files()
		src.Close()

		// use original file name for datasets that insist on a special name
		if info.Driver == "SRTMHGT" {
			inputDataset = filepath.Base(input)
		}
	}

	inputDatasetSymlink := filepath.Join(output, inputDataset)

	log.Logger(ctx).Sugar().Infof("creating dataset base in %s from %s", outputDataset, inputDatasetSymlink)

	// make a symlink, remove newpath beforehand
	link := func(oldpath, newpath string) error {
		log.Logger(ctx).Sugar().Debugf("linking %s <- %s", oldpath, newpath)
		os.Remove(newpath)
		if err := os.Symlink(oldpath, newpath); err != nil {
			return fmt.Errorf("link %s: %w", newpath, err)
		}
		return nil
	}

	target, err := symlinkSource(cfg, input, output)
	if err != nil {
		return Setup{}, err
	}
	if err := link(target, inputDatasetSymlink); err != nil {
		return Setup{}, err
	}

	// sidecar files keep the main link's name with their suffix appended
	{
		dir := filepath.Dir(input)
		basename := filepath.Base(input)
		prefix := basename + "."

		for _, file := range files {
			name := filepath.Base(file)
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			ext := name[len(basename):]
			target, err := symlinkSource(cfg, filepath.Join(dir, name), output)
			if err != nil {
				return Setup{}, err
			}
			if err := link(target, inputDatasetSymlink+ext); err != nil {
				return Setup{}, err
			}
		}
	}

	in, err := drv.Open(ctx, inputDatasetSymlink)
	if err != nil {
		return Setup{}, fmt.Errorf("open %s: %w", inputDatasetSymlink, err)
	}
	defer in.Close()

	info, err := in.Info()
	if err != nil {
		return Setup{}, fmt.Errorf("describe %s: %w", inputDatasetSymlink, err)
	}

	setup := makeSetup(info, cfg)
	setup.Dataset = outputDataset

	// remove anything lying in the way of the descriptor
	os.Remove(outputDataset)

	nodata := info.Nodata
	if cfg.Nodata != nil {
		nodata = cfg.Nodata
	}

	out := vrt.NewWriter(outputDataset, info.SRS, setup.Extents, setup.Size,
		info.Format, nodata, setup.Mask)

	inSize := info.Size
	for i := 0; i < info.Format.BandCount(); i++ {
		if cfg.WrapX == nil {
			if err := out.AddSource(i, inputDataset, in, i, nil, nil); err != nil {
				return Setup{}, err
			}
			continue
		}

		// wrapping in x: the source lands in the center and a strip from
		// each edge, shifted by the configured overlap, fills the padding
		// on the opposite side
		shift := *cfg.WrapX

		centerDst := raster.Rect{X: setup.XPlus, Width: inSize.Width, Height: inSize.Height}
		if err := out.AddSource(i, inputDataset, in, i, nil, &centerDst); err != nil {
			return Setup{}, err
		}

		rightSrc := raster.Rect{X: inSize.Width - setup.XPlus - shift, Width: setup.XPlus, Height: inSize.Height}
		leftDst := raster.Rect{Width: setup.XPlus, Height: inSize.Height}
		if err := out.AddSource(i, inputDataset, in, i, &rightSrc, &leftDst); err != nil {
			return Setup{}, err
		}

		leftSrc := raster.Rect{X: shift, Width: setup.XPlus, Height: inSize.Height}
		rightDst := raster.Rect{X: inSize.Width + setup.XPlus, Width: setup.XPlus, Height: inSize.Height}
		if err := out.AddSource(i, inputDataset, in, i, &leftSrc, &rightDst); err != nil {
			return Setup{}, err
		}
	}

	if err := out.Flush(); err != nil {
		return Setup{}, err
	}

	return setup, nil
}
