package vrtwo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.airbusds-geo.com/log"

	"github.com/cartolinadev/cartolina-tileserver/raster"
	"github.com/cartolinadev/cartolina-tileserver/vrt"
)

// Generate builds the whole pyramid for input under output: the base
// descriptor over the linked source, then one overview level after another,
// each attached to the previous level's descriptor.
func Generate(ctx context.Context, drv raster.Driver, cfg Config, input, output string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := os.Stat(output); err == nil {
		if !cfg.Overwrite {
			return fmt.Errorf("destination directory %s already exists, use overwrite to replace its content", output)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", output, err)
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}

	setup, err := buildBase(ctx, drv, cfg, input, output)
	if err != nil {
		return err
	}

	total := 0
	for _, tiled := range setup.OvrTiled {
		total += tiled.Area()
	}

	log.Logger(ctx).Sugar().Infof("about to generate %d overviews with %d tiles of size %s",
		len(setup.OvrSizes), total, cfg.TileSize)

	g := &generator{
		drv:    drv,
		cfg:    cfg,
		output: output,
		mask:   setup.Mask,
		total:  total,
	}

	prev := setup.Dataset
	for i := range setup.OvrSizes {
		dir := strconv.Itoa(i)
		if err := os.MkdirAll(filepath.Join(output, dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Join(output, dir), err)
		}

		ovrName, err := g.createOverview(ctx, i, prev, dir, setup.OvrSizes[i], setup.OvrTiled[i])
		if err != nil {
			return err
		}

		// attach the fresh level to the previous descriptor
		next := filepath.Join(output, ovrName)
		link, err := filepath.Rel(filepath.Dir(prev), next)
		if err != nil {
			return fmt.Errorf("relativize %s against %s: %w", next, prev, err)
		}
		if err := vrt.AddOverview(ctx, prev, link); err != nil {
			return err
		}

		// the fresh level feeds the next round
		prev = next
	}

	return nil
}
