package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"

	vrtwo "github.com/cartolinadev/cartolina-tileserver"
	"github.com/cartolinadev/cartolina-tileserver/raster"
	"github.com/cartolinadev/cartolina-tileserver/raster/gdal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool
	var startTime time.Time

	cmd := &cobra.Command{
		Use:   "vrtwo",
		Short: "virtual mosaic pyramid generator",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			startTime = time.Now()
			if !verbose {
				os.Setenv("LOGLEVEL", "info")
				log.Structured()
			}
			gdal.Register()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
				cmd.Name(), time.Since(startTime).Seconds())
		},
	}
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	cmd.AddCommand(newGenerateCommand(), newCheckCommand())
	return cmd
}

func newGenerateCommand() *cobra.Command {
	var configFile string
	var tileSize, minSize string
	var resampling string
	var co string
	var nodata float64
	var background string
	var wrapx int
	var pathMode string
	var overwrite bool
	var jobs int

	cfg := vrtwo.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "generate <input> <output>",
		Short: "generate a pyramid of virtual mosaic overviews",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				loaded, err := vrtwo.LoadConfig(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// explicit flags win over job file values
			flags := cmd.Flags()
			if flags.Changed("tileSize") {
				s, err := raster.ParseSize(tileSize)
				if err != nil {
					return err
				}
				cfg.TileSize = s
			}
			if flags.Changed("minOverviewSize") {
				s, err := raster.ParseSize(minSize)
				if err != nil {
					return err
				}
				cfg.MinOvrSize = s
			}
			if flags.Changed("resampling") {
				r, err := raster.ParseResampling(resampling)
				if err != nil {
					return err
				}
				cfg.Resampling = r
			}
			if flags.Changed("co") {
				words, err := shellwords.Parse(co)
				if err != nil {
					return fmt.Errorf("invalid creation options: %w", err)
				}
				opts, err := raster.ParseOptions(words)
				if err != nil {
					return err
				}
				cfg.CreateOptions = opts
			}
			if flags.Changed("nodata") {
				cfg.Nodata = &nodata
			}
			if flags.Changed("background") {
				color, err := parseColor(background)
				if err != nil {
					return err
				}
				cfg.Background = color
			}
			if flags.Changed("wrapx") {
				cfg.WrapX = &wrapx
			}
			if flags.Changed("pathMode") {
				m, err := vrtwo.ParsePathMode(pathMode)
				if err != nil {
					return err
				}
				cfg.PathMode = m
			}
			if flags.Changed("overwrite") {
				cfg.Overwrite = overwrite
			}
			if flags.Changed("jobs") {
				cfg.Jobs = jobs
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return vrtwo.Generate(cmd.Context(), gdal.New(), cfg, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML job file, explicit flags win over its values")
	flags.StringVar(&tileSize, "tileSize", cfg.TileSize.String(), "pixel size of materialized tiles, WIDTHxHEIGHT or one number for square tiles")
	flags.StringVar(&minSize, "minOverviewSize", cfg.MinOvrSize.String(), "stop once an overview dimension reaches this size")
	flags.StringVar(&resampling, "resampling", string(cfg.Resampling), "warp resampling algorithm")
	flags.StringVar(&co, "co", "", "tile creation options, e.g. \"TILED=YES COMPRESS=DEFLATE PREDICTOR=\"")
	flags.Float64Var(&nodata, "nodata", 0, "override the source nodata value")
	flags.StringVar(&background, "background", "", "comma separated per-band background color, e.g. \"255,255,255\"")
	flags.IntVar(&wrapx, "wrapx", 0, "enable x-axis wraparound with this pixel overlap")
	flags.StringVar(&pathMode, "pathMode", string(cfg.PathMode), "source reference mode: symlink, absoluteSymlink or copy")
	flags.BoolVar(&overwrite, "overwrite", false, "overwrite an existing output directory")
	flags.IntVar(&jobs, "jobs", 0, "tile workers, 0 means one per CPU")

	return cmd
}

func newCheckCommand() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "check <pyramid>",
		Short: "validate the tiles of a generated pyramid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return vrtwo.Check(cmd.Context(), args[0], jobs)
		},
	}
	cmd.Flags().IntVar(&jobs, "jobs", 0, "parallel tile checks, 0 means one per CPU")

	return cmd
}

func parseColor(s string) ([]float64, error) {
	var color []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid background color %q: %w", s, err)
		}
		color = append(color, v)
	}
	return color, nil
}
