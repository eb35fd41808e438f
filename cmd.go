package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jsy96/satellite-downloader/internal/cache"
)

const defaultConfigPath = "./conf/conf.toml"

var (
	configPath string
	logLevel   string
)

// flagKeys binds persistent flags to configuration keys.
var flagKeys = map[string]string{
	"url":          "tm.url",
	"source":       "tm.name",
	"min-zoom":     "tm.min",
	"max-zoom":     "tm.max",
	"user-agent":   "tm.userAgent",
	"s3-region":    "tm.s3Region",
	"s3-endpoint":  "tm.s3Endpoint",
	"bbox":         "aoi.bbox",
	"extent":       "aoi.extent",
	"geojson":      "aoi.geojson",
	"zoom":         "aoi.zoom",
	"resolution":   "aoi.resolution",
	"output":       "output.file",
	"output-dir":   "output.directory",
	"compression":  "output.compression",
	"bigtiff":      "output.bigtiff",
	"jpeg-quality": "output.jpegQuality",
	"metrics-file": "output.metricsFile",
	"workers":      "task.workers",
	"retries":      "task.retries",
	"delay":        "task.timedelay",
	"jitter":       "task.jitter",
	"rate":         "task.rate",
	"timeout":      "task.timeout",
	"http-timeout": "task.httpTimeout",
	"max-tiles":    "task.maxTiles",
	"max-missing":  "task.maxMissing",
	"max-canvas":   "task.maxCanvasMB",
	"cache":        "cache.directory",
	"no-cache":     "cache.disabled",
	"clear-cache":  "cache.clear",
}

// Root returns the tiler command tree.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tiler",
		Short:         "Download map tiles for an area and write a georeferenced GeoTIFF mosaic",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := InitConf(configPath); err != nil {
				return err
			}
			return InitLog()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), cmd.Flags())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", defaultConfigPath, "set config `file`")
	pf.StringVarP(&logLevel, "log-level", "l", "info", "set log level")

	pf.String("url", "", "tile url template with {z} {x} {y} or {-y} (http, https, file, s3)")
	pf.String("source", "", "tile source name, used as cache namespace")
	pf.Int("min-zoom", 0, "lowest zoom the source serves")
	pf.Int("max-zoom", 22, "highest zoom the source serves")
	pf.String("user-agent", "", "User-Agent header for http sources")
	pf.String("s3-region", "", "region of an s3 source")
	pf.String("s3-endpoint", "", "endpoint of an S3-compatible source")

	pf.String("bbox", "", "area as min_lon,min_lat,max_lon,max_lat")
	pf.String("extent", "", "area as E110-E110.1,N30-N30.1")
	pf.String("geojson", "", "area as the bounds of a GeoJSON file")
	pf.IntP("zoom", "z", -1, "zoom level; overrides --resolution")
	pf.Float64P("resolution", "r", 0, "target resolution in degrees per pixel")

	pf.StringP("output", "o", "", "output GeoTIFF path")
	pf.String("output-dir", "output", "directory for generated output names")
	pf.String("compression", "lzw", "none, lzw, deflate or jpeg")
	pf.Bool("bigtiff", false, "force BigTIFF output")
	pf.Int("jpeg-quality", 85, "quality for jpeg compression")
	pf.String("metrics-file", "", "write prometheus metrics to this file after the run")
	pf.Bool("no-progress", false, "hide the progress bar")

	pf.Int("workers", 8, "concurrent downloads (max 16)")
	pf.Int("retries", 3, "retries per tile after the first attempt; 0 disables retrying")
	pf.Int("delay", 0, "milliseconds to wait after each downloaded tile")
	pf.Int("jitter", 50, "random extra milliseconds added to --delay; negative disables pacing")
	pf.Float64("rate", 0, "request rate limit per second, 0 disables")
	pf.Duration("timeout", 0, "overall deadline, 0 disables")
	pf.Duration("http-timeout", 0, "per request timeout")
	pf.Int64("max-tiles", 10000, "refuse ranges with more tiles")
	pf.Float64("max-missing", 0.2, "largest tolerated fraction of failed tiles")
	pf.Int64("max-canvas", 1024, "MiB above which the mosaic is assembled in strips")

	pf.String("cache", "cache", "tile cache directory")
	pf.Bool("no-cache", false, "use a throwaway cache")
	pf.Bool("clear-cache", false, "drop cached tiles of the source before downloading")

	for name, key := range flagKeys {
		bindFlag(pf, name, key)
	}

	cmd.AddCommand(planCmd(), cacheCmd())
	return cmd
}

func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
		panic(err)
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the tile range, cache coverage and output size without downloading",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTask(cmd.Flags())
			if err != nil {
				return err
			}
			info, err := t.Plan()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the tile cache",
	}
	var all bool
	cmd.PersistentFlags().BoolVar(&all, "all", false, "apply to every source")

	source := func() string {
		if all {
			return ""
		}
		return conf.Tm.Name
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached tile counts per zoom",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open(conf.Cache.Directory, cache.WithLogger(log))
			if err != nil {
				return err
			}
			defer c.Close()
			st, err := c.Stats(source())
			if err != nil {
				return err
			}
			printStats(cmd, st)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete cached tiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open(conf.Cache.Directory, cache.WithLogger(log))
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Clear(source()); err != nil {
				return err
			}
			log.Infof("cache %s cleared (%s)", c.Root(), describeSource(source()))
			return nil
		},
	})
	return cmd
}

func printStats(cmd *cobra.Command, st cache.Stats) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "cache\t%s\n", st.Root)
	zooms := make([]maptile.Zoom, 0, len(st.Zooms))
	for z := range st.Zooms {
		zooms = append(zooms, z)
	}
	sort.Slice(zooms, func(i, j int) bool { return zooms[i] < zooms[j] })
	for _, z := range zooms {
		fmt.Fprintf(w, "zoom %d\t%d tiles\n", z, st.Zooms[z])
	}
	fmt.Fprintf(w, "total\t%d tiles, %.1f MiB\n", st.Tiles, float64(st.Bytes)/(1<<20))
}

func describeSource(s string) string {
	if s == "" {
		return "all sources"
	}
	return "source " + s
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
