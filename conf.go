package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var conf *Conf

// Conf mirrors conf.toml. Every key can be overridden by a TILER_ prefixed
// environment variable (tm.url -> TILER_TM_URL) or the bound flag.
type Conf struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Output struct {
		Directory      string `mapstructure:"directory"`
		File           string `mapstructure:"file"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
		Progress       bool   `mapstructure:"progress"`
		Compression    string `mapstructure:"compression"`
		BigTIFF        bool   `mapstructure:"bigtiff"`
		JPEGQuality    int    `mapstructure:"jpegQuality"`
		MetricsFile    string `mapstructure:"metricsFile"`
	} `mapstructure:"output"`
	Task struct {
		Workers     int           `mapstructure:"workers"`
		Retries     int           `mapstructure:"retries"`
		Timedelay   int           `mapstructure:"timedelay"` // ms after each fetched tile
		Jitter      int           `mapstructure:"jitter"`    // ms, negative with no timedelay disables pacing
		Rate        float64       `mapstructure:"rate"`
		Timeout     time.Duration `mapstructure:"timeout"`
		HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
		MaxTiles    int64         `mapstructure:"maxTiles"`
		MaxMissing  float64       `mapstructure:"maxMissing"`
		MaxCanvasMB int64         `mapstructure:"maxCanvasMB"`
	} `mapstructure:"task"`
	Cache struct {
		Directory string `mapstructure:"directory"`
		Disabled  bool   `mapstructure:"disabled"`
		Clear     bool   `mapstructure:"clear"`
	} `mapstructure:"cache"`
	Tm struct {
		Name        string `mapstructure:"name"`
		URL         string `mapstructure:"url"`
		Min         int    `mapstructure:"min"`
		Max         int    `mapstructure:"max"`
		UserAgent   string `mapstructure:"userAgent"`
		S3Region    string `mapstructure:"s3Region"`
		S3Endpoint  string `mapstructure:"s3Endpoint"`
		S3AccessKey string `mapstructure:"s3AccessKey"`
		S3SecretKey string `mapstructure:"s3SecretKey"`
	} `mapstructure:"tm"`
	Aoi struct {
		BBox       string  `mapstructure:"bbox"`
		Extent     string  `mapstructure:"extent"`
		Geojson    string  `mapstructure:"geojson"`
		Zoom       int     `mapstructure:"zoom"` // -1 selects by resolution
		Resolution float64 `mapstructure:"resolution"`
	} `mapstructure:"aoi"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.version", "v 0.2.0")
	v.SetDefault("app.title", "Satellite Tiler")
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.file", "")
	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("output.progress", true)
	v.SetDefault("output.compression", "lzw")
	v.SetDefault("output.bigtiff", false)
	v.SetDefault("output.jpegQuality", 85)
	v.SetDefault("output.metricsFile", "")
	v.SetDefault("task.workers", 8)
	v.SetDefault("task.retries", 3)
	v.SetDefault("task.timedelay", 0)
	v.SetDefault("task.jitter", 50)
	v.SetDefault("task.rate", 0)
	v.SetDefault("task.timeout", 0)
	v.SetDefault("task.httpTimeout", 30*time.Second)
	v.SetDefault("task.maxTiles", 10000)
	v.SetDefault("task.maxMissing", 0.2)
	v.SetDefault("task.maxCanvasMB", 1024)
	v.SetDefault("cache.directory", "cache")
	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.clear", false)
	v.SetDefault("tm.name", "esri")
	v.SetDefault("tm.url", "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}")
	v.SetDefault("tm.min", 0)
	v.SetDefault("tm.max", 22)
	v.SetDefault("tm.userAgent", "")
	v.SetDefault("tm.s3Region", "")
	v.SetDefault("tm.s3Endpoint", "")
	v.SetDefault("tm.s3AccessKey", "")
	v.SetDefault("tm.s3SecretKey", "")
	v.SetDefault("aoi.bbox", "")
	v.SetDefault("aoi.extent", "")
	v.SetDefault("aoi.geojson", "")
	v.SetDefault("aoi.zoom", -1)
	v.SetDefault("aoi.resolution", 0)
}

// InitConf 初始化配置. A missing config file is not an error; defaults,
// environment and flags still apply.
func InitConf(cfgFile string) error {
	v := viper.GetViper()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix("TILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file(%s) error, details: %w", cfgFile, err)
			}
		} else if cfgFile != defaultConfigPath {
			return fmt.Errorf("config file(%s) not exist", cfgFile)
		}
	}

	c := new(Conf)
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("配置文件解析失败: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	conf = c
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Conf) Validate() error {
	var errs []error
	if c.Task.Workers < 0 {
		errs = append(errs, fmt.Errorf("task.workers must not be negative, got %d", c.Task.Workers))
	}
	if c.Task.MaxMissing < 0 || c.Task.MaxMissing > 1 {
		errs = append(errs, fmt.Errorf("task.maxMissing must be within [0, 1], got %v", c.Task.MaxMissing))
	}
	if c.Task.Timedelay < 0 {
		errs = append(errs, fmt.Errorf("task.timedelay must not be negative, got %d", c.Task.Timedelay))
	}
	if c.Task.Retries < 0 {
		errs = append(errs, fmt.Errorf("task.retries must not be negative, got %d", c.Task.Retries))
	}
	if c.Task.Rate < 0 {
		errs = append(errs, fmt.Errorf("task.rate must not be negative, got %v", c.Task.Rate))
	}
	if c.Tm.Min < 0 || c.Tm.Max > 30 || c.Tm.Min > c.Tm.Max {
		errs = append(errs, fmt.Errorf("tm zoom bounds [%d, %d] are invalid", c.Tm.Min, c.Tm.Max))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("output.jpegQuality must be within [1, 100], got %d", c.Output.JPEGQuality))
	}
	return errors.Join(errs...)
}
