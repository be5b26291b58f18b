// Package config loads the TOML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"tilefetch/internal/mercator"
)

// Config is the full configuration surface of a download job.
type Config struct {
	App struct {
		Name    string `mapstructure:"name"`
		Version string `mapstructure:"version"`
	} `mapstructure:"app"`
	Output struct {
		Directory      string `mapstructure:"directory"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
	} `mapstructure:"output"`
	Task struct {
		Workers        int           `mapstructure:"workers"`
		RateLimit      int           `mapstructure:"rateLimit"`
		RefillInterval time.Duration `mapstructure:"refillInterval"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"task"`
	Region struct {
		MinLat  float64 `mapstructure:"minLat"`
		MaxLat  float64 `mapstructure:"maxLat"`
		MinLon  float64 `mapstructure:"minLon"`
		MaxLon  float64 `mapstructure:"maxLon"`
		Geojson string  `mapstructure:"geojson"`
	} `mapstructure:"region"`
	Tm struct {
		Name      string `mapstructure:"name"`
		URL       string `mapstructure:"url"`
		Format    string `mapstructure:"format"`
		UserAgent string `mapstructure:"userAgent"`
		Min       int    `mapstructure:"min"`
		Max       int    `mapstructure:"max"`
	} `mapstructure:"tm"`
}

// Load reads the TOML config file, applies defaults, and validates.
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file (%s) not exist", cfgFile)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.AutomaticEnv() // read in environment variables that match
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file (%s): %w", cfgFile, err)
	}

	setDefaults(v)

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tilefetch")
	v.SetDefault("app.version", "v0.1.0")
	v.SetDefault("output.directory", "tiles")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("task.workers", 4)
	v.SetDefault("task.refillInterval", "1s")
	v.SetDefault("task.timeout", "1h")
	v.SetDefault("tm.name", "osm")
	v.SetDefault("tm.url", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("tm.format", "png")
	v.SetDefault("tm.userAgent", "tilefetch/0.1.0 (contact@example.com)")
	v.SetDefault("tm.min", 0)
	v.SetDefault("tm.max", 14)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Task.Workers <= 0 {
		return fmt.Errorf("config: task.workers must be positive")
	}
	if c.Task.RateLimit < 0 {
		return fmt.Errorf("config: task.rateLimit must not be negative")
	}
	if c.Tm.URL == "" {
		return fmt.Errorf("config: tm.url is required")
	}
	if c.Tm.Min < 0 || c.Tm.Max < c.Tm.Min {
		return fmt.Errorf("config: zoom range [%d, %d] is invalid", c.Tm.Min, c.Tm.Max)
	}
	if c.Region.Geojson == "" {
		bbox := c.bboxFromRegion()
		if err := bbox.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Permits returns the rate-limit permit count; it defaults to the worker
// count when unset, matching the worker pool's natural request ceiling.
func (c *Config) Permits() int {
	if c.Task.RateLimit > 0 {
		return c.Task.RateLimit
	}
	return c.Task.Workers
}

// BBox resolves the job's bounding box, from the geojson region file when
// one is configured, otherwise from the explicit region coordinates.
func (c *Config) BBox() (mercator.BBox, error) {
	if c.Region.Geojson != "" {
		bbox, err := mercator.FromGeoJSON(c.Region.Geojson)
		if err != nil {
			return mercator.BBox{}, err
		}
		if err := bbox.Validate(); err != nil {
			return mercator.BBox{}, err
		}
		return bbox, nil
	}

	bbox := c.bboxFromRegion()
	if err := bbox.Validate(); err != nil {
		return mercator.BBox{}, err
	}
	return bbox, nil
}

func (c *Config) bboxFromRegion() mercator.BBox {
	return mercator.BBox{
		MinLat: c.Region.MinLat,
		MaxLat: c.Region.MaxLat,
		MinLon: c.Region.MinLon,
		MaxLon: c.Region.MaxLon,
	}
}
