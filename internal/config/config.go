// Package config loads the dumpload run configuration from defaults, an
// optional config file, DUMPLOAD_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/bjaus/dumpload"
)

// EnvPrefix prefixes every environment variable, e.g. DUMPLOAD_BATCH_SIZE.
const EnvPrefix = "DUMPLOAD"

// Config is the full run configuration.
type Config struct {
	Selector string `mapstructure:"selector"`

	// Batching and delivery
	BatchSize           int           `mapstructure:"batch_size"`
	MaxBatchBytes       int           `mapstructure:"max_batch_bytes"`
	MaxRetries          int           `mapstructure:"max_retries"`
	BaseDelayMS         int           `mapstructure:"base_delay_ms"`
	PipelineDepth       int           `mapstructure:"pipeline_depth"`
	MaxBatchesPerSecond float64       `mapstructure:"max_batches_per_second"`
	DownloadAttempts    int           `mapstructure:"download_attempts"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	Codec               string        `mapstructure:"codec"`
	LogEvery            int           `mapstructure:"log_every"`

	// Completeness policy
	MinImages      int     `mapstructure:"min_images"`
	MinStarRating  float64 `mapstructure:"min_star_rating"`
	RequireGeo     bool    `mapstructure:"require_geo"`
	RequireAddress bool    `mapstructure:"require_address"`
	RequireCountry bool    `mapstructure:"require_country"`

	// Collaborators
	LocatorURL  string        `mapstructure:"locator_url"`
	SinkURL     string        `mapstructure:"sink_url"`
	TrackerURL  string        `mapstructure:"tracker_url"`
	APIToken    string        `mapstructure:"api_token"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	HTTPRetries int           `mapstructure:"http_retries"`

	// Process
	LogFormat   string `mapstructure:"log_format"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("selector", "full")

	v.SetDefault("batch_size", dumpload.DefaultBatchSize)
	v.SetDefault("max_batch_bytes", 0) // disabled
	v.SetDefault("max_retries", dumpload.DefaultMaxRetries)
	v.SetDefault("base_delay_ms", int(dumpload.DefaultBaseDelay/time.Millisecond))
	v.SetDefault("pipeline_depth", dumpload.DefaultPipelineDepth)
	v.SetDefault("max_batches_per_second", 0) // unlimited
	v.SetDefault("download_attempts", dumpload.DefaultDownloadAttempts)
	v.SetDefault("drain_timeout", dumpload.DefaultDrainTimeout)
	v.SetDefault("codec", string(dumpload.CodecAuto))
	v.SetDefault("log_every", dumpload.DefaultReportInterval)

	v.SetDefault("min_images", 0)
	v.SetDefault("min_star_rating", 0)
	v.SetDefault("require_geo", false)
	v.SetDefault("require_address", false)
	v.SetDefault("require_country", false)

	v.SetDefault("locator_url", "")
	v.SetDefault("sink_url", "")
	v.SetDefault("tracker_url", "") // tracking disabled
	v.SetDefault("api_token", "")
	v.SetDefault("http_timeout", 60*time.Second)
	v.SetDefault("http_retries", 3)

	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "") // metrics server disabled
}

// New returns a viper instance with defaults and environment binding. When
// configFile is non-empty it is read as well; its format follows the file
// extension.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Selector) == "" {
		return errors.New("selector cannot be empty")
	}
	if c.LocatorURL == "" {
		return errors.WithHint(errors.New("locator_url is required"), "set --locator-url or DUMPLOAD_LOCATOR_URL")
	}
	if c.SinkURL == "" {
		return errors.WithHint(errors.New("sink_url is required"), "set --sink-url or DUMPLOAD_SINK_URL")
	}

	// Counts: must be positive
	if c.BatchSize < 1 {
		return errors.Newf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 1 {
		return errors.Newf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.PipelineDepth < 1 {
		return errors.Newf("pipeline_depth must be >= 1, got %d", c.PipelineDepth)
	}
	if c.DownloadAttempts < 1 {
		return errors.Newf("download_attempts must be >= 1, got %d", c.DownloadAttempts)
	}
	if c.LogEvery < 1 {
		return errors.Newf("log_every must be >= 1, got %d", c.LogEvery)
	}

	// Zero disables, negative is invalid
	if c.BaseDelayMS < 0 {
		return errors.Newf("base_delay_ms must be >= 0, got %d", c.BaseDelayMS)
	}
	if c.MaxBatchBytes < 0 {
		return errors.Newf("max_batch_bytes must be >= 0, got %d", c.MaxBatchBytes)
	}
	if c.MaxBatchesPerSecond < 0 {
		return errors.Newf("max_batches_per_second must be >= 0, got %f", c.MaxBatchesPerSecond)
	}
	if c.DrainTimeout < 0 {
		return errors.Newf("drain_timeout must be >= 0, got %s", c.DrainTimeout)
	}
	if c.MinImages < 0 {
		return errors.Newf("min_images must be >= 0, got %d", c.MinImages)
	}
	if c.MinStarRating < 0 {
		return errors.Newf("min_star_rating must be >= 0, got %f", c.MinStarRating)
	}
	if c.HTTPTimeout <= 0 {
		return errors.Newf("http_timeout must be > 0, got %s", c.HTTPTimeout)
	}
	if c.HTTPRetries < 0 {
		return errors.Newf("http_retries must be >= 0, got %d", c.HTTPRetries)
	}

	if _, err := dumpload.ParseCodec(c.Codec); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Newf("log_format must be text or json, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Policy returns the completeness policy.
func (c *Config) Policy() dumpload.Policy {
	return dumpload.Policy{
		MinImages:      c.MinImages,
		MinStarRating:  c.MinStarRating,
		RequireGeo:     c.RequireGeo,
		RequireAddress: c.RequireAddress,
		RequireCountry: c.RequireCountry,
	}
}

// BaseDelay returns base_delay_ms as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// CodecValue returns the validated codec.
func (c *Config) CodecValue() dumpload.Codec {
	codec, _ := dumpload.ParseCodec(c.Codec)
	return codec
}
