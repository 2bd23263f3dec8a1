// Package config loads the workspace configuration from <workspace>/vfunds.yaml
// and the environment.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rxtech-lab/vfunds/internal/backtest"
	"github.com/rxtech-lab/vfunds/internal/cache"
	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/rxtech-lab/vfunds/pkg/marketdata"
	"github.com/spf13/viper"
)

// FileName is the configuration file inside a workspace.
const FileName = "vfunds.yaml"

// Config is the workspace configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Backtest BacktestConfig `yaml:"backtest"`
	Output   OutputConfig   `yaml:"output"`
	LogLevel string         `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// DataConfig selects and tunes the market data sources.
type DataConfig struct {
	DefaultSource string        `yaml:"default_source" validate:"required,oneof=qmt aktools polygon binance"`
	QMTURL        string        `yaml:"qmt_url" validate:"omitempty,url"`
	AKToolsURL    string        `yaml:"aktools_url" validate:"omitempty,url"`
	PolygonAPIKey string        `yaml:"polygon_api_key"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	Retries       int           `yaml:"retries" validate:"gte=1,lte=20"`
	QMTDelay      time.Duration `yaml:"qmt_delay" validate:"gte=0"`
	AKToolsDelay  time.Duration `yaml:"aktools_delay" validate:"gte=0"`
	Adjust        string        `yaml:"adjust" validate:"oneof=front back none"`
}

// CacheConfig selects the cache backend and expiry.
type CacheConfig struct {
	// Backend is file, sqlite or memory.
	Backend string `yaml:"backend" validate:"oneof=file sqlite memory"`
	// Dir is relative to the workspace unless absolute.
	Dir           string        `yaml:"dir" validate:"required"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	ExpireAtClose bool          `yaml:"expire_at_close"`
	NoExpire      bool          `yaml:"no_expire"`
	Only          bool          `yaml:"only"`
	SchemaVersion string        `yaml:"schema_version" validate:"required"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
}

// BacktestConfig holds run defaults.
type BacktestConfig struct {
	Parallel      int     `yaml:"parallel" validate:"gte=1,lte=256"`
	FetchParallel int     `yaml:"fetch_parallel" validate:"gte=1,lte=64"`
	RiskFreeRate  float64 `yaml:"risk_free_rate" validate:"gte=0,lt=1"`
	// Rebalance is the frequency of funds that do not name one.
	Rebalance string `yaml:"rebalance" validate:"required"`
}

// OutputConfig controls result export.
type OutputConfig struct {
	Dir     string   `yaml:"dir" validate:"required"`
	Formats []string `yaml:"formats" validate:"dive,oneof=yaml jsonl parquet chart"`
}

var validate = validator.New()

// envBindings maps keys to the environment variables that override them,
// besides the VFUNDS_<SECTION>_<KEY> form.
var envBindings = map[string]string{
	"data.qmt_url":         "QMT_API",
	"data.aktools_url":     "AKTOOLS_API",
	"data.polygon_api_key": "POLYGON_API_KEY",
	"cache.no_expire":      "VFUNDS_CACHE_NO_EXPIRE",
	"log_level":            "VFUNDS_LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.default_source", string(marketdata.ProviderQMT))
	v.SetDefault("data.qmt_url", "")
	v.SetDefault("data.aktools_url", "")
	v.SetDefault("data.polygon_api_key", "")
	v.SetDefault("data.timeout", 30*time.Second)
	v.SetDefault("data.retries", 3)
	v.SetDefault("data.qmt_delay", time.Duration(0))
	v.SetDefault("data.aktools_delay", 500*time.Millisecond)
	v.SetDefault("data.adjust", "front")

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", ".cache")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.expire_at_close", true)
	v.SetDefault("cache.no_expire", false)
	v.SetDefault("cache.only", false)
	v.SetDefault("cache.schema_version", cache.DefaultSchemaVersion)
	v.SetDefault("cache.fetch_timeout", 2*time.Minute)

	v.SetDefault("backtest.parallel", 4)
	v.SetDefault("backtest.fetch_parallel", 4)
	v.SetDefault("backtest.risk_free_rate", 0.0)
	v.SetDefault("backtest.rebalance", simulator.DefaultFrequency)

	v.SetDefault("output.dir", "results")
	v.SetDefault("output.formats", []string{"yaml"})

	v.SetDefault("log_level", "info")
}

func newViper(workspace string, withEnv bool) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(Path(workspace))
	setDefaults(v)

	if withEnv {
		v.SetEnvPrefix("VFUNDS")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		for key, env := range envBindings {
			if err := v.BindEnv(key, env); err != nil {
				return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to bind %s", env)
			}
		}
	}

	if _, err := os.Stat(Path(workspace)); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read %s", Path(workspace))
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Path returns the configuration file of a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, FileName)
}

// Load reads the configuration of a workspace. A missing file yields the
// defaults; the environment overrides both.
func Load(workspace string) (*Config, error) {
	v, err := newViper(workspace, true)
	if err != nil {
		return nil, err
	}

	return decode(v)
}

// Keys lists every configuration key.
func Keys() []string {
	v := viper.New()
	setDefaults(v)

	keys := v.AllKeys()
	slices.Sort(keys)

	return keys
}

// Set stores one key in the workspace file. The environment is ignored so
// secrets taken from it are never written out.
func Set(workspace, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(Keys(), key) {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown configuration key %q", key)
	}

	v, err := newViper(workspace, false)
	if err != nil {
		return err
	}

	if key == "output.formats" {
		v.Set(key, strings.Split(value, ","))
	} else {
		v.Set(key, value)
	}

	if _, err := decode(v); err != nil {
		return err
	}

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to create workspace", err)
	}

	if err := v.WriteConfigAs(Path(workspace)); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to write %s", Path(workspace))
	}

	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.Data.DefaultSource == string(marketdata.ProviderPolygon) && c.Data.PolygonAPIKey == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "polygon needs data.polygon_api_key or POLYGON_API_KEY")
	}

	if _, err := simulator.ParseFrequency(c.Backtest.Rebalance); err != nil {
		return err
	}

	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	r := *c
	if r.Data.PolygonAPIKey != "" {
		r.Data.PolygonAPIKey = "***"
	}

	r.Output.Formats = slices.Clone(c.Output.Formats)

	return r
}

// ClientConfig returns the market data client settings.
func (c *Config) ClientConfig() marketdata.ClientConfig {
	return marketdata.ClientConfig{
		DefaultSource: marketdata.ProviderType(c.Data.DefaultSource),
		QMTURL:        c.Data.QMTURL,
		AKToolsURL:    c.Data.AKToolsURL,
		PolygonApiKey: c.Data.PolygonAPIKey,
		Timeout:       c.Data.Timeout,
		MaxAttempts:   c.Data.Retries,
		QMTDelay:      c.Data.QMTDelay,
		AKToolsDelay:  c.Data.AKToolsDelay,
		Adjust:        c.Data.Adjust,
	}
}

// CacheConfig returns the price cache settings. noExpire forces the
// no-expire mode on top of the configured one.
func (c *Config) CacheConfig(noExpire bool) cache.Config {
	return cache.Config{
		TTL:           c.Cache.TTL,
		ExpireAtClose: c.Cache.ExpireAtClose,
		NoExpire:      c.Cache.NoExpire || noExpire,
		Only:          c.Cache.Only,
		SchemaVersion: c.Cache.SchemaVersion,
		FetchTimeout:  c.Cache.FetchTimeout,
	}
}

// OrchestratorConfig returns the orchestrator settings.
func (c *Config) OrchestratorConfig(noExpire bool) backtest.Config {
	return backtest.Config{
		DefaultSource: c.Data.DefaultSource,
		NoExpire:      c.Cache.NoExpire || noExpire,
		FetchParallel: c.Backtest.FetchParallel,
	}
}

// CacheDir resolves the cache directory against the workspace.
func (c *Config) CacheDir(workspace string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}

	return filepath.Join(workspace, c.Cache.Dir)
}

// OpenStore opens the configured cache backend.
func (c *Config) OpenStore(workspace string) (cache.Store, error) {
	switch c.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite":
		dir := c.CacheDir(workspace)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create cache directory", err)
		}

		return cache.NewSQLStore(filepath.Join(dir, "cache.db"))
	default:
		return cache.NewFileStore(c.CacheDir(workspace))
	}
}
