package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kazandb/kazandb/internal/resp"
)

// Config represents the root configuration structure for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Storage  StorageConfig  `mapstructure:"storage"`
	GC       GCConfig       `mapstructure:"gc"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds the network settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Protocol        string        `mapstructure:"protocol"`         // wire protocol name, only resp2
	Verbose         bool          `mapstructure:"verbose"`          // log every request and reply frame
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // 0 disables
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // 0 disables
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // how long to wait for open connections
	RateLimit       float64       `mapstructure:"rate_limit"`       // commands per second per connection, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

// ProtocolConfig bounds what a single request frame may allocate
type ProtocolConfig struct {
	MaxBulkLen  int `mapstructure:"max_bulk_len"`
	MaxArrayLen int `mapstructure:"max_array_len"`
	MaxDepth    int `mapstructure:"max_depth"`
	MaxLineLen  int `mapstructure:"max_line_len"`
}

// StorageConfig defines the internal structure of the storage engine
type StorageConfig struct {
	Engine string `mapstructure:"engine"` // sharded, badger
	Shards uint   `mapstructure:"shards"`
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // empty means stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Address returns host:port the server listens on
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// Limits converts the protocol section into decoder limits
func (c *Config) Limits() resp.Limits {
	return resp.Limits{
		MaxBulkLen:  c.Protocol.MaxBulkLen,
		MaxArrayLen: c.Protocol.MaxArrayLen,
		MaxDepth:    c.Protocol.MaxDepth,
		MaxLineLen:  c.Protocol.MaxLineLen,
	}
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	if _, err := resp.Lookup(c.Server.Protocol, c.Limits()); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Protocol.MaxBulkLen <= 0 || c.Protocol.MaxArrayLen <= 0 || c.Protocol.MaxDepth <= 0 || c.Protocol.MaxLineLen <= 0 {
		errs = append(errs, errors.New("protocol limits must be positive"))
	}
	switch c.Storage.Engine {
	case "sharded", "badger":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.engine %q", c.Storage.Engine))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr must be set when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// Load reads the configuration from a file and overrides it with environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")

	v.SetEnvPrefix("KAZANDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file and no environment is present
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// setDefaults populates viper with fallback values if they are not provided via file or ENV
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "6379")
	v.SetDefault("server.protocol", string(resp.RESP2))
	v.SetDefault("server.verbose", false)
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.idle_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 100)

	// Protocol
	limits := resp.DefaultLimits()
	v.SetDefault("protocol.max_bulk_len", limits.MaxBulkLen)
	v.SetDefault("protocol.max_array_len", limits.MaxArrayLen)
	v.SetDefault("protocol.max_depth", limits.MaxDepth)
	v.SetDefault("protocol.max_line_len", limits.MaxLineLen)

	// Storage
	v.SetDefault("storage.engine", "sharded")
	v.SetDefault("storage.shards", 32)

	// GC
	gc := DefaultGCConfig()
	v.SetDefault("gc.enabled", gc.Enabled)
	v.SetDefault("gc.interval", gc.Interval.String())
	v.SetDefault("gc.samples_per_check", gc.SamplesPerCheck)
	v.SetDefault("gc.match_threshold", gc.MatchThreshold)

	// Logger
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9121")
	v.SetDefault("metrics.path", "/metrics")
}
