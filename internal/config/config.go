// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gridflow/silogrid/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Archive Archive `mapstructure:"archive"`
	Cache   Cache   `mapstructure:"cache"`
	Series  Series  `mapstructure:"series"`
	Server  Server  `mapstructure:"server"`
	Metrics Metrics `mapstructure:"metrics"`
	Logging Logging `mapstructure:"logging"`
}

// Archive holds the remote archive configuration.
type Archive struct {
	// Type selects the transport: http or s3.
	Type string     `mapstructure:"type"`
	HTTP HTTPConfig `mapstructure:"http"`
	S3   S3Config   `mapstructure:"s3"`
}

// HTTPConfig holds the HTTP archive transport configuration.
type HTTPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// S3Config holds the S3 archive transport configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	Anonymous       bool   `mapstructure:"anonymous"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Cache holds the local raster cache configuration.
type Cache struct {
	Dir       string `mapstructure:"dir"`
	Inventory bool   `mapstructure:"inventory"` // SQLite inventory next to the cache
	Watch     bool   `mapstructure:"watch"`     // drop inventory rows for deleted files
}

// InventoryPath returns the inventory database location.
func (c *Cache) InventoryPath() string {
	return c.Dir + "/inventory.db"
}

// Series holds assembly defaults.
type Series struct {
	Mode        string `mapstructure:"mode"` // stream or cached
	Overview    int    `mapstructure:"overview"`
	FillMissing bool   `mapstructure:"fill_missing"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Metrics holds Prometheus metrics configuration.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values. The defaults point
// at SILO's public archive, which needs no credentials.
func Defaults() {
	// Archive defaults
	viper.SetDefault("archive.type", "http")
	viper.SetDefault("archive.http.base_url",
		"https://s3-ap-southeast-2.amazonaws.com/silo-open-data/Official")
	viper.SetDefault("archive.http.timeout", 2*time.Minute)
	viper.SetDefault("archive.s3.bucket", "silo-open-data")
	viper.SetDefault("archive.s3.region", "ap-southeast-2")
	viper.SetDefault("archive.s3.prefix", "Official")
	viper.SetDefault("archive.s3.anonymous", true)

	// Cache defaults
	viper.SetDefault("cache.dir", "./silo-cache")
	viper.SetDefault("cache.inventory", true)
	viper.SetDefault("cache.watch", false)

	// Series defaults
	viper.SetDefault("series.mode", "stream")
	viper.SetDefault("series.overview", 0)
	viper.SetDefault("series.fill_missing", false)

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 2*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("SILOGRID")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/silogrid")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Archive.Type {
	case "http":
		if c.Archive.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "archive.http.base_url", Message: "base URL is required"}
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return &domain.ConfigError{Field: "archive.s3.bucket", Message: "bucket is required"}
		}
		if c.Archive.S3.Region == "" {
			return &domain.ConfigError{Field: "archive.s3.region", Message: "region is required"}
		}
	default:
		return &domain.ConfigError{
			Field:   "archive.type",
			Message: fmt.Sprintf("unknown archive type %q", c.Archive.Type),
		}
	}

	if c.Cache.Dir == "" {
		return &domain.ConfigError{Field: "cache.dir", Message: "cache directory is required"}
	}
	if c.Series.Mode != "stream" && c.Series.Mode != "cached" {
		return &domain.ConfigError{
			Field:   "series.mode",
			Message: fmt.Sprintf("unknown assembly mode %q", c.Series.Mode),
		}
	}
	if c.Series.Overview < 0 {
		return &domain.ConfigError{Field: "series.overview", Message: "overview level must not be negative"}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{
			Field:   "server.port",
			Message: fmt.Sprintf("invalid port %d", c.Server.Port),
		}
	}
	return nil
}
