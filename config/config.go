// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Index        IndexConfig        `mapstructure:"index"`
	PayloadCache PayloadCacheConfig `mapstructure:"payload_cache"`
	Warmup       WarmupConfig       `mapstructure:"warmup"`

	// DataDir is the root under which relative catalog paths resolve.
	DataDir string `mapstructure:"data_dir"`
	// CatalogPath points at the repos.yaml catalog file.
	CatalogPath string `mapstructure:"catalog_path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	MasterKey       string `mapstructure:"master_key"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"`
	MetricsEndpoint string `mapstructure:"metrics_endpoint"`
	BodySizeLimit   int64  `mapstructure:"body_size_limit"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects and configures the durable backend
type StorageConfig struct {
	Type       string           `mapstructure:"type"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// IndexConfig holds the budgets for both index cache classes
type IndexConfig struct {
	Vector   IndexClassConfig `mapstructure:"vector"`
	FullText IndexClassConfig `mapstructure:"fulltext"`
}

// IndexClassConfig configures one index cache class
type IndexClassConfig struct {
	TTLMinutes     float64 `mapstructure:"ttl_minutes"`
	MaxCacheSizeMB int     `mapstructure:"max_cache_size_mb"`
	ReloadOnAccess bool    `mapstructure:"reload_on_access"`
}

// TTL returns the configured TTL as a duration.
func (c IndexClassConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes * float64(time.Minute))
}

// PayloadCacheConfig configures the durable content cache
type PayloadCacheConfig struct {
	PreviewSizeChars       int `mapstructure:"preview_size_chars"`
	MaxFetchSizeChars      int `mapstructure:"max_fetch_size_chars"`
	CacheTTLSeconds        int `mapstructure:"cache_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// TTL returns the configured entry lifetime as a duration.
func (c PayloadCacheConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CleanupInterval returns the configured sweep period as a duration.
func (c PayloadCacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// WarmupConfig controls eager index loading at startup
type WarmupConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// Defaults applied before the file and environment are read.
var defaults = map[string]interface{}{
	"server.port":                            "8080",
	"server.master_key":                      "",
	"server.metrics_enabled":                 true,
	"server.metrics_endpoint":                "/metrics",
	"server.body_size_limit":                 int64(10 * 1024 * 1024),
	"logging.level":                          "info",
	"logging.format":                         "auto",
	"storage.type":                           "sqlite",
	"storage.sqlite.path":                    "data/repolens.db",
	"storage.postgresql.url":                 "",
	"storage.postgresql.max_conns":           10,
	"storage.mongodb.url":                    "",
	"storage.mongodb.database":               "repolens",
	"storage.redis.url":                      "",
	"index.vector.ttl_minutes":               float64(60),
	"index.vector.max_cache_size_mb":         500,
	"index.vector.reload_on_access":          false,
	"index.fulltext.ttl_minutes":             float64(60),
	"index.fulltext.max_cache_size_mb":       200,
	"index.fulltext.reload_on_access":        false,
	"payload_cache.preview_size_chars":       2000,
	"payload_cache.max_fetch_size_chars":     5000,
	"payload_cache.cache_ttl_seconds":        3600,
	"payload_cache.cleanup_interval_seconds": 300,
	"warmup.enabled":                         false,
	"warmup.concurrency":                     4,
	"data_dir":                               "data",
	"catalog_path":                           "config/repos.yaml",
}

// Load reads configuration from the given yaml file (optional when path is
// empty), then applies REPOLENS_* environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // Optional, defaults apply if absent
	}

	// REPOLENS_INDEX_VECTOR_TTL_MINUTES overrides index.vector.ttl_minutes, etc.
	v.SetEnvPrefix("REPOLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Values are read key by key so a single malformed override falls back
	// to its default with a warning instead of failing the whole load.
	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			MasterKey:       v.GetString("server.master_key"),
			MetricsEnabled:  v.GetBool("server.metrics_enabled"),
			MetricsEndpoint: v.GetString("server.metrics_endpoint"),
			BodySizeLimit:   positiveInt64(v, "server.body_size_limit"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Storage: StorageConfig{
			Type: v.GetString("storage.type"),
			SQLite: SQLiteConfig{
				Path: v.GetString("storage.sqlite.path"),
			},
			PostgreSQL: PostgreSQLConfig{
				URL:      v.GetString("storage.postgresql.url"),
				MaxConns: positiveInt(v, "storage.postgresql.max_conns"),
			},
			MongoDB: MongoDBConfig{
				URL:      v.GetString("storage.mongodb.url"),
				Database: v.GetString("storage.mongodb.database"),
			},
			Redis: RedisConfig{
				URL: v.GetString("storage.redis.url"),
			},
		},
		Index: IndexConfig{
			Vector: IndexClassConfig{
				TTLMinutes:     positiveFloat(v, "index.vector.ttl_minutes"),
				MaxCacheSizeMB: positiveInt(v, "index.vector.max_cache_size_mb"),
				ReloadOnAccess: v.GetBool("index.vector.reload_on_access"),
			},
			FullText: IndexClassConfig{
				TTLMinutes:     positiveFloat(v, "index.fulltext.ttl_minutes"),
				MaxCacheSizeMB: positiveInt(v, "index.fulltext.max_cache_size_mb"),
				ReloadOnAccess: v.GetBool("index.fulltext.reload_on_access"),
			},
		},
		PayloadCache: PayloadCacheConfig{
			PreviewSizeChars:       positiveInt(v, "payload_cache.preview_size_chars"),
			MaxFetchSizeChars:      positiveInt(v, "payload_cache.max_fetch_size_chars"),
			CacheTTLSeconds:        positiveInt(v, "payload_cache.cache_ttl_seconds"),
			CleanupIntervalSeconds: positiveInt(v, "payload_cache.cleanup_interval_seconds"),
		},
		Warmup: WarmupConfig{
			Enabled:     v.GetBool("warmup.enabled"),
			Concurrency: positiveInt(v, "warmup.concurrency"),
		},
		DataDir:     v.GetString("data_dir"),
		CatalogPath: v.GetString("catalog_path"),
	}

	return cfg, nil
}

// positiveInt reads an integer setting, falling back to the default when the
// value does not parse or is not positive.
func positiveInt(v *viper.Viper, key string) int {
	raw := v.GetString(key)
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		def := defaults[key].(int)
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return parsed
}

// positiveFloat is like positiveInt for settings that take fractional
// values, such as the index TTLs in minutes.
func positiveFloat(v *viper.Viper, key string) float64 {
	raw := v.GetString(key)
	parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || parsed <= 0 {
		def := defaults[key].(float64)
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return parsed
}

func positiveInt64(v *viper.Viper, key string) int64 {
	raw := v.GetString(key)
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed <= 0 {
		def := defaults[key].(int64)
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return parsed
}
