// Package config produces the typed configuration record the engine
// consumes. Values come from an optional settings file (JSON or YAML,
// loaded with viper) with environment-variable overrides on top.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Prefetch holds the fan-out counts for the prefetch neighborhood around
// each user-visible request. All nonnegative; zero disables that axis.
type Prefetch struct {
	ValidTimeFwd int `mapstructure:"validtime_fwd"`
	ValidTimeBck int `mapstructure:"validtime_bck"`
	LevelUp      int `mapstructure:"level_up"`
	LevelDown    int `mapstructure:"level_down"`
}

// Login is one configured credential pair for an endpoint.
type Login struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	// CacheDir is created if missing.
	CacheDir         string        `mapstructure:"wms_cache"`
	CacheMaxSizeByte int64         `mapstructure:"wms_cache_max_size_bytes"`
	CacheMaxAge      time.Duration `mapstructure:"-"`

	Prefetch Prefetch `mapstructure:"wms_prefetch"`

	// Logins seeds the credential broker, keyed by endpoint URL.
	Logins map[string]Login `mapstructure:"wms_login"`
	// Preload lists endpoints whose capabilities are fetched at startup.
	Preload []string `mapstructure:"wms_preload"`

	LogLevel    string        `mapstructure:"log_level"`
	HTTPTimeout time.Duration `mapstructure:"-"`
}

func defaults() Config {
	return Config{
		CacheDir:         filepath.Join(os.TempDir(), "wmsclient-cache"),
		CacheMaxSizeByte: 20 * 1024 * 1024,
		CacheMaxAge:      5 * 24 * time.Hour,
		LogLevel:         "info",
		HTTPTimeout:      30 * time.Second,
	}
}

// Load reads the settings file (skipped when path is empty or missing)
// and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	// The default "." key delimiter would split endpoint-URL map keys
	// (every host name contains a dot) while flattening the file.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetDefault("wms_cache", cfg.CacheDir)
	v.SetDefault("wms_cache_max_size_bytes", cfg.CacheMaxSizeByte)
	v.SetDefault("wms_cache_max_age_seconds", int64(cfg.CacheMaxAge/time.Second))
	v.SetDefault("http_timeout_seconds", int64(cfg.HTTPTimeout/time.Second))
	v.SetDefault("log_level", cfg.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.CacheMaxAge = time.Duration(v.GetInt64("wms_cache_max_age_seconds")) * time.Second
	cfg.HTTPTimeout = time.Duration(v.GetInt64("http_timeout_seconds")) * time.Second

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

// FromEnv builds a config from environment variables alone.
func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	clamp(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.CacheDir = getenv("WMS_CACHE", cfg.CacheDir)
	cfg.CacheMaxSizeByte = getint64("WMS_CACHE_MAX_SIZE_BYTES", cfg.CacheMaxSizeByte)
	if sec := getint64("WMS_CACHE_MAX_AGE_SECONDS", -1); sec >= 0 {
		cfg.CacheMaxAge = time.Duration(sec) * time.Second
	}
	cfg.Prefetch.ValidTimeFwd = getint("WMS_PREFETCH_VALIDTIME_FWD", cfg.Prefetch.ValidTimeFwd)
	cfg.Prefetch.ValidTimeBck = getint("WMS_PREFETCH_VALIDTIME_BCK", cfg.Prefetch.ValidTimeBck)
	cfg.Prefetch.LevelUp = getint("WMS_PREFETCH_LEVEL_UP", cfg.Prefetch.LevelUp)
	cfg.Prefetch.LevelDown = getint("WMS_PREFETCH_LEVEL_DOWN", cfg.Prefetch.LevelDown)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	if sec := getint64("WMS_HTTP_TIMEOUT_SECONDS", -1); sec > 0 {
		cfg.HTTPTimeout = time.Duration(sec) * time.Second
	}
	if urls := getenv("WMS_PRELOAD", ""); urls != "" {
		cfg.Preload = splitList(urls)
	}
}

func clamp(cfg *Config) {
	if cfg.Prefetch.ValidTimeFwd < 0 {
		cfg.Prefetch.ValidTimeFwd = 0
	}
	if cfg.Prefetch.ValidTimeBck < 0 {
		cfg.Prefetch.ValidTimeBck = 0
	}
	if cfg.Prefetch.LevelUp < 0 {
		cfg.Prefetch.LevelUp = 0
	}
	if cfg.Prefetch.LevelDown < 0 {
		cfg.Prefetch.LevelDown = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
