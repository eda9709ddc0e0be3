package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheMaxSizeByte != 20*1024*1024 {
		t.Fatalf("cache size = %d", cfg.CacheMaxSizeByte)
	}
	if cfg.CacheMaxAge != 5*24*time.Hour {
		t.Fatalf("cache age = %v", cfg.CacheMaxAge)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.HTTPTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mss_settings.json")
	doc := `{
  "wms_cache": "/var/cache/wms",
  "wms_cache_max_size_bytes": 1048576,
  "wms_cache_max_age_seconds": 3600,
  "wms_prefetch": {"validtime_fwd": 3, "level_up": 1},
  "wms_login": {
    "http://maps.example.org/wms": {"username": "u", "password": "p"},
    "https://wms.dwd.de:8443/geoserver/wms": {"username": "v", "password": "q"}
  },
  "wms_preload": ["http://maps.example.org/wms"],
  "log_level": "debug"
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheDir != "/var/cache/wms" || cfg.CacheMaxSizeByte != 1048576 {
		t.Fatalf("cache settings: %+v", cfg)
	}
	if cfg.CacheMaxAge != time.Hour {
		t.Fatalf("cache age = %v", cfg.CacheMaxAge)
	}
	if cfg.Prefetch.ValidTimeFwd != 3 || cfg.Prefetch.LevelUp != 1 || cfg.Prefetch.ValidTimeBck != 0 {
		t.Fatalf("prefetch: %+v", cfg.Prefetch)
	}
	if len(cfg.Logins) != 2 {
		t.Fatalf("logins: %+v", cfg.Logins)
	}
	l, ok := cfg.Logins["http://maps.example.org/wms"]
	if !ok || l.Username != "u" || l.Password != "p" {
		t.Fatalf("logins: %+v", cfg.Logins)
	}
	if l := cfg.Logins["https://wms.dwd.de:8443/geoserver/wms"]; l.Username != "v" || l.Password != "q" {
		t.Fatalf("logins: %+v", cfg.Logins)
	}
	if len(cfg.Preload) != 1 || cfg.LogLevel != "debug" {
		t.Fatalf("preload=%v level=%q", cfg.Preload, cfg.LogLevel)
	}
}

func TestLoad_MissingFileTolerated(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WMS_CACHE", "/tmp/alt-cache")
	t.Setenv("WMS_CACHE_MAX_AGE_SECONDS", "60")
	t.Setenv("WMS_PREFETCH_VALIDTIME_FWD", "5")
	t.Setenv("WMS_PRELOAD", "http://a/wms, http://b/wms")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := FromEnv()
	if cfg.CacheDir != "/tmp/alt-cache" {
		t.Fatalf("cache dir = %q", cfg.CacheDir)
	}
	if cfg.CacheMaxAge != time.Minute {
		t.Fatalf("cache age = %v", cfg.CacheMaxAge)
	}
	if cfg.Prefetch.ValidTimeFwd != 5 {
		t.Fatalf("prefetch fwd = %d", cfg.Prefetch.ValidTimeFwd)
	}
	if len(cfg.Preload) != 2 || cfg.Preload[1] != "http://b/wms" {
		t.Fatalf("preload = %v", cfg.Preload)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestClamp_NegativeFanOutsZeroed(t *testing.T) {
	t.Setenv("WMS_PREFETCH_LEVEL_DOWN", "-3")
	cfg := FromEnv()
	if cfg.Prefetch.LevelDown != 0 {
		t.Fatalf("level down = %d", cfg.Prefetch.LevelDown)
	}
}
