package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "LISTEN_ADDR", "METRICS_ADDR", "EVENT_RING_SIZE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.EventRingSize != 8192 {
		t.Errorf("EventRingSize = %d, want 8192", cfg.EventRingSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("METRICS_ADDR", ":9999")
	t.Setenv("EVENT_RING_SIZE", "64")
	cfg := Load()
	if cfg.MetricsAddr != ":9999" {
		t.Errorf("MetricsAddr = %q, want :9999", cfg.MetricsAddr)
	}
	if cfg.EventRingSize != 64 {
		t.Errorf("EventRingSize = %d, want 64", cfg.EventRingSize)
	}
}

func TestLoad_BadIntFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	if cfg := Load(); cfg.RedisDB != 0 {
		t.Errorf("RedisDB = %d, want fallback 0", cfg.RedisDB)
	}
}
