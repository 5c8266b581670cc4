package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		t.Logf("Version: %s", version)
	}
}

func TestLoadArgsDefaults(t *testing.T) {
	t.Setenv("DOWNSTREAM_URL", "http://sync.local")
	t.Setenv("TZ", "UTC")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DBPath != "./data/imports.db" {
		t.Errorf("Expected default DB path, got '%s'", cfg.DBPath)
	}
	if cfg.ImportsDir != "./imports" {
		t.Errorf("Expected default imports dir, got '%s'", cfg.ImportsDir)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", cfg.Port)
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("Expected worker count 5, got %d", cfg.WorkerCount)
	}
	if cfg.SchedulerInterval != 30 {
		t.Errorf("Expected scheduler interval 30, got %d", cfg.SchedulerInterval)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("Expected fetch timeout 30s, got %s", cfg.FetchTimeout)
	}
	if cfg.FetchRateLimit != 5 || cfg.FetchRateBurst != 5 {
		t.Errorf("Expected rate 5/5, got %v/%d", cfg.FetchRateLimit, cfg.FetchRateBurst)
	}
	if cfg.DownstreamURL != "http://sync.local" {
		t.Errorf("Expected downstream URL from env, got '%s'", cfg.DownstreamURL)
	}
	if cfg.DownstreamTimeout != 60*time.Second {
		t.Errorf("Expected downstream timeout 60s, got %s", cfg.DownstreamTimeout)
	}
	if cfg.RedisAddr != "" || cfg.PreviewCacheTTL != time.Minute {
		t.Errorf("Expected preview cache disabled with 1m TTL, got '%s' %s", cfg.RedisAddr, cfg.PreviewCacheTTL)
	}
	if Get() != cfg {
		t.Error("Expected Get to return the loaded configuration")
	}
}

func TestLoadArgsOverrides(t *testing.T) {
	t.Setenv("DOWNSTREAM_URL", "http://sync.local")
	t.Setenv("WORKER_COUNT", "2")

	cfg, err := LoadArgs([]string{"--port", "9090", "--fetch-timeout", "5", "--debug"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port '9090', got '%s'", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("Expected worker count 2 from env, got %d", cfg.WorkerCount)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("Expected fetch timeout 5s, got %s", cfg.FetchTimeout)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
}

func TestLoadArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing downstream URL", map[string]string{"DOWNSTREAM_URL": ""}},
		{"zero workers", map[string]string{"DOWNSTREAM_URL": "http://sync.local", "WORKER_COUNT": "0"}},
		{"zero interval", map[string]string{"DOWNSTREAM_URL": "http://sync.local", "SCHEDULER_INTERVAL": "0"}},
		{"zero burst", map[string]string{"DOWNSTREAM_URL": "http://sync.local", "FETCH_RATE_BURST": "0"}},
		{"negative cache TTL", map[string]string{"DOWNSTREAM_URL": "http://sync.local", "PREVIEW_CACHE_TTL": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadArgs(nil); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
