package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.GRPC.Port != 50051 {
		t.Errorf("ports = %d, %d", cfg.Server.Port, cfg.GRPC.Port)
	}
	if cfg.Engine.ElevationMask != 10 || cfg.Engine.ElementMaxAge != 14*24*time.Hour {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Primary.Timeout != 3*time.Second || cfg.Primary.URL != "http://localhost:8000" {
		t.Errorf("primary = %+v", cfg.Primary)
	}
	if len(cfg.Sources.Groups) != 2 {
		t.Errorf("groups = %v", cfg.Sources.Groups)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ELEMENT_GROUPS", " GPS, BEIDOU ,,SBAS")
	t.Setenv("PRIMARY_TIMEOUT", "750ms")
	t.Setenv("KP_AMBER", "4.5")
	t.Setenv("POLLING_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Sources.Groups; len(got) != 3 || got[1] != "BEIDOU" {
		t.Errorf("groups = %q", got)
	}
	if cfg.Primary.Timeout != 750*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Primary.Timeout)
	}
	if cfg.Thresholds.KpAmber != 4.5 || cfg.Sources.PollingEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"SERVER_PORT", "70000"},
		{"LOG_LEVEL", "loud"},
		{"LOG_FORMAT", "xml"},
		{"KP_AMBER", "8"},
		{"PDOP_RED", "2"},
		{"ALERT_LEVEL", "6"},
		{"ELEVATION_MASK_DEG", "90"},
		{"WEATHER_POLL_INTERVAL", "30s"},
		{"OBSERVER_LAT", "-91"},
		{"RATE_LIMIT_RPS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s: expected error", tt.key, tt.val)
			}
		})
	}
}
