package config

import (
	"testing"
	"time"
)

func TestConfigLoad_Defaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.LocalDriver != LocalSQLite || cfg.CloudDriver != CloudNone {
		t.Fatalf("unexpected default drivers: %+v", cfg)
	}
	if cfg.OverridesPollInterval != 2*time.Second || cfg.ChatsPollInterval != 10*time.Second || cfg.CommunityPollInterval != 15*time.Second {
		t.Fatalf("unexpected poll defaults: %+v", cfg)
	}
	if cfg.BroadcastDuration != 10*time.Second || cfg.TakeoverDuration != 8*time.Second {
		t.Fatalf("unexpected display durations: %+v", cfg)
	}
	if cfg.OverridesPollInterval >= cfg.ChatsPollInterval {
		t.Fatalf("overrides must poll tighter than chats")
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHATPDT_CLOUD_DRIVER", "postgres")
	t.Setenv("CHATPDT_POSTGRES_DSN", "postgres://localhost/chatpdt")
	t.Setenv("CHATPDT_OVERRIDES_POLL_INTERVAL", "500ms")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.CloudDriver != CloudPostgres || cfg.OverridesPollInterval != 500*time.Millisecond {
		t.Fatalf("env override failed: %+v", cfg)
	}
}

func TestConfigLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown cloud":   {"CHATPDT_CLOUD_DRIVER": "spanner"},
		"mongo no uri":    {"CHATPDT_CLOUD_DRIVER": "mongo"},
		"redis no url":    {"CHATPDT_CLOUD_DRIVER": "redis"},
		"unknown local":   {"CHATPDT_LOCAL_DRIVER": "bolt"},
		"zero poll":       {"CHATPDT_CHATS_POLL_INTERVAL": "0s"},
		"negative expiry": {"CHATPDT_TAKEOVER_DURATION": "-1s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := New(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	if !cfg.IsTesting() || cfg.IsProduction() {
		t.Fatalf("unexpected environment: %s", cfg.Environment)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("testing config invalid: %v", err)
	}
}
