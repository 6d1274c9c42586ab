package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(DefaultConfigPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, DefaultHTTPAddr)
	}
	if cfg.Postgres.Port != DefaultPGPort {
		t.Errorf("pg port = %d, want %d", cfg.Postgres.Port, DefaultPGPort)
	}
	if cfg.Gateway.SendBuffer != DefaultSendBuffer {
		t.Errorf("send buffer = %d, want %d", cfg.Gateway.SendBuffer, DefaultSendBuffer)
	}
	if got := cfg.Gateway.HeartbeatInterval(); got != DefaultProbeInterval {
		t.Errorf("probe interval = %v, want %v", got, DefaultProbeInterval)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[log]
level = "debug"

[server]
addr = ":9090"

[gateway]
probe_interval = "5s"
probe_timeout = "2s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if got := cfg.Gateway.HeartbeatInterval(); got != 5*time.Second {
		t.Errorf("probe interval = %v, want 5s", got)
	}
	if got := cfg.Gateway.HeartbeatTimeout(); got != 2*time.Second {
		t.Errorf("probe timeout = %v, want 2s", got)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}
