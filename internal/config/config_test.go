package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/casterbn/PyGPSClient/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GatewayID != "node-01" {
		t.Fatalf("gateway_id %q, want node-01", cfg.GatewayID)
	}
	if cfg.HTTPPort != 8081 || cfg.QueueSize != 256 || cfg.ReadTimeout != 300 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Receivers) != 0 {
		t.Fatalf("expected no default receivers")
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	content := `
gateway_id = "site-a"
http_port = 9090
queue_size = 512

[[receivers]]
host = "10.0.0.5"
port = 2101
transport = "tcp"

[[receivers]]
host = "10.0.0.6"
port = 2102
transport = "udp"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GatewayID != "site-a" || cfg.HTTPPort != 9090 || cfg.QueueSize != 512 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.Receivers) != 2 {
		t.Fatalf("expected 2 receivers, got %d", len(cfg.Receivers))
	}
	if cfg.Receivers[1].Transport != "udp" || cfg.Receivers[1].Port != 2102 {
		t.Fatalf("receiver not parsed: %+v", cfg.Receivers[1])
	}
	// untouched keys keep their defaults
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Fatalf("nats_url default lost: %s", cfg.NATSURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ID", "env-node")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GatewayID != "env-node" || cfg.HTTPPort != 7070 || cfg.NATSURL != "nats://broker:4222" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadReceiver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	content := `
[[receivers]]
host = "10.0.0.5"
port = 2101
transport = "sctp"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected validation error for unsupported transport")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
