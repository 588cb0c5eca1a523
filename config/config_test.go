package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != "5000" {
		t.Errorf("expected default port 5000, got %s", cfg.HTTPPort)
	}
	if cfg.FleetSize != 12 {
		t.Errorf("expected default fleet size 12, got %d", cfg.FleetSize)
	}
	if cfg.TickInterval != 2*time.Second {
		t.Errorf("expected default tick interval 2s, got %s", cfg.TickInterval)
	}
	if cfg.Hardware.ReadTimeout != 5*time.Second {
		t.Errorf("expected default read timeout 5s, got %s", cfg.Hardware.ReadTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("http_port: \"8080\"\nfleet_size: 6\nhardware:\n  read_timeout: 1s\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.FleetSize != 6 {
		t.Errorf("expected fleet size 6, got %d", cfg.FleetSize)
	}
	if cfg.Hardware.ReadTimeout != time.Second {
		t.Errorf("expected read timeout 1s, got %s", cfg.Hardware.ReadTimeout)
	}
	if cfg.StandbyDelay != 3*time.Second {
		t.Errorf("file must not clobber unrelated defaults, got %s", cfg.StandbyDelay)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("fleet_size: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero fleet size")
	}
}

func TestDSNFallsBackToHost(t *testing.T) {
	cfg := &Config{PostgresHost: "db:5432"}
	if got := cfg.DSN(); got != "postgresql://postgres:postgrespassword@db:5432/postgres" {
		t.Errorf("unexpected DSN %s", got)
	}

	cfg.PostgresDSN = "postgresql://u:p@other/db"
	if got := cfg.DSN(); got != "postgresql://u:p@other/db" {
		t.Errorf("explicit DSN must win, got %s", got)
	}
}
