package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Chain.Granularity != "day" || cfg.Chain.MaxRepairHops != 64 {
		t.Fatalf("chain defaults = %+v", cfg.Chain)
	}
	if cfg.Database.DBName != "carechain" {
		t.Fatalf("dbname = %q", cfg.Database.DBName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CARECHAIN_SERVER_ADDR", ":9090")
	t.Setenv("CARECHAIN_DATABASE_HOST", "db.internal")
	t.Setenv("CARECHAIN_CHAIN_GRANULARITY", "hour")
	t.Setenv("CARECHAIN_CHAIN_MAX_REPAIR_HOPS", "16")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("host = %q", cfg.Database.Host)
	}
	if cfg.Chain.Granularity != "hour" {
		t.Fatalf("granularity = %q", cfg.Chain.Granularity)
	}
	if cfg.Chain.MaxRepairHops != 16 {
		t.Fatalf("max repair hops = %d", cfg.Chain.MaxRepairHops)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte("server:\n  addr: \":7070\"\nchain:\n  granularity: week\nlog:\n  level: debug\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Chain.Granularity != "week" {
		t.Fatalf("granularity = %q", cfg.Chain.Granularity)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.Chain.MaxRepairHops != 64 {
		t.Fatalf("max repair hops = %d", cfg.Chain.MaxRepairHops)
	}
}
