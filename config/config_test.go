package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cache.Target != 1000 {
		t.Fatalf("Default().Cache.Target = %d, want 1000", cfg.Cache.Target)
	}
	if !cfg.MVCC {
		t.Fatalf("Default().MVCC = false, want true")
	}
	if cfg.Cache.SweepCron != "@every 5m" {
		t.Fatalf("Default().Cache.SweepCron = %q, want %q", cfg.Cache.SweepCron, "@every 5m")
	}
}

func TestLoadOverlaysDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "cache:\n  target: 500\ndatabase:\n  max_connections: 10\n  busy_timeout: 250ms\nmvcc: false\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Target != 500 {
		t.Fatalf("Cache.Target = %d, want 500", cfg.Cache.Target)
	}
	if cfg.Database.MaxConnections != 10 {
		t.Fatalf("Database.MaxConnections = %d, want 10", cfg.Database.MaxConnections)
	}
	if cfg.Database.BusyTimeout.AsDuration() != 250*time.Millisecond {
		t.Fatalf("Database.BusyTimeout = %s, want 250ms", cfg.Database.BusyTimeout.AsDuration())
	}
	if cfg.MVCC {
		t.Fatalf("MVCC = true, want false (overlay should have set it to false)")
	}
	// Unset fields keep Default's values (cache.drain_resistance wasn't set).
	if cfg.Cache.DrainResistance != 1 {
		t.Fatalf("Cache.DrainResistance = %d, want the default of 1", cfg.Cache.DrainResistance)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load of a missing file succeeded, want error")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "database:\n  busy_timeout: not-a-duration\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load with an invalid duration succeeded, want error")
	}
}
