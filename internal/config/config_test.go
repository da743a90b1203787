package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamName != "task_events" {
		t.Fatalf("expected default stream name, got %q", cfg.StreamName)
	}
	if cfg.GroupName != "api" {
		t.Fatalf("expected default group name, got %q", cfg.GroupName)
	}
	if cfg.ConsumerName == "" {
		t.Fatalf("expected a generated consumer name")
	}
	if cfg.StatusDelta != 0.02 {
		t.Fatalf("expected default delta 0.02, got %v", cfg.StatusDelta)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("stream_name: custom_events\nworker_concurrency: 4\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamName != "custom_events" {
		t.Fatalf("expected file override, got %q", cfg.StreamName)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected worker_concurrency=4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.SourceOf("stream_name") != SourceFile {
		t.Fatalf("expected stream_name source=file, got %v", cfg.SourceOf("stream_name"))
	}
}

func TestLoadOverrideWinsLast(t *testing.T) {
	cfg, err := Load("", func(c *Config) {
		c.StreamName = "override_events"
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamName != "override_events" {
		t.Fatalf("expected override to win, got %q", cfg.StreamName)
	}
}

func TestLoadRejectsInvalidDelta(t *testing.T) {
	_, err := Load("", func(c *Config) { c.StatusDelta = 0 })
	if err == nil {
		t.Fatalf("expected validation error for zero delta")
	}
}
