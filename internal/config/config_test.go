package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetDefaultConfig(t *testing.T) {
	cm := NewConfigManager()
	cfg := cm.GetDefaultConfig()

	if cfg.MemoryBudgetMB <= 0 {
		t.Errorf("default memory budget must be positive, got %d", cfg.MemoryBudgetMB)
	}
	if cfg.WorkerCount <= 0 {
		t.Errorf("default worker count must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.ChunkSizeKB != 0 {
		t.Errorf("default chunk size should be auto (0), got %d", cfg.ChunkSizeKB)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("default log level = %q, want warn", cfg.LogLevel)
	}
	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		t.Error("tracking should be enabled by default")
	}

	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cm := NewConfigManager()
	cfg := cm.GetDefaultConfig()
	cfg.MemoryBudgetMB = 128
	cfg.WorkerCount = 4
	cfg.LogLevel = "debug"

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := cm.SaveToFile(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := cm.LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.MemoryBudgetMB != 128 || loaded.WorkerCount != 4 || loaded.LogLevel != "debug" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cm := NewConfigManager()
	if _, err := cm.LoadFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadFromInvalidJSON(t *testing.T) {
	cm := NewConfigManager()
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := cm.LoadFromFile(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestValidateConfig(t *testing.T) {
	cm := NewConfigManager()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero memory budget", func(c *Config) { c.MemoryBudgetMB = 0 }, "memory_budget_mb"},
		{"negative workers", func(c *Config) { c.WorkerCount = -1 }, "worker_count"},
		{"negative queue", func(c *Config) { c.QueueCapacity = -1 }, "queue_capacity"},
		{"negative chunk size", func(c *Config) { c.ChunkSizeKB = -1 }, "chunk_size_kb"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log level"},
		{"negative log size", func(c *Config) { c.FileLogging.MaxSizeMB = -1 }, "max_size_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cm.GetDefaultConfig()
			tt.mutate(cfg)
			err := cm.ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestMergeConfigs(t *testing.T) {
	cm := NewConfigManager()
	base := cm.GetDefaultConfig()
	override := &Config{WorkerCount: 8, LogLevel: "debug"}

	merged := cm.MergeConfigs(base, override)
	if merged.WorkerCount != 8 {
		t.Errorf("worker count = %d, want 8", merged.WorkerCount)
	}
	if merged.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", merged.LogLevel)
	}
	if merged.MemoryBudgetMB != base.MemoryBudgetMB {
		t.Errorf("memory budget changed unexpectedly: %d", merged.MemoryBudgetMB)
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	cm := NewConfigManager()

	t.Setenv("SONIX_MEMORY_BUDGET_MB", "512")
	t.Setenv("SONIX_WORKERS", "6")
	t.Setenv("SONIX_CHUNK_SIZE_KB", "1024")
	t.Setenv("SONIX_LOG_LEVEL", "debug")
	t.Setenv("SONIX_TRACKING", "false")

	cfg := cm.ApplyEnvironmentOverrides(cm.GetDefaultConfig())

	if cfg.MemoryBudgetMB != 512 {
		t.Errorf("memory budget = %d, want 512", cfg.MemoryBudgetMB)
	}
	if cfg.WorkerCount != 6 {
		t.Errorf("worker count = %d, want 6", cfg.WorkerCount)
	}
	if cfg.ChunkSizeKB != 1024 {
		t.Errorf("chunk size = %d, want 1024", cfg.ChunkSizeKB)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Tracking == nil || cfg.Tracking.Enabled {
		t.Error("tracking should be disabled by environment override")
	}
}

func TestApplyEnvironmentOverridesInvalidValues(t *testing.T) {
	cm := NewConfigManager()

	t.Setenv("SONIX_MEMORY_BUDGET_MB", "lots")
	t.Setenv("SONIX_WORKERS", "-3")

	base := cm.GetDefaultConfig()
	cfg := cm.ApplyEnvironmentOverrides(base)

	if cfg.MemoryBudgetMB != base.MemoryBudgetMB {
		t.Errorf("invalid budget override applied: %d", cfg.MemoryBudgetMB)
	}
	if cfg.WorkerCount != base.WorkerCount {
		t.Errorf("invalid worker override applied: %d", cfg.WorkerCount)
	}
}

func TestMemoryBudgetBytes(t *testing.T) {
	cfg := &Config{MemoryBudgetMB: 3}
	if got := cfg.MemoryBudgetBytes(); got != 3*1024*1024 {
		t.Errorf("MemoryBudgetBytes() = %d", got)
	}
	cfg = &Config{ChunkSizeKB: 64}
	if got := cfg.ChunkSizeBytes(); got != 64*1024 {
		t.Errorf("ChunkSizeBytes() = %d", got)
	}
}

func TestApplyLogLevel(t *testing.T) {
	cm := NewConfigManager()

	var sink strings.Builder
	if err := cm.ApplyLogLevelWithWriter("debug", &sink); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := cm.ApplyLogLevelWithWriter("loud", &sink); err == nil {
		t.Error("expected error for invalid log level")
	}
	if err := cm.ApplyLogLevelWithWriter("", &sink); err != nil {
		t.Errorf("empty level should be a no-op, got %v", err)
	}
}
