package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{"providers":{"openai":{"model":"gpt-4o-mini","api_key":"${TEST_OPENAI_KEY}"}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.ContextWindowSize != 10 {
		t.Fatalf("default window not applied: %d", cfg.BasicConfig.ContextWindowSize)
	}
	if cfg.BasicConfig.MaxConcurrency != 3 {
		t.Fatalf("default concurrency not applied: %d", cfg.BasicConfig.MaxConcurrency)
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Fatalf("env expansion failed: %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.BasicConfig.Provider != "openai" {
		t.Fatalf("default provider not applied: %q", cfg.BasicConfig.Provider)
	}
	if cfg.BasicConfig.MinWorkers != 2 || cfg.BasicConfig.MaxWorkers != 8 || cfg.BasicConfig.QueueSize != 64 {
		t.Fatalf("worker defaults not applied: %+v", cfg.BasicConfig)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
