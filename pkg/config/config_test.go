package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.ConcurrencyLimit != 4 {
		t.Errorf("ConcurrencyLimit = %d, want 4", cfg.Queue.ConcurrencyLimit)
	}
	if cfg.Flows.MaxReviewAttempts != 2 {
		t.Errorf("MaxReviewAttempts = %d, want 2", cfg.Flows.MaxReviewAttempts)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Gate.StrictTools {
		t.Error("StrictTools should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
queue:
  concurrency_limit: 8
  backlog_ceiling: 32
flows:
  max_review_attempts: 5
providers:
  - id: main
    type: openai
    endpoint: http://localhost:11434/v1
    model: test-model
    roles: [generalist, coder]
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Queue.ConcurrencyLimit != 8 {
		t.Errorf("ConcurrencyLimit = %d, want 8", cfg.Queue.ConcurrencyLimit)
	}
	if cfg.Queue.BacklogCeiling != 32 {
		t.Errorf("BacklogCeiling = %d, want 32", cfg.Queue.BacklogCeiling)
	}
	if cfg.Flows.MaxReviewAttempts != 5 {
		t.Errorf("MaxReviewAttempts = %d, want 5", cfg.Flows.MaxReviewAttempts)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].ID != "main" {
		t.Fatalf("Providers = %+v, want one provider 'main'", cfg.Providers)
	}
	if len(cfg.Providers[0].Roles) != 2 {
		t.Errorf("Roles = %v, want 2 roles", cfg.Providers[0].Roles)
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("SPINDLE_TEST_KEY", "sekrit")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
providers:
  - id: main
    api_key: ${SPINDLE_TEST_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Providers[0].APIKey != "sekrit" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Providers[0].APIKey)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  concurrency_limit: 2\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("queue:\n  concurrency_limit: 7\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Queue.ConcurrencyLimit != 7 {
			t.Errorf("ConcurrencyLimit = %d, want 7", cfg.Queue.ConcurrencyLimit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
