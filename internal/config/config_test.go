package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FORCE_ID", "API_URL_TEMPLATE", "DATASET_PATH", "LEDGER_PATH", "EPOCH_FLOOR", "LOG_LEVEL", "LOG_FILE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stopsearch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
source:
  force_id: "west-yorkshire"
  api_url_template: "http://localhost/api?force={force}&date={date}"
  request_timeout: 5s
  max_retries: 2
  backoff: 500ms
  pause: 250ms
storage:
  dataset_path: "/tmp/stopsearch/data.csv"
  ledger_path: "/tmp/stopsearch/ledger.db"
sync:
  epoch_floor: "2024-06-01"
  dedupe: true
  dedupe_keys: ["datetime", "latitude"]
logging:
  level: "debug"
  format: "json"
  file: "/tmp/stopsearch/update.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Source --
	if cfg.Source.ForceID != "west-yorkshire" {
		t.Errorf("Source.ForceID = %q, want %q", cfg.Source.ForceID, "west-yorkshire")
	}
	if cfg.Source.RequestTimeout != 5*time.Second {
		t.Errorf("Source.RequestTimeout = %v, want 5s", cfg.Source.RequestTimeout)
	}
	if cfg.Source.RetryCount() != 2 {
		t.Errorf("Source.RetryCount() = %d, want 2", cfg.Source.RetryCount())
	}
	if cfg.Source.Backoff != 500*time.Millisecond {
		t.Errorf("Source.Backoff = %v, want 500ms", cfg.Source.Backoff)
	}
	if cfg.Source.PauseInterval() != 250*time.Millisecond {
		t.Errorf("Source.PauseInterval() = %v, want 250ms", cfg.Source.PauseInterval())
	}

	// -- Storage --
	if cfg.Storage.DatasetPath != "/tmp/stopsearch/data.csv" {
		t.Errorf("Storage.DatasetPath = %q", cfg.Storage.DatasetPath)
	}
	if cfg.Storage.LedgerPath != "/tmp/stopsearch/ledger.db" {
		t.Errorf("Storage.LedgerPath = %q", cfg.Storage.LedgerPath)
	}

	// -- Sync --
	floor, err := cfg.EpochFloor()
	if err != nil {
		t.Fatalf("EpochFloor: %v", err)
	}
	if !floor.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EpochFloor = %v, want 2024-06-01", floor)
	}
	if !cfg.DedupeEnabled() {
		t.Error("DedupeEnabled() = false, want true")
	}
	if len(cfg.Sync.DedupeKeys) != 2 {
		t.Errorf("Sync.DedupeKeys = %v", cfg.Sync.DedupeKeys)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "source:\n  force_id: kent\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Source.ForceID != "kent" {
		t.Errorf("Source.ForceID = %q, want kent", cfg.Source.ForceID)
	}
	if cfg.Source.APIURLTemplate != "https://data.police.uk/api/stops-force?force={force}&date={date}" {
		t.Errorf("Source.APIURLTemplate = %q", cfg.Source.APIURLTemplate)
	}
	if cfg.Source.RequestTimeout != 15*time.Second {
		t.Errorf("Source.RequestTimeout = %v, want 15s", cfg.Source.RequestTimeout)
	}
	if cfg.Source.RetryCount() != 3 {
		t.Errorf("Source.RetryCount() = %d, want 3", cfg.Source.RetryCount())
	}
	if cfg.Source.PauseInterval() != time.Second {
		t.Errorf("Source.PauseInterval() = %v, want 1s", cfg.Source.PauseInterval())
	}
	if cfg.Sync.EpochFloor != "2025-01-01" {
		t.Errorf("Sync.EpochFloor = %q, want 2025-01-01", cfg.Sync.EpochFloor)
	}
	if cfg.DedupeEnabled() {
		t.Error("DedupeEnabled() should default to false")
	}
	if cfg.Storage.LedgerPath != "" {
		t.Errorf("Storage.LedgerPath should default to empty, got %q", cfg.Storage.LedgerPath)
	}
}

func TestLoadExplicitZeroDisablesRetriesAndPause(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "source:\n  max_retries: 0\n  pause: 0s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Source.RetryCount() != 0 {
		t.Errorf("Source.RetryCount() = %d, want 0", cfg.Source.RetryCount())
	}
	if cfg.Source.PauseInterval() != 0 {
		t.Errorf("Source.PauseInterval() = %v, want 0", cfg.Source.PauseInterval())
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "source:\n  force_id: kent\nstorage:\n  dataset_path: /a.csv\n")

	t.Setenv("FORCE_ID", "essex")
	t.Setenv("DATASET_PATH", "/b.csv")
	t.Setenv("EPOCH_FLOOR", "2023-01-01")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Source.ForceID != "essex" {
		t.Errorf("Source.ForceID = %q, want essex", cfg.Source.ForceID)
	}
	if cfg.Storage.DatasetPath != "/b.csv" {
		t.Errorf("Storage.DatasetPath = %q, want /b.csv", cfg.Storage.DatasetPath)
	}
	if cfg.Sync.EpochFloor != "2023-01-01" {
		t.Errorf("Sync.EpochFloor = %q, want 2023-01-01", cfg.Sync.EpochFloor)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Source.ForceID != "metropolitan" {
		t.Errorf("Source.ForceID = %q, want metropolitan", cfg.Source.ForceID)
	}
	if cfg.Storage.DatasetPath != "/app/data/metropolitan_stops.csv" {
		t.Errorf("Storage.DatasetPath = %q", cfg.Storage.DatasetPath)
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty force", func(c *Config) { c.Source.ForceID = " " }},
		{"template without date", func(c *Config) { c.Source.APIURLTemplate = "http://x/{force}" }},
		{"bad epoch floor", func(c *Config) { c.Sync.EpochFloor = "last tuesday" }},
		{"negative retries", func(c *Config) { n := -1; c.Source.MaxRetries = &n }},
		{"negative pause", func(c *Config) { d := -time.Second; c.Source.Pause = &d }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}
