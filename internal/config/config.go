package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor STOPSEARCH_CONFIG is set.
const DefaultPath = "config/stopsearch.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a stopsearch sync.
type Config struct {
	Source  Source  `yaml:"source"`
	Storage Storage `yaml:"storage"`
	Sync    Sync    `yaml:"sync"`
	Logging Logging `yaml:"logging"`
}

// Source describes the remote API and how politely to call it.
type Source struct {
	ForceID        string         `yaml:"force_id"`
	APIURLTemplate string         `yaml:"api_url_template"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	MaxRetries     *int           `yaml:"max_retries"` // nil means default; 0 disables retries
	Backoff        time.Duration  `yaml:"backoff"`
	Pause          *time.Duration `yaml:"pause"` // nil means default; 0s disables the pause
	UserAgent      string         `yaml:"user_agent"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DatasetPath string `yaml:"dataset_path"`
	LedgerPath  string `yaml:"ledger_path"`
}

// Sync controls gap computation and merge behaviour.
type Sync struct {
	EpochFloor string   `yaml:"epoch_floor"`
	Dedupe     *bool    `yaml:"dedupe"`
	DedupeKeys []string `yaml:"dedupe_keys"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.Source
	if s.ForceID == "" {
		s.ForceID = "metropolitan"
	}
	if s.APIURLTemplate == "" {
		s.APIURLTemplate = "https://data.police.uk/api/stops-force?force={force}&date={date}"
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 15 * time.Second
	}
	if s.MaxRetries == nil {
		n := 3
		s.MaxRetries = &n
	}
	if s.Backoff == 0 {
		s.Backoff = 2 * time.Second
	}
	if s.Pause == nil {
		d := time.Second
		s.Pause = &d
	}
	if s.UserAgent == "" {
		s.UserAgent = "stopsearch/0.1"
	}

	if cfg.Storage.DatasetPath == "" {
		cfg.Storage.DatasetPath = "/app/data/metropolitan_stops.csv"
	}

	if cfg.Sync.EpochFloor == "" {
		cfg.Sync.EpochFloor = "2025-01-01"
	}
	if cfg.Sync.Dedupe == nil {
		off := false
		cfg.Sync.Dedupe = &off
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults and environment variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to defaults plus
// environment overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return finish(&Config{})
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORCE_ID"); v != "" {
		cfg.Source.ForceID = v
	}
	if v := os.Getenv("API_URL_TEMPLATE"); v != "" {
		cfg.Source.APIURLTemplate = v
	}
	if v := os.Getenv("DATASET_PATH"); v != "" {
		cfg.Storage.DatasetPath = v
	}
	if v := os.Getenv("LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}
	if v := os.Getenv("EPOCH_FLOOR"); v != "" {
		cfg.Sync.EpochFloor = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

// ---------------------------------------------------------------------------
// Validation and accessors
// ---------------------------------------------------------------------------

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.ForceID) == "" {
		return errors.New("config: source.force_id is required")
	}
	if !strings.Contains(c.Source.APIURLTemplate, "{date}") {
		return fmt.Errorf("config: source.api_url_template %q has no {date} placeholder", c.Source.APIURLTemplate)
	}
	if n := c.Source.RetryCount(); n < 0 {
		return fmt.Errorf("config: source.max_retries must be >= 0, got %d", n)
	}
	if p := c.Source.PauseInterval(); p < 0 {
		return fmt.Errorf("config: source.pause must be >= 0, got %v", p)
	}
	if c.Storage.DatasetPath == "" {
		return errors.New("config: storage.dataset_path is required")
	}
	if _, err := c.EpochFloor(); err != nil {
		return err
	}
	return nil
}

// EpochFloor returns the parsed sync.epoch_floor. Both "YYYY-MM-DD" and RFC
// 3339 forms are accepted.
func (c *Config) EpochFloor() (time.Time, error) {
	s := c.Sync.EpochFloor
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: sync.epoch_floor %q is not a date", s)
	}
	return t, nil
}

// DedupeEnabled reports whether merged datasets are de-duplicated. Records
// carry no identifier, so this is off unless configured.
func (c *Config) DedupeEnabled() bool {
	return c.Sync.Dedupe != nil && *c.Sync.Dedupe
}

// RetryCount returns the number of retries after the first attempt. Unset
// means none.
func (s Source) RetryCount() int {
	if s.MaxRetries == nil {
		return 0
	}
	return *s.MaxRetries
}

// PauseInterval returns the pause between requests. Unset or zero disables
// the pause.
func (s Source) PauseInterval() time.Duration {
	if s.Pause == nil {
		return 0
	}
	return *s.Pause
}
