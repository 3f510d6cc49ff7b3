package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"fxhist/internal/domain"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultDataDir    = "data"
	DefaultTable      = "fx_m1"
	DefaultSink       = "sqlite"
	DefaultImputeMax  = 5
	DefaultBackfill   = 60
	DefaultTimeout    = 20 * time.Second
	DefaultRetries    = 2
	DefaultMaxWorkers = 1
	DefaultChunkSize  = 200_000
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level batch configuration.
type Config struct {
	Storage Storage            `yaml:"storage"`
	Logging Logging            `yaml:"logging"`
	Archive Archive            `yaml:"archive"`
	Batch   Batch              `yaml:"batch"`
	Symbols map[string]*Symbol `yaml:"symbols"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir"`
	SQLitePath   string `yaml:"sqlite_path"`
	Table        string `yaml:"table"`
	Sink         string `yaml:"sink"` // sqlite | parquet | none
	TickCacheDir string `yaml:"tick_cache_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Archive configures the tick-archive backfill client.
type Archive struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	Retries           *int          `yaml:"retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PriceScale        float64       `yaml:"price_scale"`
}

// Batch controls how symbols are scheduled.
type Batch struct {
	MaxWorkers int    `yaml:"max_workers"`
	ChunkSize  int    `yaml:"chunk_size"`
	RunReport  string `yaml:"run_report"`
}

// Symbol is the per-symbol job description. Pointer fields distinguish an
// explicit zero from an omitted key.
type Symbol struct {
	InputGlobs  []string             `yaml:"input_globs"`
	ImputeMax   *int                 `yaml:"impute_max"`
	BackfillMax *int                 `yaml:"backfill_max"`
	Sessions    []domain.SessionSpec `yaml:"sessions"`
	QC          *QC                  `yaml:"qc"`
	OutCSV      string               `yaml:"out_csv"`
	GapReport   string               `yaml:"gap_report"`
}

// QC overrides parts of the default hour QC policy.
type QC struct {
	MinFillRatio *float64 `yaml:"min_fill_ratio"`
	MinBarsAbs   *int     `yaml:"min_bars_abs"`
}

// Impute returns the small-gap threshold in minutes.
func (s *Symbol) Impute() int {
	if s.ImputeMax == nil {
		return DefaultImputeMax
	}
	return *s.ImputeMax
}

// Backfill returns the longest gap, in minutes, sent to the archive.
func (s *Symbol) Backfill() int {
	if s.BackfillMax == nil {
		return DefaultBackfill
	}
	return *s.BackfillMax
}

// Policy returns the QC policy, filling omitted fields from the defaults.
func (s *Symbol) Policy() domain.QCPolicy {
	p := domain.DefaultQCPolicy
	if s.QC == nil {
		return p
	}
	if s.QC.MinFillRatio != nil {
		p.MinFillRatio = *s.QC.MinFillRatio
	}
	if s.QC.MinBarsAbs != nil {
		p.MinBarsAbs = *s.QC.MinBarsAbs
	}
	return p
}

// ArchiveRetries returns the configured retry count after the first attempt.
func (c *Config) ArchiveRetries() int {
	if c.Archive.Retries == nil {
		return DefaultRetries
	}
	return *c.Archive.Retries
}

// SymbolNames returns the configured symbols in sorted order.
func (c *Config) SymbolNames() []string {
	names := make([]string, 0, len(c.Symbols))
	for name := range c.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %v", domain.ErrConfig, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FXHIST_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("DUKASCOPY_BASE_URL"); v != "" {
		cfg.Archive.BaseURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "fxhist.db")
	}
	if c.Storage.Table == "" {
		c.Storage.Table = DefaultTable
	}
	if c.Storage.Sink == "" {
		c.Storage.Sink = DefaultSink
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = DefaultTimeout
	}
	if c.Batch.MaxWorkers == 0 {
		c.Batch.MaxWorkers = DefaultMaxWorkers
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = DefaultChunkSize
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports the first configuration problem as an ErrConfig.
func (c *Config) Validate() error {
	switch c.Storage.Sink {
	case "sqlite", "parquet", "none":
	default:
		return fmt.Errorf("%w: storage.sink %q must be sqlite, parquet or none", domain.ErrConfig, c.Storage.Sink)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q must be text or json", domain.ErrConfig, c.Logging.Format)
	}
	if c.Archive.Timeout < 0 {
		return fmt.Errorf("%w: archive.timeout must be positive", domain.ErrConfig)
	}
	if c.Archive.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: archive.requests_per_second must not be negative", domain.ErrConfig)
	}
	if c.Archive.PriceScale < 0 {
		return fmt.Errorf("%w: archive.price_scale must not be negative", domain.ErrConfig)
	}
	if c.Batch.MaxWorkers < 1 {
		return fmt.Errorf("%w: batch.max_workers must be at least 1", domain.ErrConfig)
	}
	if c.Batch.ChunkSize < 1 {
		return fmt.Errorf("%w: batch.chunk_size must be at least 1", domain.ErrConfig)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols configured", domain.ErrConfig)
	}
	for _, name := range c.SymbolNames() {
		if err := c.Symbols[name].validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Symbol) validate(name string) error {
	if s == nil {
		return fmt.Errorf("%w: symbol %s has no settings", domain.ErrConfig, name)
	}
	if len(s.InputGlobs) == 0 {
		return fmt.Errorf("%w: symbol %s: input_globs is empty", domain.ErrConfig, name)
	}
	if s.Impute() < 0 {
		return fmt.Errorf("%w: symbol %s: impute_max must not be negative", domain.ErrConfig, name)
	}
	if s.Backfill() < 0 {
		return fmt.Errorf("%w: symbol %s: backfill_max must not be negative", domain.ErrConfig, name)
	}
	for _, sp := range s.Sessions {
		if _, err := sp.Compile(); err != nil {
			return fmt.Errorf("symbol %s: %w", name, err)
		}
	}
	if err := s.Policy().Validate(); err != nil {
		return fmt.Errorf("symbol %s: %w", name, err)
	}
	return nil
}
