// Package config loads the orchestrator's YAML configuration: which
// features exist at which cadence, staleness thresholds, checkpoint and
// storage settings, and the external agent commands.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/regimelab/regimeflow/ledger"
)

// CadenceConfig lists the features sharing one update rhythm and, optionally,
// a threshold override for that rhythm.
type CadenceConfig struct {
	ThresholdDays int      `yaml:"threshold_days"`
	Features      []string `yaml:"features"`
}

// CoreConfig identifies the core feature artifact and its age limit.
type CoreConfig struct {
	Artifact      string `yaml:"artifact"`
	ThresholdDays int    `yaml:"threshold_days"`
}

// CommitConfig selects how trained artifacts are made durable.
type CommitConfig struct {
	// Backend is "dir" (copy into a directory) or "object" (S3-compatible).
	Backend string `yaml:"backend"`

	// Dir is the destination for the dir backend.
	Dir string `yaml:"dir"`

	// Object store settings for the object backend. Credentials normally
	// arrive via environment variables rather than the file.
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// WarehouseConfig configures the Postgres feature store.
type WarehouseConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// Config is the full orchestrator configuration.
type Config struct {
	// Cadences maps cadence name (daily, weekly, monthly) to its features.
	Cadences map[string]CadenceConfig `yaml:"cadences"`

	Core CoreConfig `yaml:"core"`

	// Checkpoints enables human review stages. Off, the graph wires
	// straight through.
	Checkpoints bool `yaml:"checkpoints"`

	// Agents maps stage names to the external commands that do the work.
	Agents map[string][]string `yaml:"agents"`

	OutputDir string `yaml:"output_dir"`
	LedgerDir string `yaml:"ledger_dir"`

	// Storage is "local" (CSV tree) or "warehouse" (Postgres).
	Storage   string          `yaml:"storage"`
	Warehouse WarehouseConfig `yaml:"warehouse"`

	Commit CommitConfig `yaml:"commit"`
}

// Feature is one trainable feature with its cadence.
type Feature struct {
	Name    string
	Cadence ledger.Cadence
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.LedgerDir == "" {
		c.LedgerDir = "ledger"
	}
	if c.Storage == "" {
		c.Storage = "local"
	}
	if c.Commit.Backend == "" {
		c.Commit.Backend = "dir"
	}
	if c.Commit.Backend == "dir" && c.Commit.Dir == "" {
		c.Commit.Dir = "artifacts"
	}
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	for name := range c.Cadences {
		switch ledger.Cadence(name) {
		case ledger.CadenceDaily, ledger.CadenceWeekly, ledger.CadenceMonthly:
		default:
			return fmt.Errorf("config: unknown cadence %q", name)
		}
	}
	if len(c.Features()) == 0 {
		return fmt.Errorf("config: no features configured")
	}
	if c.Core.Artifact == "" {
		return fmt.Errorf("config: core.artifact is required")
	}

	switch c.Storage {
	case "local":
	case "warehouse":
		if c.Warehouse.URL == "" {
			return fmt.Errorf("config: warehouse.url is required when storage is warehouse")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}

	switch c.Commit.Backend {
	case "dir":
		if c.Commit.Dir == "" {
			return fmt.Errorf("config: commit.dir is required for the dir backend")
		}
	case "object":
		if c.Commit.Endpoint == "" || c.Commit.Bucket == "" {
			return fmt.Errorf("config: commit.endpoint and commit.bucket are required for the object backend")
		}
	default:
		return fmt.Errorf("config: unknown commit backend %q", c.Commit.Backend)
	}

	return nil
}

// Features returns every configured feature with its cadence, sorted by
// cadence then name so callers iterate deterministically.
func (c *Config) Features() []Feature {
	var out []Feature
	for cadence, cc := range c.Cadences {
		for _, name := range cc.Features {
			out = append(out, Feature{Name: name, Cadence: ledger.Cadence(cadence)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cadence != out[j].Cadence {
			return out[i].Cadence < out[j].Cadence
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Thresholds returns the per-cadence age limits, with file overrides applied
// on top of the defaults.
func (c *Config) Thresholds() map[ledger.Cadence]int {
	out := make(map[ledger.Cadence]int, len(ledger.DefaultThresholds))
	for cadence, days := range ledger.DefaultThresholds {
		out[cadence] = days
	}
	for name, cc := range c.Cadences {
		if cc.ThresholdDays > 0 {
			out[ledger.Cadence(name)] = cc.ThresholdDays
		}
	}
	return out
}

// Checker builds a staleness checker configured from the file.
func (c *Config) Checker(l *ledger.Ledger) *ledger.Checker {
	return &ledger.Checker{
		Ledger:            l,
		Thresholds:        c.Thresholds(),
		CoreThresholdDays: c.Core.ThresholdDays,
	}
}
