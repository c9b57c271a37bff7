// Package config loads twinscope settings from a YAML file and the
// environment.
//
// Precedence, lowest first: Default, the YAML file, TWINSCOPE_* variables,
// then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TWINSCOPE_"

// FileName is the config file looked up in the data directory.
const FileName = "twinscope.yaml"

// Config holds all settings.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Impact ImpactConfig `yaml:"impact"`
	Watch  WatchConfig  `yaml:"watch"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is memory, badger or sqlite.
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ImpactConfig holds the default propagation settings.
type ImpactConfig struct {
	Hops     int  `yaml:"hops"`
	Directed bool `yaml:"directed"`
}

// WatchConfig configures the drop directory watcher.
type WatchConfig struct {
	Dir        string        `yaml:"dir"`
	Debounce   time.Duration `yaml:"debounce"`
	AutoStitch bool          `yaml:"auto_stitch"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Store:  StoreConfig{Backend: "badger", DataDir: ".twinscope"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Impact: ImpactConfig{Hops: 1, Directed: true},
		Watch:  WatchConfig{Dir: "snapshots", Debounce: 500 * time.Millisecond},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path reads nothing from disk; a missing file is an error only
// when the path was given explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// DefaultPath returns the config file location inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Validate checks settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "badger", "sqlite":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Impact.Hops < 0 {
		return fmt.Errorf("impact.hops: must not be negative, got %d", c.Impact.Hops)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce: must not be negative, got %s", c.Watch.Debounce)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("STORE", &cfg.Store.Backend)
	str("DATA_DIR", &cfg.Store.DataDir)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("WATCH_DIR", &cfg.Watch.Dir)

	if err := boolean("SYNC_WRITES", &cfg.Store.SyncWrites); err != nil {
		return err
	}
	if err := boolean("DIRECTED", &cfg.Impact.Directed); err != nil {
		return err
	}
	if err := boolean("AUTO_STITCH", &cfg.Watch.AutoStitch); err != nil {
		return err
	}

	if v, ok := lookup(EnvPrefix + "HOPS"); ok {
		hops, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHOPS: %w", EnvPrefix, err)
		}
		cfg.Impact.Hops = hops
	}
	if v, ok := lookup(EnvPrefix + "DEBOUNCE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDEBOUNCE: %w", EnvPrefix, err)
		}
		cfg.Watch.Debounce = d
	}
	return nil
}
