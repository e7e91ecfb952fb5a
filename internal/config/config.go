// Package config loads and validates the manager's local process
// configuration from a TOML file, grounded on
// apache-incubator-horaedb-meta's server/config package, which parses its
// own process config with github.com/pelletier/go-toml/v2 rather than
// hand-rolled flag parsing.
package config

import (
	"os"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/segment"
	"github.com/pelletier/go-toml/v2"
)

// Config is the local process configuration: where to map segment files,
// where to listen for the admin API, and where to dial the bus.
type Config struct {
	MappedFileDir string `toml:"mapped_file_dir"`
	AdminListen   string `toml:"admin_listen"`
	BusAddr       string `toml:"bus_addr"`
	AuditDBPath   string `toml:"audit_db_path"`
}

// Load reads and validates the TOML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfigError, "read config file", err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, domain.WrapError(domain.KindConfigError, "parse config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field memmgr itself depends on being correct, as
// distinct from the data-source layer's own configuration format (out of
// scope).
func (c *Config) Validate() error {
	if c.MappedFileDir == "" {
		return domain.NewError(domain.KindConfigError, "mapped_file_dir must be set")
	}
	if err := segment.EnsureDir(c.MappedFileDir); err != nil {
		return domain.WrapError(domain.KindConfigError, "mapped_file_dir", err)
	}
	if c.AdminListen == "" {
		return domain.NewError(domain.KindConfigError, "admin_listen must be set")
	}
	if c.BusAddr == "" {
		return domain.NewError(domain.KindConfigError, "bus_addr must be set")
	}
	if c.AuditDBPath == "" {
		return domain.NewError(domain.KindConfigError, "audit_db_path must be set")
	}
	return nil
}

// Watcher holds the currently-adopted Config and applies reconfigurations
// with strong exception safety: a reconfiguration that fails validation
// leaves the prior configuration in place and returns the validation error
// instead of touching the in-memory copy.
type Watcher struct {
	current *Config
}

// NewWatcher seeds a Watcher with an already-validated initial config.
func NewWatcher(initial *Config) *Watcher {
	return &Watcher{current: initial}
}

// Current returns the presently adopted configuration.
func (w *Watcher) Current() *Config {
	return w.current
}

// Reconfigure validates next and, only on success, swaps it in as current.
// On failure the previous configuration is untouched.
func (w *Watcher) Reconfigure(next *Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	w.current = next
	return nil
}

// ReconfigureMappedFileDir applies a post-startup change to mapped_file_dir
// alone, leaving every other field as currently adopted. The candidate
// config is validated in full before it replaces current, so a bad
// directory (missing, unwritable) leaves the prior mapped_file_dir in
// place rather than partially applying the change.
func (w *Watcher) ReconfigureMappedFileDir(dir string) error {
	next := *w.current
	next.MappedFileDir = dir
	return w.Reconfigure(&next)
}
