package modhost

import (
	"fmt"
	"time"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/feeders"
	"github.com/GoCodeAlone/modhost/store"
)

// AppConfig configures the collaborators of an Application.
//
// Example YAML configuration:
//
//	store:
//	  engine: sqlite
//	  path: var/state.db
//	cache:
//	  engine: redis
//	  redisURL: redis://localhost:6379/0
//	packages:
//	  installed: vendor/installed.json
//	  manifests: modules
//	watch:
//	  debounce: 500ms
type AppConfig struct {
	Store    store.Config      `json:"store" yaml:"store" toml:"store" env:"STORE" mapstructure:"store"`
	Cache    cache.CacheConfig `json:"cache" yaml:"cache" toml:"cache" env:"CACHE" mapstructure:"cache"`
	Packages PackagesConfig    `json:"packages" yaml:"packages" toml:"packages" env:"PACKAGES" mapstructure:"packages"`
	Watch    WatchConfig       `json:"watch" yaml:"watch" toml:"watch" env:"WATCH" mapstructure:"watch"`

	// Locale is the fallback locale of the translator.
	Locale string `json:"locale" yaml:"locale" toml:"locale" env:"LOCALE" mapstructure:"locale" default:"en"`
}

// PackagesConfig locates the installed package metadata.
type PackagesConfig struct {
	// Installed is a package-manager installed file (JSON or YAML).
	Installed string `json:"installed" yaml:"installed" toml:"installed" env:"INSTALLED" mapstructure:"installed"`

	// Manifests is a directory whose subdirectories hold module manifests.
	Manifests string `json:"manifests" yaml:"manifests" toml:"manifests" env:"MANIFESTS" mapstructure:"manifests"`
}

// WatchConfig configures the metadata watcher.
type WatchConfig struct {
	Debounce time.Duration `json:"debounce" yaml:"debounce" toml:"debounce" env:"DEBOUNCE" mapstructure:"debounce" default:"250ms"`
}

// DefaultConfig returns an AppConfig with every default applied.
func DefaultConfig() *AppConfig {
	cfg := &AppConfig{}
	_ = feeders.NewDefaultsFeeder().Feed(cfg)
	return cfg
}

// LoadConfig applies the `default` tags to cfg and then every feeder in
// order, so later feeders override earlier ones.
func LoadConfig(cfg *AppConfig, fs ...feeders.Feeder) error {
	if err := feeders.NewDefaultsFeeder().Feed(cfg); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}
	for _, f := range fs {
		if err := f.Feed(cfg); err != nil {
			return fmt.Errorf("feed config: %w", err)
		}
	}
	return nil
}
