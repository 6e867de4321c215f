// Package store provides the persistent key/value state store used to record
// module states and registered collector kinds.
//
// Keys are flat dotted strings ("modules.vendor/name", "collectors.routes").
// Values are encoded as JSON by the memory and SQLite engines and as YAML by
// the file engine, so any value accepted by encoding/json may be written.
package store

import (
	"context"
	"fmt"
)

// Store is the state/config store collaborator.
type Store interface {
	// Read decodes the value stored under key into dst. It reports false when
	// the key does not exist, leaving dst untouched.
	Read(ctx context.Context, key string, dst any) (bool, error)

	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key string, value any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Reader is the read-only view of a Store.
type Reader interface {
	Read(ctx context.Context, key string, dst any) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type readOnly struct {
	s Store
}

func (r readOnly) Read(ctx context.Context, key string, dst any) (bool, error) {
	return r.s.Read(ctx, key, dst)
}

func (r readOnly) Keys(ctx context.Context, prefix string) ([]string, error) {
	return r.s.Keys(ctx, prefix)
}

// ReadOnly hides the write methods of s, including from type assertions.
func ReadOnly(s Store) Reader {
	return readOnly{s: s}
}

// ReadOr reads key into a T, returning def when the key is missing.
func ReadOr[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	var v T
	ok, err := s.Read(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// ReadInt reads an integer value, returning def when the key is missing.
func ReadInt(ctx context.Context, s Store, key string, def int) (int, error) {
	return ReadOr(ctx, s, key, def)
}

// Config selects and configures a store engine.
type Config struct {
	// Engine is one of "memory", "sqlite" or "yaml".
	Engine string `json:"engine" yaml:"engine" toml:"engine" env:"ENGINE" mapstructure:"engine" default:"memory"`

	// Path is the database or document path for the sqlite and yaml engines.
	Path string `json:"path" yaml:"path" toml:"path" env:"PATH" mapstructure:"path"`
}

// Open builds the store engine named by cfg.Engine.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Engine {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: sqlite engine", ErrPathRequired)
		}
		return OpenSQLite(ctx, cfg.Path)
	case "yaml":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: yaml engine", ErrPathRequired)
		}
		return OpenYAMLFile(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, cfg.Engine)
	}
}
