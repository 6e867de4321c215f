package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLFile is a Store persisted as a single YAML document of flat keys. The
// whole document is rewritten on every mutation through a temp file and a
// rename, so readers in other processes never observe a partial write.
type YAMLFile struct {
	mu    sync.RWMutex
	path  string
	items map[string]any
}

// OpenYAMLFile loads path, treating a missing file as an empty document.
func OpenYAMLFile(path string) (*YAMLFile, error) {
	f := &YAMLFile{path: path, items: make(map[string]any)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f.items); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if f.items == nil {
		f.items = make(map[string]any)
	}
	return f, nil
}

// Read implements Store.
func (f *YAMLFile) Read(_ context.Context, key string, dst any) (bool, error) {
	f.mu.RLock()
	v, ok := f.items[key]
	f.mu.RUnlock()
	if !ok {
		return false, nil
	}

	// Round-trip through YAML so dst receives typed values.
	raw, err := yaml.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("store: encode %q: %w", key, err)
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return true, nil
}

// Write implements Store.
func (f *YAMLFile) Write(_ context.Context, key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("store: normalize %q: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = generic
	return f.flush()
}

// Delete implements Store.
func (f *YAMLFile) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return nil
	}
	delete(f.items, key)
	return f.flush()
}

// Keys implements Store.
func (f *YAMLFile) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Close implements Store.
func (f *YAMLFile) Close() error { return nil }

// flush writes the document; callers hold f.mu.
func (f *YAMLFile) flush() error {
	data, err := yaml.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("store: encode document: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".modhost-state-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	return nil
}
