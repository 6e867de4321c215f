package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ManifestNames are the file names ManifestDir looks for, in preference order.
var ManifestNames = []string{"module.yaml", "module.yml", "module.json", "module.toml"}

// InstalledFile reads a package-manager style installed file: either a bare
// JSON/YAML array of packages or an object with a "packages" array.
// Relative install paths are resolved against the file's directory.
type InstalledFile struct {
	Path string
}

// NewInstalledFile returns a Source reading path.
func NewInstalledFile(path string) *InstalledFile {
	return &InstalledFile{Path: path}
}

// Packages implements Source.
func (f *InstalledFile) Packages(_ context.Context) ([]Package, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read installed packages: %w", err)
	}
	doc, err := toJSON(data, f.Path)
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(doc, &entries); err != nil {
		var wrapped struct {
			Packages []json.RawMessage `json:"packages"`
		}
		if err2 := json.Unmarshal(doc, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: %s: expected a package list", ErrInvalidManifest, f.Path)
		}
		entries = wrapped.Packages
	}

	base := filepath.Dir(f.Path)
	pkgs := make([]Package, 0, len(entries))
	for i, raw := range entries {
		p, err := decodeManifest(raw, fmt.Sprintf("%s[%d]", f.Path, i))
		if err != nil {
			return nil, err
		}
		if p.Dir != "" && !filepath.IsAbs(p.Dir) {
			p.Dir = filepath.Join(base, p.Dir)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// ManifestDir scans the immediate subdirectories of Root for a module
// manifest. Each package's Dir is its subdirectory.
type ManifestDir struct {
	Root string
}

// NewManifestDir returns a Source scanning root.
func NewManifestDir(root string) *ManifestDir {
	return &ManifestDir{Root: root}
}

// Packages implements Source.
func (d *ManifestDir) Packages(_ context.Context) ([]Package, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var pkgs []Package
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(d.Root, e.Name())
		path, ok, err := findManifest(dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		doc, err := toJSON(data, path)
		if err != nil {
			return nil, err
		}
		p, err := decodeManifest(doc, path)
		if err != nil {
			return nil, err
		}
		p.Dir = dir
		pkgs = append(pkgs, p)
	}

	slices.SortFunc(pkgs, func(a, b Package) int { return strings.Compare(a.Name, b.Name) })
	return pkgs, nil
}

func findManifest(dir string) (string, bool, error) {
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if err == nil {
			return path, true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("stat manifest: %w", err)
		}
	}
	return "", false, nil
}

// Merged combines several sources. When two sources provide the same package
// name the earlier source wins.
type Merged []Source

// Merge returns a Source over sources, skipping nil entries.
func Merge(sources ...Source) Merged {
	var out Merged
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Packages implements Source.
func (m Merged) Packages(ctx context.Context) ([]Package, error) {
	seen := make(map[string]bool)
	var out []Package
	for _, s := range m {
		pkgs, err := s.Packages(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range pkgs {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out, nil
}
