package packages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestModhostExtra(t *testing.T) {
	p := Package{
		Name: "acme/blog",
		Extra: map[string]any{
			"modhost": map[string]any{
				"installer":     "blog.installer",
				"collector":     "blog.collector",
				"assets":        "public",
				"app-installer": true,
			},
		},
	}
	e, err := p.ModhostExtra()
	require.NoError(t, err)
	assert.Equal(t, Extra{Installer: "blog.installer", Collector: "blog.collector", Assets: "public", AppInstaller: true}, e)

	e, err = Package{Name: "acme/plain"}.ModhostExtra()
	require.NoError(t, err)
	assert.Equal(t, Extra{}, e)

	_, err = Package{Name: "acme/bad", Extra: map[string]any{"modhost": map[string]any{"installer": 3}}}.ModhostExtra()
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestStaticSource(t *testing.T) {
	s := NewStatic(Package{Name: "acme/a"})
	s.Add(Package{Name: "acme/b"})

	pkgs, err := s.Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	pkgs[0].Name = "mutated"
	again, err := s.Packages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme/a", again[0].Name)

	s.Set(Package{Name: "acme/c"})
	again, err = s.Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "acme/c", again[0].Name)
}

func TestInstalledFileComposerLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "installed.json")
	writeFile(t, path, `{
  "packages": [
    {"name": "acme/core", "type": "modhost-module", "version": "1.2.0", "install-path": "core"},
    {"name": "acme/blog", "type": "modhost-module", "install-path": "/opt/blog",
     "require": {"acme/core": "^1.0"},
     "extra": {"modhost": {"installer": "blog.installer"}}},
    {"name": "psr/log", "type": "library"}
  ]
}`)

	pkgs, err := NewInstalledFile(path).Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 3)

	assert.Equal(t, "acme/core", pkgs[0].Name)
	assert.Equal(t, filepath.Join(dir, "core"), pkgs[0].Dir)
	assert.Equal(t, "/opt/blog", pkgs[1].Dir)
	assert.Equal(t, map[string]string{"acme/core": "^1.0"}, pkgs[1].Require)

	e, err := pkgs[1].ModhostExtra()
	require.NoError(t, err)
	assert.Equal(t, "blog.installer", e.Installer)
	assert.Equal(t, "library", pkgs[2].Type)
}

func TestInstalledFileBareYAMLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installed.yaml")
	writeFile(t, path, `
- name: acme/core
  type: modhost-module
  version: "1.0.0"
- name: acme/shop
  type: modhost-module
  require:
    acme/core: "*"
`)

	pkgs, err := NewInstalledFile(path).Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "1.0.0", pkgs[0].Version)
	assert.Equal(t, map[string]string{"acme/core": "*"}, pkgs[1].Require)
}

func TestInstalledFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewInstalledFile(filepath.Join(dir, "missing.json")).Packages(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `[{"name": "NoSlash"}]`)
	_, err = NewInstalledFile(bad).Packages(context.Background())
	assert.ErrorIs(t, err, ErrInvalidManifest)

	scalar := filepath.Join(dir, "scalar.json")
	writeFile(t, scalar, `"nope"`)
	_, err = NewInstalledFile(scalar).Packages(context.Background())
	assert.ErrorIs(t, err, ErrInvalidManifest)

	ini := filepath.Join(dir, "installed.ini")
	writeFile(t, ini, `name=acme/x`)
	_, err = NewInstalledFile(ini).Packages(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestManifestDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shop", "module.yaml"), `
name: acme/shop
type: modhost-module
title: Shop
require:
  acme/core: "*"
extra:
  modhost:
    collector: shop.collector
    assets: public
`)
	writeFile(t, filepath.Join(root, "core", "module.toml"), `
name = "acme/core"
type = "modhost-module"
version = "2.0.0"
`)
	writeFile(t, filepath.Join(root, "api", "module.json"), `{"name": "acme/api", "type": "modhost-module"}`)
	writeFile(t, filepath.Join(root, "notes", "README.md"), "not a module")
	writeFile(t, filepath.Join(root, ".hidden", "module.json"), `{"name": "acme/hidden"}`)
	writeFile(t, filepath.Join(root, "stray.json"), `{}`)

	pkgs, err := NewManifestDir(root).Packages(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"acme/api", "acme/core", "acme/shop"}, names)

	assert.Equal(t, "2.0.0", pkgs[1].Version)
	assert.Equal(t, filepath.Join(root, "shop"), pkgs[2].Dir)
	assert.Equal(t, "Shop", pkgs[2].Title)

	e, err := pkgs[2].ModhostExtra()
	require.NoError(t, err)
	assert.Equal(t, "shop.collector", e.Collector)
	assert.Equal(t, "public", e.Assets)
}

func TestManifestDirRejectsUnknownExtraKeys(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "module.yaml"), `
name: acme/x
extra:
  modhost:
    installr: typo
`)
	_, err := NewManifestDir(root).Packages(context.Background())
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]byte(`{"name":"acme/ok"}`)))
	assert.ErrorIs(t, Validate([]byte(`{"type":"modhost-module"}`)), ErrInvalidManifest)
	assert.ErrorIs(t, Validate([]byte(`{"name":"acme/ok","require":{"acme/b":1}}`)), ErrInvalidManifest)
	assert.ErrorIs(t, Validate([]byte(`not json`)), ErrInvalidManifest)
}

func TestMerge(t *testing.T) {
	first := NewStatic(Package{Name: "acme/a", Version: "1"}, Package{Name: "acme/b"})
	second := NewStatic(Package{Name: "acme/a", Version: "2"}, Package{Name: "acme/c"})

	pkgs, err := Merge(first, nil, second).Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	assert.Equal(t, "1", pkgs[0].Version)
	assert.Equal(t, "acme/c", pkgs[2].Name)
}
