// Package packages reads installed package descriptors, the only data source
// the module directory uses to discover modules.
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ExtraKey is the key of the framework's block inside Package.Extra.
const ExtraKey = "modhost"

var (
	ErrInvalidManifest = errors.New("invalid package manifest")
	ErrUnsupportedFile = errors.New("unsupported manifest format")
)

// Package is one installed package descriptor.
type Package struct {
	Name        string            `json:"name" yaml:"name" toml:"name"`
	Type        string            `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Dir         string            `json:"install-path,omitempty" yaml:"install-path,omitempty" toml:"install-path,omitempty"`
	Require     map[string]string `json:"require,omitempty" yaml:"require,omitempty" toml:"require,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty" yaml:"extra,omitempty" toml:"extra,omitempty"`
}

// Extra is the decoded framework block of a package's extra metadata.
type Extra struct {
	// Installer names the container binding of the installer hook object.
	Installer string `json:"installer,omitempty"`
	// Collector names the container binding of the contributor object.
	Collector string `json:"collector,omitempty"`
	// Assets is the assets directory, relative to the package directory.
	Assets string `json:"assets,omitempty"`
	// AppInstaller marks a module used only during application setup.
	AppInstaller bool `json:"app-installer,omitempty"`
}

// ModhostExtra decodes the framework block of p.Extra. A missing block yields
// the zero Extra.
func (p Package) ModhostExtra() (Extra, error) {
	var e Extra
	block, ok := p.Extra[ExtraKey]
	if !ok || block == nil {
		return e, nil
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return e, fmt.Errorf("%w: %s: extra.%s: %w", ErrInvalidManifest, p.Name, ExtraKey, err)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("%w: %s: extra.%s: %w", ErrInvalidManifest, p.Name, ExtraKey, err)
	}
	return e, nil
}

// Source provides installed package descriptors.
type Source interface {
	Packages(ctx context.Context) ([]Package, error)
}

// Static is an in-memory Source.
type Static struct {
	pkgs []Package
}

// NewStatic returns a Source over pkgs.
func NewStatic(pkgs ...Package) *Static {
	return &Static{pkgs: pkgs}
}

// Set replaces the package list.
func (s *Static) Set(pkgs ...Package) {
	s.pkgs = pkgs
}

// Add appends packages.
func (s *Static) Add(pkgs ...Package) {
	s.pkgs = append(s.pkgs, pkgs...)
}

// Packages implements Source.
func (s *Static) Packages(context.Context) ([]Package, error) {
	out := make([]Package, len(s.pkgs))
	copy(out, s.pkgs)
	return out, nil
}
