package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads a TOML file.
type TomlFeeder struct {
	Path     string
	Optional bool
}

// NewTomlFeeder creates a TomlFeeder for filePath.
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the file into structure.
func (t TomlFeeder) Feed(structure any) error {
	if !isStructPointer(structure) {
		return ErrInvalidStructure
	}
	data, err := readOptional(t.Path, t.Optional)
	if err != nil || data == nil {
		return err
	}
	if _, err := toml.Decode(string(data), structure); err != nil {
		return fmt.Errorf("toml: %s: %w", t.Path, err)
	}
	return nil
}
