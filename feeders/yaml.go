package feeders

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads a YAML file.
type YamlFeeder struct {
	Path     string
	Optional bool
}

// NewYamlFeeder creates a YamlFeeder for filePath.
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the file into structure.
func (y YamlFeeder) Feed(structure any) error {
	if !isStructPointer(structure) {
		return ErrInvalidStructure
	}
	data, err := readOptional(y.Path, y.Optional)
	if err != nil || data == nil {
		return err
	}
	if err := yaml.Unmarshal(data, structure); err != nil {
		return fmt.Errorf("yaml: %s: %w", y.Path, err)
	}
	return nil
}

// FeedKey decodes only the value under key into target. A missing key
// leaves target untouched.
func (y YamlFeeder) FeedKey(key string, target any) error {
	data, err := readOptional(y.Path, y.Optional)
	if err != nil || data == nil {
		return err
	}

	var all map[string]yaml.Node
	if err := yaml.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("yaml: %s: %w", y.Path, err)
	}
	node, ok := all[key]
	if !ok {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("yaml: %s: key %s: %w", y.Path, key, err)
	}
	return nil
}
