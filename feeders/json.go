package feeders

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// JSONFeeder reads a JSON file.
type JSONFeeder struct {
	Path     string
	Optional bool
}

// NewJSONFeeder creates a JSONFeeder for filePath.
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

// Feed decodes the file into structure. The document is checked as JSON and
// then decoded by yaml.v3 so durations may be written as strings ("30s").
func (j JSONFeeder) Feed(structure any) error {
	if !isStructPointer(structure) {
		return ErrInvalidStructure
	}
	data, err := readOptional(j.Path, j.Optional)
	if err != nil || data == nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("json: %s: malformed document", j.Path)
	}
	if err := yaml.Unmarshal(data, structure); err != nil {
		return fmt.Errorf("json: %s: %w", j.Path, err)
	}
	return nil
}
