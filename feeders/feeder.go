// Package feeders provides configuration feeders that populate a config
// struct from YAML, TOML and JSON files, environment variables and default
// struct tags.
package feeders

import (
	"errors"
	"fmt"
	"os"
	"reflect"
)

// Feeder populates a pointer to a config struct.
type Feeder interface {
	Feed(structure any) error
}

var (
	ErrInvalidStructure = errors.New("feeder: expected pointer to struct")
	ErrEmptyPrefix      = errors.New("env: prefix cannot be empty")
	ErrCannotConvert    = errors.New("cannot convert value to field type")
	ErrFieldCannotBeSet = errors.New("field cannot be set")
)

// readOptional reads path. A missing file is not an error for optional
// feeders and yields nil data.
func readOptional(path string, optional bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return data, nil
}

func isStructPointer(structure any) bool {
	t := reflect.TypeOf(structure)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct && !reflect.ValueOf(structure).IsNil()
}
