package feeders

import (
	"fmt"
	"reflect"
)

// DefaultsFeeder fills zero-valued fields from their `default` struct tag.
type DefaultsFeeder struct{}

// NewDefaultsFeeder creates a DefaultsFeeder.
func NewDefaultsFeeder() DefaultsFeeder {
	return DefaultsFeeder{}
}

// Feed applies defaults to structure.
func (DefaultsFeeder) Feed(structure any) error {
	if !isStructPointer(structure) {
		return ErrInvalidStructure
	}
	return applyDefaults(reflect.ValueOf(structure).Elem())
}

func applyDefaults(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		def, ok := fieldType.Tag.Lookup("default")
		if !ok || !field.IsZero() {
			continue
		}
		if err := setFieldValue(field, def); err != nil {
			return fmt.Errorf("default for field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}
