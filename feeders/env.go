package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvFeeder reads environment variables named <PREFIX>_<env tag>. A envName
// struct field with its own env tag extends the prefix for its fields;
// without one it shares the parent's prefix.
type EnvFeeder struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder for prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, lookup: os.LookupEnv}
}

// WithLookup returns a copy of f that reads variables through lookup.
func (f EnvFeeder) WithLookup(lookup func(string) (string, bool)) EnvFeeder {
	f.lookup = lookup
	return f
}

// Feed populates structure from the environment.
func (f EnvFeeder) Feed(structure any) error {
	if !isStructPointer(structure) {
		return ErrInvalidStructure
	}
	if f.Prefix == "" {
		return ErrEmptyPrefix
	}
	lookup := f.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return fillFromEnv(reflect.ValueOf(structure).Elem(), strings.ToUpper(f.Prefix), lookup)
}

func fillFromEnv(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		tag, hasTag := fieldType.Tag.Lookup("env")
		envName := prefix
		if hasTag && tag != "" {
			envName = prefix + "_" + strings.ToUpper(tag)
		}

		switch {
		case field.Kind() == reflect.Struct:
			if err := fillFromEnv(field, envName, lookup); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
			if err := fillFromEnv(field.Elem(), envName, lookup); err != nil {
				return err
			}
			continue
		}

		if envName == prefix {
			continue
		}
		value, ok := lookup(envName)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// setFieldValue converts a string and assigns it to field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrCannotConvert, field.Type(), err)
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrCannotConvert, field.Type(), err)
	}
	cv := reflect.ValueOf(converted)
	if !cv.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("%w %s", ErrCannotConvert, field.Type())
	}
	field.Set(cv.Convert(field.Type()))
	return nil
}
