package packages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const manifestSchemaURL = "modhost-manifest.schema.json"

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9_.-]*/[a-z0-9][a-z0-9_.-]*$"},
    "type": {"type": "string"},
    "version": {"type": "string"},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "install-path": {"type": "string"},
    "require": {"type": "object", "additionalProperties": {"type": "string"}},
    "extra": {
      "type": "object",
      "properties": {
        "modhost": {
          "type": "object",
          "properties": {
            "installer": {"type": "string"},
            "collector": {"type": "string"},
            "assets": {"type": "string"},
            "app-installer": {"type": "boolean"}
          },
          "additionalProperties": false
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(manifestSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(manifestSchemaURL)
})

// Validate checks one manifest document, already normalized to JSON.
func Validate(doc []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return nil
}

// decodeManifest validates and decodes a single package document.
func decodeManifest(doc []byte, source string) (Package, error) {
	var p Package
	if err := Validate(doc); err != nil {
		return p, fmt.Errorf("%s: %w", source, err)
	}
	if err := json.Unmarshal(doc, &p); err != nil {
		return p, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, source, err)
	}
	return p, nil
}

// toJSON normalizes a YAML, TOML or JSON document to JSON based on the file
// extension of name.
func toJSON(data []byte, name string) ([]byte, error) {
	var generic any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return data, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, name, err)
		}
	case ".toml":
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, name, err)
		}
		generic = m
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, name, err)
	}
	return out, nil
}
