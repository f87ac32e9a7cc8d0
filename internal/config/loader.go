// Package config loads and validates run manifests.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a run manifest from the provided path. Files ending in .json or
// .jsonc may contain comments and trailing commas.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return doc, nil
}

// Parse decodes, schema-checks, defaults and validates a manifest. JSON is
// accepted as a subset of YAML.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	expandValues(raw)
	if err := checkSchema(raw); err != nil {
		return nil, err
	}

	expanded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := doc.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func expandValues(doc map[string]any) {
	for key, value := range doc {
		doc[key] = expandValue(value)
	}
}

func expandValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		expandValues(typed)
		return typed
	case []any:
		for i, elem := range typed {
			typed[i] = expandValue(elem)
		}
		return typed
	case string:
		return expandEnv(typed)
	default:
		return value
	}
}

// expandEnv expands $VAR, ${VAR} and ${VAR:-default}.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasDefault := strings.Cut(key, ":-")
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if hasDefault {
			return fallback
		}
		return ""
	})
}
