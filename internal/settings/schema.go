package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema holds explicit per-key rules that override the name heuristics.
//
//	keys:
//	  rpc_url:
//	    category: TRADING
//	    sensitive: false
//	    format: url
type Schema struct {
	Keys map[string]KeyRule `yaml:"keys"`
}

// KeyRule is the explicit treatment of one key.
type KeyRule struct {
	Category    Category `yaml:"category"`
	Sensitive   *bool    `yaml:"sensitive"`
	Format      string   `yaml:"format"`
	Description string   `yaml:"description"`
}

// LoadSchema reads a YAML schema file. An empty path yields an empty schema.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return &Schema{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and checks a YAML schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	for key, rule := range s.Keys {
		if !keyPattern.MatchString(key) {
			return nil, fmt.Errorf("schema key %q: invalid key name", key)
		}
		if rule.Category != "" && !rule.Category.Valid() {
			return nil, fmt.Errorf("schema key %q: unknown category %q", key, rule.Category)
		}
		if rule.Format != "" {
			if _, ok := formats[rule.Format]; !ok {
				return nil, fmt.Errorf("schema key %q: unknown format %q", key, rule.Format)
			}
		}
	}
	return &s, nil
}

// Rule returns the explicit rule for key, if any. A nil schema has no rules.
func (s *Schema) Rule(key string) (KeyRule, bool) {
	if s == nil {
		return KeyRule{}, false
	}
	r, ok := s.Keys[key]
	return r, ok
}
