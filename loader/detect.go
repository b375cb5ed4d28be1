// Package loader reads model definitions from YAML or JSON files.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the serialization of a model file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the format from the file extension (.yaml/.yml or
// .json). For any other extension, content starting with '{' is JSON and
// everything else is YAML.
func DetectFormat(data []byte, filePath string) Format {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// yamlToJSON converts YAML bytes to JSON bytes so that a single set of
// JSON tags and unmarshalers governs both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parsing YAML: empty document")
	}
	return json.Marshal(raw)
}

// toJSON returns data as JSON, converting from YAML when needed.
func toJSON(data []byte, path string) ([]byte, error) {
	if DetectFormat(data, path) == FormatYAML {
		return yamlToJSON(data)
	}
	return data, nil
}
