// Package parse decodes edit documents supplied as JSON or YAML.
package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a format from a file extension. Unknown extensions
// return "" so the content is inspected instead.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// DetectFormat sniffs data. Documents opening with a brace or bracket are
// JSON when they parse as JSON, otherwise YAML flow style. Anything else
// must be a YAML mapping or sequence; a bare scalar is rejected.
func DetectFormat(data []byte) (Format, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", errors.New("empty document")
	}

	flow := trimmed[0] == '{' || trimmed[0] == '['
	if flow && json.Valid(trimmed) {
		return FormatJSON, nil
	}

	var doc any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		if flow {
			return "", errors.New("input appears to be JSON but is invalid")
		}
		return "", fmt.Errorf("invalid YAML: %w", err)
	}
	switch doc.(type) {
	case map[string]any, []any:
		return FormatYAML, nil
	}
	return "", errors.New("document is not a mapping")
}

// Decode decodes data into v. A blank format is detected from the content.
// Fields that v does not declare are rejected so a misspelt key is not
// silently dropped.
func Decode(data []byte, format Format, v any) error {
	if format == "" {
		detected, err := DetectFormat(data)
		if err != nil {
			return err
		}
		format = detected
	}

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}
