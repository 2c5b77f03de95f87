package strategy

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExportFormat selects the serialisation format
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// Export serialises a validated strategy
func Export(s *Strategy, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// Import parses a serialised parameter tree into the raw form the validator
// consumes. JSON is tried first, then YAML.
func Import(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("input is neither valid JSON nor YAML: %w", err)
	}
	return raw, nil
}
