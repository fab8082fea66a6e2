package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (expected json or yaml)", format)
}

// writeOutput renders v, which may already be encoded JSON, in the requested
// format.
func writeOutput(w io.Writer, format string, v any) error {
	raw, err := toJSON(v)
	if err != nil {
		return err
	}

	switch format {
	case outputYAML:
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding output: %w", err)
		}

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(decoded); err != nil {
			return fmt.Errorf("encoding YAML output: %w", err)
		}
		return enc.Close()

	default:
		var indented bytes.Buffer
		if err := json.Indent(&indented, raw, "", "  "); err != nil {
			return fmt.Errorf("formatting JSON output: %w", err)
		}
		indented.WriteByte('\n')
		_, err := indented.WriteTo(w)
		return err
	}
}

func toJSON(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		if len(raw) == 0 {
			return []byte("null"), nil
		}
		return raw, nil
	case []byte:
		return raw, nil
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding output: %w", err)
	}
	return encoded, nil
}
