package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a single YAML document as JSON so both formats go
// through the same strict decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("yaml: config must be a single document")
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}

	quoteTextScalars(&doc)

	var v any
	if err := doc.Decode(&v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml: re-encode as json: %w", err)
	}
	return j, nil
}

// textKey reports whether the value under key is a string in Config even
// though people write it as a bare number: Discord snowflakes
// (channel_id: 1234567890123) and amounts (notify_threshold: 20000000).
func textKey(key string) bool {
	switch key {
	case "notify_threshold", "ping_threshold", "target_player", "token":
		return true
	}
	return strings.HasSuffix(key, "_id")
}

// quoteTextScalars retags numeric scalars under text keys as strings. The
// source text is kept, so large snowflakes never round-trip through float64.
func quoteTextScalars(n *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			quoteTextScalars(c)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if v.Kind == yaml.ScalarNode && textKey(k.Value) {
				if tag := v.ShortTag(); tag == "!!int" || tag == "!!float" {
					v.Tag = "!!str"
					v.Style = yaml.DoubleQuotedStyle
				}
			}
			quoteTextScalars(v)
		}
	}
}

// stringKeys turns non-string map keys (e.g. "1: x") into strings so the
// tree can be JSON-encoded.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringKeys(v)
		}
		return out
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
