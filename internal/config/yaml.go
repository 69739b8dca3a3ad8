package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so YAML files get the same
// strict decoding as JSON ones.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(jsonable(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// jsonable rewrites map[any]any nodes, which encoding/json rejects.
func jsonable(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			n[k] = jsonable(child)
		}
	case map[any]any:
		m := make(map[string]any, len(n))
		for k, child := range n {
			m[fmt.Sprint(k)] = jsonable(child)
		}
		return m
	case []any:
		for i, child := range n {
			n[i] = jsonable(child)
		}
	}
	return v
}
