package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadInputs reads a per-source inputs file, keyed by source name:
//
//	{"connecting_expertise": {"username": "me", "password": "x", "max_pages": 2}}
//
// JSON and YAML are both accepted. Scalar values are converted to strings.
func LoadInputs(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parse inputs: %w", err)
	}

	out := make(map[string]map[string]string, len(raw))
	for source, fields := range raw {
		in := make(map[string]string, len(fields))
		for k, v := range fields {
			switch v.(type) {
			case nil:
				continue
			case map[string]any, []any:
				return nil, fmt.Errorf("inputs %s.%s: expected a scalar value", source, k)
			}
			in[k] = fmt.Sprint(v)
		}
		out[source] = in
	}
	return out, nil
}

// MergeInputs overlays override on base; override wins per key.
func MergeInputs(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
