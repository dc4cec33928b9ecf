package dictionary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"clinicalcore/pkg/dictionary"
)

// LoadFile reads a dictionary from a .json, .yaml or .yml file.
func LoadFile(path string) (*dictionary.Dictionary, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied dictionary path
	if err != nil {
		return nil, fmt.Errorf("read dictionary file: %w", err)
	}
	var dict dictionary.Dictionary
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &dict)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &dict)
	default:
		return nil, fmt.Errorf("unsupported dictionary file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode dictionary file %s: %w", path, err)
	}
	if dict.Name == "" || dict.Version == "" {
		return nil, fmt.Errorf("dictionary file %s must set name and version", path)
	}
	return &dict, nil
}
