package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileProvider is a koanf.Provider reading a YAML document from disk.
type FileProvider struct {
	path string
}

func File(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (f *FileProvider) ReadBytes() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Read returns the document as a nested map. koanf flattens it using its
// own key delimiter.
func (f *FileProvider) Read() (map[string]interface{}, error) {
	data, err := f.ReadBytes()
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return out, nil
}
