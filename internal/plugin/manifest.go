package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional YAML file that switches plugins on or off:
//
//	plugins:
//	  - name: stats
//	    enabled: false
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins"`
}

type ManifestEntry struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing enabled key as true.
func (e ManifestEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LoadManifest reads a manifest file. An empty path yields a nil manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin manifest %s: %w", path, err)
	}
	for i, p := range m.Plugins {
		if p.Name == "" {
			return nil, fmt.Errorf("parse plugin manifest %s: entry %d has no name", path, i)
		}
	}
	return &m, nil
}
