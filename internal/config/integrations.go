package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IntegrationSeed is one declarative integration entry from the YAML seed
// file. Settings carry vendor credentials and adapter options.
type IntegrationSeed struct {
	Name     string                 `yaml:"name"`
	Vendor   string                 `yaml:"vendor"`
	Enabled  *bool                  `yaml:"enabled"`
	Settings map[string]interface{} `yaml:"settings"`
}

// IsEnabled defaults to true when the YAML omits the flag
func (s IntegrationSeed) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type integrationsFile struct {
	Integrations []IntegrationSeed `yaml:"integrations"`
}

// LoadIntegrationsFile parses a YAML integrations seed file
func LoadIntegrationsFile(path string) ([]IntegrationSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading integrations file: %w", err)
	}

	var parsed integrationsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing integrations file: %w", err)
	}

	for i, seed := range parsed.Integrations {
		if seed.Name == "" {
			return nil, fmt.Errorf("integration %d has no name", i)
		}
		if seed.Vendor == "" {
			return nil, fmt.Errorf("integration %q has no vendor", seed.Name)
		}
	}
	return parsed.Integrations, nil
}
