package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NewRegistryFromFile builds a registry seeded with the factory defaults,
// then overlays any keys present in the YAML file at path. A missing
// file is not an error — the registry simply stays at factory defaults,
// matching tarsy's config.Initialize tolerance for an absent config
// directory on first run.
func NewRegistryFromFile(path string) (*Registry, error) {
	d := FactoryDefaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{current: d, factory: d}, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &Registry{current: d, factory: d}, nil
}
