package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/kpt/pkg/engine"
	"gopkg.in/yaml.v3"
)

// loadConfig reads the engine configuration, applies the defaults and
// validates the result
func loadConfig(path string) (*engine.Config, error) {
	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := setLogLevel(config.Logging); err != nil {
		return nil, err
	}

	return config, nil
}
