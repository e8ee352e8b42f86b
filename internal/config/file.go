package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML configuration file without applying
// defaults or environment overrides.
func LoadFromFile(path string) (*Config, error) {
	if !filepath.IsAbs(path) {
		abspath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abspath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Error().Err(err).Str("config_file", path).Msg("Failed to unmarshal YAML config")
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	log.Debug().
		Str("config_file", path).
		Str("backend_url", cfg.Backend.BaseURL).
		Bool("has_refresh_token", cfg.Backend.RefreshToken != "").
		Msg("Parsed configuration file")

	return &cfg, nil
}
