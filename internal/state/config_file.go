package state

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// LoadConfigFile parses a shell configuration file. It performs the file
// I/O without touching the Store; callers merge the result through
// SetConfig and record the origin through SetConfigPath.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultConfig().Prompt
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return cfg, nil
}

// ApplyConfigFile loads path and merges it into the store as two named
// operations: set_config with the parsed record, then set_config_path.
func ApplyConfigFile(s *Store, path string) error {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return err
	}
	if err := s.SetConfig(cfg); err != nil {
		return err
	}
	return s.SetConfigPath(path)
}
