package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

// Settings holds the CLI's own runtime settings, as opposed to habitat
// configuration. Values are populated from .habitat.yaml, HABITAT_* env
// vars, and CLI flags.
type Settings struct {
	Root      string `mapstructure:"root"`
	StateFile string `mapstructure:"state_file"`
	Verbose   bool   `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log_format"`
	Rebuild   bool   `mapstructure:"rebuild"`
}

// LoadSettings reads settings from viper, applying built-in defaults for
// any values not set by config file, environment, or flags.
func LoadSettings() (Settings, error) {
	viper.SetDefault("root", "")
	viper.SetDefault("state_file", defaultStateFile())
	viper.SetDefault("verbose", false)
	viper.SetDefault("log_format", "text")
	viper.SetDefault("rebuild", false)

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	if settings.LogFormat != "text" && settings.LogFormat != "json" {
		return Settings{}, fmt.Errorf("log_format must be text or json, got %q", settings.LogFormat)
	}
	return settings, nil
}

// LoadOptionsFor returns layer locations for a habitat config, using the
// configured root when set and the inferred root otherwise.
func (s Settings) LoadOptionsFor(habitatPath string) LoadOptions {
	root := s.Root
	if root == "" {
		root = InferRoot(habitatPath)
	}
	return DefaultLoadOptions(root)
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.StateDirName, constants.LastUsedFileName)
	}
	return filepath.Join(home, constants.StateDirName, constants.LastUsedFileName)
}
