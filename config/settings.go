package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// readTOML decodes the TOML file at path into v.
func readTOML(path string, v any) error {
	_, err := toml.DecodeFile(path, v)
	return err
}

// writeTOML encodes v as TOML at path. The file is created 0600 so
// config and credentials never end up world readable.
func writeTOML(path string, v any) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func userConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// LoadSystemConfig reads the system settings file. When the file is
// missing it writes the commented template and returns the defaults.
func LoadSystemConfig() (*SystemConfig, error) {
	path := GetSettingsFilePath()
	if !FileExists(path) {
		if err := EnsureDir(GetConfigDir()); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(GenerateSystemConfigTemplate()), 0600); err != nil {
			return nil, fmt.Errorf("failed to create system config: %w", err)
		}
		return DefaultSystemConfig(), nil
	}

	cfg := DefaultSystemConfig()
	if err := readTOML(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	return cfg, nil
}

// LoadUserConfig reads config.toml under the data directory, writing the
// commented template first when the file is missing.
func LoadUserConfig(dataDir string) (*UserConfig, error) {
	path := userConfigPath(dataDir)
	if !FileExists(path) {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(GenerateUserConfigTemplate()), 0600); err != nil {
			return nil, fmt.Errorf("failed to create user config: %w", err)
		}
		return DefaultUserConfig(), nil
	}

	cfg := DefaultUserConfig()
	if err := readTOML(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}
	return cfg, nil
}

func SaveSystemConfig(cfg *SystemConfig) error {
	if err := EnsureDir(GetConfigDir()); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeTOML(GetSettingsFilePath(), cfg); err != nil {
		return fmt.Errorf("failed to write system config: %w", err)
	}
	return nil
}

func SaveUserConfig(cfg *UserConfig, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := writeTOML(userConfigPath(dataDir), cfg); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}
	return nil
}
