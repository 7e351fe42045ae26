package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// homeDir resolves the user's home directory from the environment:
// HOME on unix, USERPROFILE then HOMEDRIVE+HOMEPATH on Windows.
func homeDir() string {
	if runtime.GOOS == "windows" {
		if home := os.Getenv("USERPROFILE"); home != "" {
			return home
		}
		if home := os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH"); home != "" {
			return home
		}
		return `C:\`
	}
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	return "/"
}

// GetConfigDir returns ~/.config/modelmux on every platform.
func GetConfigDir() string {
	return filepath.Join(homeDir(), ".config", "modelmux")
}

// GetSettingsFilePath returns settings.toml under the config directory.
func GetSettingsFilePath() string {
	return filepath.Join(GetConfigDir(), "settings.toml")
}

// ExpandPath resolves a leading ~/ and environment variables, then
// cleans the result. Empty input stays empty.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(homeDir(), path[2:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// EnsureDir creates path as a user-only directory.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDataDirPermissions makes sure the data directory exists with
// mode 0700, tightening looser modes left by a manual mkdir.
func EnsureDataDirPermissions(dataDir string) error {
	info, err := os.Stat(dataDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dataDir, 0700)
	}
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0700 {
		return os.Chmod(dataDir, 0700)
	}
	return nil
}
