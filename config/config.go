package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type OllamaConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

type LMStudioConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

type OpenAICompatConfig struct {
	BaseURL      string `toml:"base_url"`
	DefaultModel string `toml:"default_model"`
}

type TransportConfig struct {
	// PreferredProvider is "auto" or a backend kind name.
	PreferredProvider string `toml:"preferred_provider"`

	// AlwaysAttemptLastResort keeps the OpenAI-compatible backend as an
	// unconditional fallback in automatic selection.
	AlwaysAttemptLastResort bool `toml:"always_attempt_last_resort"`
}

type GenerationConfig struct {
	Temperature         float64 `toml:"temperature"`
	MaxTokens           int     `toml:"max_tokens"`
	DefaultSystemPrompt string  `toml:"default_system_prompt,omitempty"`
}

type MCPServerConfig struct {
	Name      string            `toml:"name"`
	Command   string            `toml:"command,omitempty"`
	Args      []string          `toml:"args,omitempty"`
	Env       map[string]string `toml:"env,omitempty"`
	URL       string            `toml:"url,omitempty"`
	Transport string            `toml:"transport,omitempty"`
}

type SecurityConfig struct {
	// CredentialStorage is "plaintext" or "ssh_key".
	CredentialStorage string `toml:"credential_storage"`
	SSHKeyPath        string `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	Ollama       OllamaConfig       `toml:"ollama"`
	LMStudio     LMStudioConfig     `toml:"lmstudio"`
	OpenAICompat OpenAICompatConfig `toml:"openai_compat"`
	Transport    TransportConfig    `toml:"transport"`
	Generation   GenerationConfig   `toml:"generation"`
	MCPServers   []MCPServerConfig  `toml:"mcp_servers,omitempty"`
	Security     SecurityConfig     `toml:"security"`
}

type Config struct {
	DataDirectory string

	OllamaHost        string
	OllamaModel       string
	LMStudioHost      string
	LMStudioModel     string
	OpenAICompatURL   string
	OpenAICompatModel string

	PreferredProvider       string
	AlwaysAttemptLastResort bool

	Temperature         float64
	MaxTokens           int
	DefaultSystemPrompt string

	MCPServers []MCPServerConfig
	Security   SecurityConfig

	CredentialStore *CredentialStore
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("MODELMUX_OLLAMA_HOST"); host != "" {
		c.OllamaHost = host
	}
	if model := os.Getenv("MODELMUX_OLLAMA_MODEL"); model != "" {
		c.OllamaModel = model
	}
	if host := os.Getenv("MODELMUX_LMSTUDIO_HOST"); host != "" {
		c.LMStudioHost = host
	}
	if model := os.Getenv("MODELMUX_LMSTUDIO_MODEL"); model != "" {
		c.LMStudioModel = model
	}
	if u := os.Getenv("MODELMUX_OPENAI_COMPAT_URL"); u != "" {
		c.OpenAICompatURL = u
	}
	if model := os.Getenv("MODELMUX_OPENAI_COMPAT_MODEL"); model != "" {
		c.OpenAICompatModel = model
	}
	if provider := os.Getenv("MODELMUX_PROVIDER"); provider != "" {
		c.PreferredProvider = provider
	}
	if dataDir := os.Getenv("MODELMUX_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

func CheckDebug() bool {
	debug := os.Getenv("MODELMUX_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain sensitive debug info)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (MODELMUX_DEBUG=%s) ===", os.Getenv("MODELMUX_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func HasAllEnvVars() bool {
	return os.Getenv("MODELMUX_OLLAMA_HOST") != "" &&
		os.Getenv("MODELMUX_OLLAMA_MODEL") != "" &&
		os.Getenv("MODELMUX_DATA_DIR") != ""
}

func HasAnyEnvVar() bool {
	return os.Getenv("MODELMUX_OLLAMA_HOST") != "" ||
		os.Getenv("MODELMUX_OLLAMA_MODEL") != "" ||
		os.Getenv("MODELMUX_DATA_DIR") != ""
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	c.OllamaHost = userCfg.Ollama.Host
	c.OllamaModel = userCfg.Ollama.DefaultModel
	c.LMStudioHost = userCfg.LMStudio.Host
	c.LMStudioModel = userCfg.LMStudio.DefaultModel
	c.OpenAICompatURL = userCfg.OpenAICompat.BaseURL
	c.OpenAICompatModel = userCfg.OpenAICompat.DefaultModel
	c.PreferredProvider = userCfg.Transport.PreferredProvider
	c.AlwaysAttemptLastResort = userCfg.Transport.AlwaysAttemptLastResort
	c.Temperature = userCfg.Generation.Temperature
	c.MaxTokens = userCfg.Generation.MaxTokens
	c.DefaultSystemPrompt = userCfg.Generation.DefaultSystemPrompt
	c.MCPServers = userCfg.MCPServers
	c.Security = userCfg.Security
}

func Load() (*Config, error) {
	defaults := DefaultUserConfig()
	cfg := &Config{DataDirectory: defaultDataDirectory}
	cfg.applyUserConfig(defaults)

	settingsPath := GetSettingsFilePath()
	settingsExist := FileExists(settingsPath)

	if settingsExist {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory

		userCfg, err := LoadUserConfig(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		cfg.applyUserConfig(userCfg)
	} else if HasAllEnvVars() {
		// Pure env configuration, nothing written to disk yet
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory

		userCfg, err := LoadUserConfig(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		cfg.applyUserConfig(userCfg)
	}

	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	if err := cfg.loadCredentials(dataDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadCredentials builds the credential store named by the security
// settings and reads it from the data directory.
func (c *Config) loadCredentials(dataDir string) error {
	method := SecurityMethod(c.Security.CredentialStorage)
	if method == "" {
		method = SecurityPlainText
	}

	keyPath := ExpandPath(c.Security.SSHKeyPath)
	if method == SecuritySSHKey && keyPath == "" {
		keys, err := FindSSHKeys()
		if err != nil || len(keys) == 0 {
			return fmt.Errorf("credential_storage is ssh_key but no SSH key was found; set security.ssh_key_path")
		}
		keyPath = keys[0]
	}

	store := NewCredentialStore(method, keyPath)
	if passphrase := os.Getenv("MODELMUX_SSH_PASSPHRASE"); passphrase != "" {
		store.SetPassphrase(passphrase)
	}
	if err := store.Load(dataDir); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	c.CredentialStore = store
	return nil
}

// OpenAICompatAPIKey returns the stored key for the OpenAI-compatible
// backend, preferring the environment override.
func (c *Config) OpenAICompatAPIKey() string {
	if key := os.Getenv("MODELMUX_OPENAI_COMPAT_API_KEY"); key != "" {
		return key
	}
	if c.CredentialStore == nil {
		return ""
	}
	return c.CredentialStore.Get(CredentialOpenAICompat)
}
