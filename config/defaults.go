package config

const defaultDataDirectory = "~/.local/share/modelmux"

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: defaultDataDirectory,
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Ollama: OllamaConfig{
			Host:         "http://localhost:11434",
			DefaultModel: "llama3.1:latest",
		},
		LMStudio: LMStudioConfig{
			Host:         "",
			DefaultModel: "",
		},
		OpenAICompat: OpenAICompatConfig{
			BaseURL:      "http://localhost:8080/v1",
			DefaultModel: "",
		},
		Transport: TransportConfig{
			PreferredProvider:       "auto",
			AlwaysAttemptLastResort: true,
		},
		Generation: GenerationConfig{
			Temperature: 0,
			MaxTokens:   0,
		},
		Security: SecurityConfig{
			CredentialStorage: string(SecurityPlainText),
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# modelmux System Configuration
# Location: ~/.config/modelmux/settings.toml
# This file uses TOML format: https://toml.io

# Directory where credentials and user config are stored
data_directory = "~/.local/share/modelmux"
`
}

func GenerateUserConfigTemplate() string {
	return `# modelmux User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[ollama]
# Ollama daemon URL
host = "http://localhost:11434"

# Model to use on the Ollama backend
default_model = "llama3.1:latest"

[lmstudio]
# LM Studio server address as host:port.
# Leave empty to discover on localhost:1234 and localhost:12345.
host = ""

# Model key to use on the LM Studio backend (e.g. "llama-3.2-1b-instruct")
default_model = ""

[openai_compat]
# Base URL of any local OpenAI-compatible server
# (llama.cpp server, vLLM, LocalAI, ...)
base_url = "http://localhost:8080/v1"

# Model name the server expects
default_model = ""

[transport]
# Which backend serves requests: "auto" picks the first usable one in
# priority order (ollama, lmstudio, openai-compat); naming a backend
# pins it.
preferred_provider = "auto"

# Keep the OpenAI-compatible backend as an unconditional fallback when
# every other backend is unusable.
always_attempt_last_resort = true

[generation]
# Sampling temperature (0 uses the backend default)
temperature = 0.0

# Maximum tokens to generate (0 uses the backend default)
max_tokens = 0

# System prompt prepended to every conversation (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

[security]
# How API credentials are stored: "plaintext" or "ssh_key"
credential_storage = "plaintext"

# Path to the SSH private key used for encryption (ssh_key only).
# Leave empty to search ~/.ssh for a usable key.
ssh_key_path = ""

# MCP tool servers (optional). Repeat the block per server.
# [[mcp_servers]]
# name = "files"
# command = "npx"
# args = ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
`
}
