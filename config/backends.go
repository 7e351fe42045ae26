package config

import (
	"fmt"
	"strconv"
	"strings"
)

// UpdateBackendField updates a single backend configuration field and
// persists the user config.
//
// Fields:
//   - ollama: "host", "model"
//   - lmstudio: "host", "model"
//   - openai-compat: "base_url", "model", "apikey"
//   - transport: "preferred_provider", "always_attempt_last_resort"
//   - generation: "temperature", "max_tokens", "system_prompt"
//   - mcp: "<server>.<key>" (stored as a credential, not in the config file)
func UpdateBackendField(dataDir, backendID, fieldName, value string) error {
	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch backendID {
	case "ollama":
		switch fieldName {
		case "host":
			cfg.Ollama.Host = value
		case "model":
			cfg.Ollama.DefaultModel = value
		default:
			return fmt.Errorf("unknown field for ollama: %s", fieldName)
		}

	case "lmstudio":
		switch fieldName {
		case "host":
			cfg.LMStudio.Host = value
		case "model":
			cfg.LMStudio.DefaultModel = value
		default:
			return fmt.Errorf("unknown field for lmstudio: %s", fieldName)
		}

	case "openai-compat":
		switch fieldName {
		case "base_url":
			cfg.OpenAICompat.BaseURL = value
		case "model":
			cfg.OpenAICompat.DefaultModel = value
		case "apikey":
			// API keys live in the credential store, not the config file
			return storeCredential(dataDir, CredentialOpenAICompat, value)
		default:
			return fmt.Errorf("unknown field for openai-compat: %s", fieldName)
		}

	case "mcp":
		server, key, ok := strings.Cut(fieldName, ".")
		if !ok || server == "" || key == "" {
			return fmt.Errorf("mcp wants <server>.<key>, got %s", fieldName)
		}
		return storeCredential(dataDir, mcpCredentialKey(server, key), value)

	case "transport":
		switch fieldName {
		case "preferred_provider":
			cfg.Transport.PreferredProvider = value
		case "always_attempt_last_resort":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("always_attempt_last_resort wants true or false: %w", err)
			}
			cfg.Transport.AlwaysAttemptLastResort = b
		default:
			return fmt.Errorf("unknown field for transport: %s", fieldName)
		}

	case "generation":
		switch fieldName {
		case "temperature":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("temperature wants a number: %w", err)
			}
			cfg.Generation.Temperature = f
		case "max_tokens":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("max_tokens wants an integer: %w", err)
			}
			cfg.Generation.MaxTokens = n
		case "system_prompt":
			cfg.Generation.DefaultSystemPrompt = value
		default:
			return fmt.Errorf("unknown field for generation: %s", fieldName)
		}

	default:
		return fmt.Errorf("unknown section: %s", backendID)
	}

	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// storeCredential persists one secret through the credential store named
// by the security settings.
func storeCredential(dataDir, key, value string) error {
	fullCfg, err := Load()
	if err != nil {
		return fmt.Errorf("failed to load full config for credential update: %w", err)
	}

	if fullCfg.CredentialStore == nil {
		return fmt.Errorf("credential store unavailable")
	}
	if err := fullCfg.CredentialStore.Set(key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := fullCfg.CredentialStore.Save(dataDir); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	return nil
}
