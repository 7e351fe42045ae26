package provider

import (
	"fmt"
)

// NewBackend creates a backend based on configuration.
//
// This is the centralized factory function for creating any backend
// kind. It handles dispatching to the appropriate backend constructor
// based on the Config.Kind field.
//
// Supported backend kinds:
//   - KindOllama: Local Ollama daemon
//   - KindLMStudio: Local LM Studio server
//   - KindOpenAICompat: Any local OpenAI-compatible server
//
// Returns an error if:
//   - The backend kind is unknown
//   - The backend-specific constructor fails (e.g., invalid URL)
//
// Example:
//
//	cfg := provider.Config{
//	    Kind:    provider.KindOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	}
//	b, err := provider.NewBackend(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindOllama:
		return NewOllamaBackend(cfg.BaseURL, cfg.Model)
	case KindLMStudio:
		return NewLMStudioBackend(cfg.BaseURL, cfg.Model)
	case KindOpenAICompat:
		return NewOpenAICompatBackend(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.Kind)
	}
}
