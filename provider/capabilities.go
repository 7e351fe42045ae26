package provider

import "strings"

// Capabilities reports what a backend supports with its current model.
// Request builders consult this before attaching files or offering tools.
type Capabilities struct {
	// Multimodal means file parts can travel with a user turn.
	Multimodal bool

	// Tools means the backend accepts tool definitions and can emit
	// tool calls.
	Tools bool
}

// ollamaToolSupport lists Ollama model name prefixes and whether that
// family handles the tool calling API. Order matters: specific prefixes
// come first so llama3.2 is not swallowed by the generic llama3 entry.
var ollamaToolSupport = []struct {
	prefix string
	tools  bool
}{
	{"llama3.3", true},
	{"llama3.2", true},
	{"llama3.1", true},
	{"llama3-gradient", false},
	{"command-r", true},
	{"qwen", true}, // qwen2.5-coder, qwen3-coder
	{"mistral", true},
	{"nemotron", true},
	{"granite3", true},
	{"codellama", false},
	{"llama3", false}, // original llama3, not 3.1/3.2/3.3
	{"deepseek", false},
	{"phi", false},
	{"gemma", false},
}

// OllamaModelSupportsToolCalling reports whether the named model handles
// Ollama's tool calling API. Unknown models report false.
func OllamaModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, entry := range ollamaToolSupport {
		if strings.HasPrefix(modelName, entry.prefix) {
			return entry.tools
		}
	}
	return false
}
