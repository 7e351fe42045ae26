package provider

import (
	"errors"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// BackendKind identifies the backend implementation.
type BackendKind string

const (
	KindOllama       BackendKind = "ollama"
	KindLMStudio     BackendKind = "lmstudio"
	KindOpenAICompat BackendKind = "openai-compat"
)

// KindPriority is the order automatic selection tries backends in.
var KindPriority = []BackendKind{KindOllama, KindLMStudio, KindOpenAICompat}

// ParseKind maps a configured backend name to its kind.
func ParseKind(s string) (BackendKind, error) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOllama:
		return KindOllama, nil
	case KindLMStudio:
		return KindLMStudio, nil
	case KindOpenAICompat:
		return KindOpenAICompat, nil
	default:
		return "", errors.New("unknown backend kind: " + s)
	}
}

// Availability classifies whether a backend can serve its configured
// model right now, and if not, what stands in the way.
type Availability string

const (
	// Available means the model can serve requests immediately.
	Available Availability = "available"

	// Downloadable means the runtime is up but the model must be
	// downloaded first.
	Downloadable Availability = "downloadable"

	// AfterDownload means the model is on disk but must be loaded into
	// memory before serving.
	AfterDownload Availability = "after-download"

	// Unavailable means the runtime cannot be reached at all.
	Unavailable Availability = "unavailable"
)

// PreferenceMode is the user's backend choice: either automatic
// priority-order selection or one explicitly named kind.
type PreferenceMode struct {
	Auto bool
	Kind BackendKind
}

// AutoMode selects backends in priority order.
func AutoMode() PreferenceMode {
	return PreferenceMode{Auto: true}
}

// ExplicitMode pins selection to one backend kind.
func ExplicitMode(k BackendKind) PreferenceMode {
	return PreferenceMode{Kind: k}
}

func (m PreferenceMode) String() string {
	if m.Auto {
		return "auto"
	}
	return string(m.Kind)
}

// Handle is a prepared, ready-to-generate model on one backend.
// Session carries backend-private state (LM Studio stores the loaded
// instance reference there); other backends leave it nil.
type Handle struct {
	Kind         BackendKind
	Model        string
	Availability Availability
	Session      any
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the content kinds a turn may carry.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
)

// Part is one piece of a turn's content: inline text or binary file data.
type Part struct {
	Type      PartType
	Text      string
	MediaType string
	Data      []byte
}

// TextPart wraps a string as a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// FilePart wraps binary data as a file part.
func FilePart(mediaType string, data []byte) Part {
	return Part{Type: PartFile, MediaType: mediaType, Data: data}
}

// Turn is one conversation turn: a role plus ordered content parts.
type Turn struct {
	Role  Role
	Parts []Part
}

// SystemTurn builds a single-text system turn.
func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// UserTurn builds a single-text user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantTurn builds a single-text assistant turn.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// Text concatenates the turn's text parts, skipping file parts.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCall is a backend-agnostic tool invocation request detected in a
// model response.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	Name    string
	Size    int64
	Backend BackendKind
}

// Attachment is binary content a caller wants included with a message.
type Attachment struct {
	MediaType string
	Data      []byte
}

// Request is one generation request in backend-agnostic form. Tools is
// nil when the backend should not be offered tools.
type Request struct {
	Turns       []Turn
	Tools       []mcptypes.Tool
	Temperature float64
	MaxTokens   int
}

// ErrModelNotFound reports that the configured model does not exist on
// the backend. Errors wrapping it may carry spelling suggestions.
var ErrModelNotFound = errors.New("model not found")

// ErrUnavailable reports that a backend's runtime cannot be reached.
var ErrUnavailable = errors.New("backend unavailable")
