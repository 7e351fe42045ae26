package transport

import (
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"modelmux/provider"
	"modelmux/tools"
)

// maxToolRounds caps tool execution per request. Once a request has
// executed this many rounds the next generation runs without tools, which
// forces a plain text answer.
const maxToolRounds = 5

// SendOptions tunes one SendMessages request. Zero values fall back to the
// transport's config defaults.
type SendOptions struct {
	// Attachment is offered to the resolved backend when it is
	// multimodal-capable and dropped silently otherwise.
	Attachment *provider.Attachment

	// Tools names the enabled subset of registered tools. nil enables
	// every registered tool; an empty non-nil slice enables none. The
	// selection only takes effect on tool-capable backends.
	Tools []string

	// Temperature and MaxTokens override the generation defaults when
	// non-zero.
	Temperature float64
	MaxTokens   int

	// SystemPrompt overrides the configured default system prompt. It is
	// prepended only when the conversation does not already open with a
	// system turn.
	SystemPrompt string
}

// buildTurns produces the turn list actually sent to a backend. The
// caller's slice is never mutated.
//
// A non-empty system prompt is prepended when the conversation does not
// already open with one. An attachment lands on the last user turn as
// parts [Text, File], and only when the backend is multimodal; for every
// other backend the attachment is dropped.
func buildTurns(turns []provider.Turn, systemPrompt string, attachment *provider.Attachment, caps provider.Capabilities) []provider.Turn {
	out := make([]provider.Turn, 0, len(turns)+1)
	if systemPrompt != "" && (len(turns) == 0 || turns[0].Role != provider.RoleSystem) {
		out = append(out, provider.SystemTurn(systemPrompt))
	}
	out = append(out, turns...)

	if attachment == nil || !caps.Multimodal {
		return out
	}
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != provider.RoleUser {
			continue
		}
		out[i] = provider.Turn{
			Role: provider.RoleUser,
			Parts: []provider.Part{
				provider.TextPart(out[i].Text()),
				provider.FilePart(attachment.MediaType, attachment.Data),
			},
		}
		break
	}
	return out
}

// buildTools resolves the tool selection against the registry, gated on
// backend capability. Capability decides: a non-empty selection against a
// backend that cannot call tools yields nil.
func buildTools(reg *tools.Registry, selection []string, caps provider.Capabilities) []mcptypes.Tool {
	if reg == nil || !caps.Tools {
		return nil
	}
	defs := reg.Definitions(selection)
	if len(defs) == 0 {
		return nil
	}
	return defs
}
