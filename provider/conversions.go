package provider

import (
	"encoding/json"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"modelmux/lmstudio"
)

// ToOllamaMessages converts modelmux turns to Ollama api.Message.
//
// This conversion is used when sending a request to the Ollama backend.
// Text parts concatenate into the message content; file parts attach to
// the same message as Ollama image data, preserving their order of
// appearance.
//
// Note: part ordering within a turn is not representable on the Ollama
// wire (content and images are separate fields), so a turn's files
// always follow its text from the model's point of view.
//
// Example:
//
//	turns := []Turn{
//	    {Role: RoleUser, Parts: []Part{
//	        TextPart("What is in this image?"),
//	        FilePart("image/png", pngBytes),
//	    }},
//	}
//	msgs := ToOllamaMessages(turns)
//	// msgs[0].Content == "What is in this image?"
//	// msgs[0].Images[0] holds pngBytes
func ToOllamaMessages(turns []Turn) []api.Message {
	result := make([]api.Message, len(turns))
	for i, turn := range turns {
		msg := api.Message{
			Role:    string(turn.Role),
			Content: turn.Text(),
		}
		for _, p := range turn.Parts {
			if p.Type == PartFile {
				msg.Images = append(msg.Images, api.ImageData(p.Data))
			}
		}
		result[i] = msg
	}
	return result
}

// ToOpenAIMessages converts modelmux turns to OpenAI chat messages.
//
// This conversion is used when sending a request to an OpenAI-compatible
// backend. File parts are dropped: the local OpenAI-compatible servers
// this backend targets do not accept image content, and the request
// builder never routes file parts here.
//
// Tool turns become user messages because streamed tool calls carry no
// stable ids to echo back, and local servers accept results inline.
//
// Example:
//
//	turns := []Turn{
//	    SystemTurn("You are helpful."),
//	    UserTurn("Hello"),
//	}
//	msgs := ToOpenAIMessages(turns)
//	// msgs[0] is a system message, msgs[1] a user message
func ToOpenAIMessages(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(turns))
	for i, turn := range turns {
		content := turn.Text()
		switch turn.Role {
		case RoleSystem:
			result[i] = openai.SystemMessage(content)
		case RoleUser:
			result[i] = openai.UserMessage(content)
		case RoleAssistant:
			result[i] = openai.AssistantMessage(content)
		case RoleTool:
			result[i] = openai.UserMessage(content)
		default:
			result[i] = openai.UserMessage(content)
		}
	}
	return result
}

// ToLMStudioHistory converts modelmux turns to LM Studio chat messages.
//
// File parts are dropped (the LM Studio backend reports no multimodal
// capability) and tool turns become user messages since the prediction
// channel has no tool role.
func ToLMStudioHistory(turns []Turn) []lmstudio.ChatMessage {
	result := make([]lmstudio.ChatMessage, len(turns))
	for i, turn := range turns {
		role := string(turn.Role)
		if turn.Role == RoleTool {
			role = string(RoleUser)
		}
		result[i] = lmstudio.ChatMessage{
			Role:    role,
			Content: turn.Text(),
		}
	}
	return result
}

// ParseToolArguments parses a JSON arguments string into a map.
// Used by the OpenAI-compatible backend for tool call parsing.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		// If parsing fails, return empty map
		return make(map[string]any)
	}
	return args
}

// FromOllamaToolCalls converts Ollama api.ToolCall to backend-agnostic
// ToolCall.
//
// Returns nil if the input is nil or empty, maintaining the same nil
// semantics as the Ollama API.
//
// Example:
//
//	ollamaCalls := []api.ToolCall{
//	    {Function: api.ToolCallFunction{
//	        Name: "get_weather",
//	        Arguments: map[string]any{"city": "San Francisco"},
//	    }},
//	}
//	calls := FromOllamaToolCalls(ollamaCalls)
//	// calls[0].Name == "get_weather"
func FromOllamaToolCalls(ollamaCalls []api.ToolCall) []ToolCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]ToolCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		result[i] = ToolCall{
			Name:      call.Function.Name,
			Arguments: map[string]any(call.Function.Arguments),
		}
	}
	return result
}
