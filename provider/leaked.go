package provider

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Some models emit tool calls as literal JSON or XML in the response text
// instead of using the tool call API. These patterns catch the common
// shapes so the calls can be recovered and the noise stripped from
// conversation history.
var (
	jsonArrayToolCallRegex = regexp.MustCompile(`\[\s*\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"(?:arguments|param|parameters|input)"\s*:\s*\{[^}]*\}\s*\}\s*\]`)
	jsonObjToolCallRegex   = regexp.MustCompile(`\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"(?:arguments|param|parameters|input)"\s*:\s*\{[^}]*\}\s*\}`)
	xmlToolCallRegex       = regexp.MustCompile(`<(?:tool_call|function_call)>\s*<name>[^<]+</name>\s*<arguments>[^<]*</arguments>\s*</(?:tool_call|function_call)>`)
	// qwen3-coder style: <function=TOOL_NAME><parameter=PARAM_NAME>VALUE</parameter></function>
	qwenXMLToolCallRegex = regexp.MustCompile(`(?s)<function=[^>]+><parameter=[^>]+>.*?</parameter></function>(?:</tool_call>)?`)
)

// leakedToolCall matches the JSON shapes models leak, with the argument
// key spelled any of the ways seen in the wild.
type leakedToolCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Param      map[string]any `json:"param"`
	Parameters map[string]any `json:"parameters"`
	Input      map[string]any `json:"input"`
}

func (l leakedToolCall) args() map[string]any {
	switch {
	case l.Arguments != nil:
		return l.Arguments
	case l.Param != nil:
		return l.Param
	case l.Parameters != nil:
		return l.Parameters
	case l.Input != nil:
		return l.Input
	default:
		return map[string]any{}
	}
}

// parseLeakedToolCalls recovers tool calls a model emitted as literal
// JSON in its response text. Returns nil when nothing parseable is
// found.
func parseLeakedToolCalls(content string) []ToolCall {
	var calls []ToolCall

	if match := jsonArrayToolCallRegex.FindString(content); match != "" {
		var leaked []leakedToolCall
		if err := json.Unmarshal([]byte(match), &leaked); err == nil {
			for _, l := range leaked {
				if l.Name != "" {
					calls = append(calls, ToolCall{Name: l.Name, Arguments: l.args()})
				}
			}
		}
	}
	if len(calls) > 0 {
		return calls
	}

	for _, match := range jsonObjToolCallRegex.FindAllString(content, -1) {
		var l leakedToolCall
		if err := json.Unmarshal([]byte(match), &l); err != nil || l.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{Name: l.Name, Arguments: l.args()})
	}
	return calls
}

// CleanLeakedToolCalls removes leaked JSON/XML tool call text from
// content. This keeps leaked tool call syntax out of conversation
// history and user-visible output.
func CleanLeakedToolCalls(content string) string {
	content = jsonArrayToolCallRegex.ReplaceAllString(content, "")
	content = jsonObjToolCallRegex.ReplaceAllString(content, "")
	content = xmlToolCallRegex.ReplaceAllString(content, "")
	content = qwenXMLToolCallRegex.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}
