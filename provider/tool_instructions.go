package provider

import (
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// buildToolInstructions writes the system preamble for backends without
// native tool support. The call format it demands is one of the forms
// parseLeakedToolCalls recovers, so a model that follows it still gets
// its calls executed.
func buildToolInstructions(toolDefs []mcptypes.Tool) string {
	var b strings.Builder
	b.WriteString("You can call these tools:\n")
	for _, tool := range toolDefs {
		if tool.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", tool.Name)
		}
	}
	b.WriteString("\nTo call a tool, reply with exactly one JSON object and nothing else:\n")
	b.WriteString(`{"name": "<tool>", "arguments": {...}}`)
	b.WriteString("\n\nCall the tool immediately when the request needs one. Never announce " +
		"the call or list the available tools. When a required parameter is " +
		"missing, ask for that parameter only.")
	return b.String()
}
