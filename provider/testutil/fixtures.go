package testutil

import (
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"modelmux/provider"
)

// TestTurns returns a short seeded conversation.
func TestTurns() []provider.Turn {
	return []provider.Turn{
		provider.UserTurn("Hello, how are you?"),
		provider.AssistantTurn("I'm doing well, thank you!"),
		provider.UserTurn("Can you help me with a task?"),
	}
}

// SingleUserTurn wraps one user message in a history slice.
func SingleUserTurn(content string) []provider.Turn {
	return []provider.Turn{provider.UserTurn(content)}
}

// EmptyTurns returns an empty history.
func EmptyTurns() []provider.Turn {
	return []provider.Turn{}
}

// stringParamTool builds a tool taking one required string parameter.
func stringParamTool(name, desc, param, paramDesc string) mcptypes.Tool {
	return mcptypes.Tool{
		Name:        name,
		Description: desc,
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				param: map[string]any{"type": "string", "description": paramDesc},
			},
			Required: []string{param},
		},
	}
}

// TestMCPTools returns the fixture tools. Index 0 is get_weather and
// index 1 is calculate; several suites rely on that order.
func TestMCPTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		stringParamTool("get_weather", "Get the current weather for a location",
			"location", "The city and state, e.g. San Francisco, CA"),
		stringParamTool("calculate", "Perform a mathematical calculation",
			"expression", "The mathematical expression to evaluate"),
	}
}
