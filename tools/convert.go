package tools

import (
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// ToOllamaTools converts MCP tool definitions into the ollama chat API's
// tool format. Property schemas survive the trip, including enums, array
// item schemas and anyOf unions.
func ToOllamaTools(defs []mcptypes.Tool) []api.Tool {
	out := make([]api.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toOllamaParameters(def.InputSchema),
			},
		})
	}
	return out
}

func toOllamaParameters(schema mcptypes.ToolInputSchema) api.ToolFunctionParameters {
	props := make(map[string]api.ToolProperty, len(schema.Properties))
	for name, raw := range schema.Properties {
		props[name] = convertPropertyValue(raw)
	}
	return api.ToolFunctionParameters{
		Type:       schema.Type,
		Required:   schema.Required,
		Properties: props,
		Defs:       schema.Defs,
	}
}

// convertPropertyValue maps one JSON Schema property onto api.ToolProperty.
// A malformed property degrades to an empty one instead of failing the
// whole conversion.
func convertPropertyValue(raw any) api.ToolProperty {
	prop, ok := raw.(map[string]any)
	if !ok {
		// Typed structs from an MCP server take a round trip through
		// JSON to become a generic map.
		b, err := json.Marshal(raw)
		if err != nil {
			return api.ToolProperty{}
		}
		if err := json.Unmarshal(b, &prop); err != nil {
			return api.ToolProperty{}
		}
	}

	out := api.ToolProperty{Type: propertyTypes(prop["type"])}
	if desc, ok := prop["description"].(string); ok {
		out.Description = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		out.Enum = enum
	}
	if items, ok := prop["items"]; ok {
		out.Items = items
	}
	if anyOf, ok := prop["anyOf"].([]any); ok {
		out.AnyOf = make([]api.ToolProperty, 0, len(anyOf))
		for _, alt := range anyOf {
			out.AnyOf = append(out.AnyOf, convertPropertyValue(alt))
		}
	}
	return out
}

// propertyTypes accepts the three shapes "type" takes in the wild: one
// name, a list of names, or a decoded []any of names.
func propertyTypes(v any) api.PropertyType {
	switch t := v.(type) {
	case string:
		return api.PropertyType{t}
	case []string:
		return api.PropertyType(t)
	case []any:
		names := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return api.PropertyType(names)
	}
	return nil
}

// ToOpenAITools converts MCP tool definitions to OpenAI chat completions
// tool format, which every OpenAI-compatible server accepts. Both sides
// speak JSON Schema, so the input schema passes through as a parameter
// map rather than a typed struct.
func ToOpenAITools(defs []mcptypes.Tool) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, len(defs))
	for i, def := range defs {
		params := openai.FunctionParameters{
			"type":       def.InputSchema.Type,
			"properties": def.InputSchema.Properties,
		}
		if len(def.InputSchema.Required) > 0 {
			params["required"] = def.InputSchema.Required
		}
		if def.InputSchema.Defs != nil {
			params["$defs"] = def.InputSchema.Defs
		}

		result[i] = openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  params,
			},
		)
	}
	return result
}
