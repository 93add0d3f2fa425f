package domain

import (
	"fmt"
	"strings"
)

// Tool is a flat, serializable descriptor exposed to the reasoning engine.
// Dispatch happens by name through the Coordinator; the descriptor carries
// no behavior.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is a JSON-schema-shaped named-parameter contract.
type ToolParameters struct {
	Type       string                 `json:"type"` // always "object"
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// ToolCall is a single invocation requested by the reasoning engine.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Params builds an object schema from property name → definition pairs.
func Params(props map[string]interface{}, required ...string) ToolParameters {
	if props == nil {
		props = map[string]interface{}{}
	}
	return ToolParameters{Type: "object", Properties: props, Required: required}
}

// Prop describes a single named parameter.
func Prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// FormatToolsForPrompt generates a compact tool listing for engines that take
// tool definitions as plain prompt text rather than structured schemas.
func FormatToolsForPrompt(tools []Tool) string {
	var b strings.Builder
	b.WriteString("Available Tools:\n")
	for _, tool := range tools {
		params := ""
		if len(tool.Parameters.Properties) > 0 {
			parts := make([]string, 0, len(tool.Parameters.Properties))
			for name, def := range tool.Parameters.Properties {
				typ := "any"
				if m, ok := def.(map[string]interface{}); ok {
					if t, ok := m["type"].(string); ok {
						typ = t
					}
				}
				parts = append(parts, name+":"+typ)
			}
			params = " | params: {" + strings.Join(parts, ", ") + "}"
		}
		required := ""
		if len(tool.Parameters.Required) > 0 {
			required = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s%s%s\n", tool.Name, tool.Description, params, required)
	}
	return b.String()
}
