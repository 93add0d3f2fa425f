package domain

// Message is one turn of conversation history handed to the reasoning engine.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "tool", "system"
	Content string `json:"content"`
}

// Reply is what the reasoning engine returns: natural-language content,
// zero or more tool invocations, or both.
type Reply struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
