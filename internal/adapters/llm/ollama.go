// Package llm holds the reasoning engine adapters. Both speak plain HTTP:
// Ollama's native chat API for local models and the OpenAI-compatible chat
// completions API for everything else.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const defaultOllamaModel = "qwen2.5:latest"

// OllamaEngine drives a local Ollama instance through /api/chat with
// structured tool definitions.
type OllamaEngine struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ ports.ReasoningEngine = (*OllamaEngine)(nil)

func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaEngine{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                `json:"name"`
		Description string                `json:"description"`
		Parameters  domain.ToolParameters `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (e *OllamaEngine) Reason(ctx context.Context, prompt string, tools []domain.Tool, systemPrompt string, history []domain.Message) (domain.Reply, error) {
	messages := make([]ollamaMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: prompt})

	reqBody := ollamaChatRequest{
		Model:    e.model,
		Messages: messages,
		Tools:    toOllamaTools(tools),
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return domain.Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Reply{}, fmt.Errorf("ollama returned status: %d", resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return domain.Reply{}, fmt.Errorf("failed to decode response: %w", err)
	}

	reply := domain.Reply{Content: chatResp.Message.Content}
	for _, call := range chatResp.Message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, domain.ToolCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return reply, nil
}

func (e *OllamaEngine) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func toOllamaTools(tools []domain.Tool) []ollamaTool {
	out := make([]ollamaTool, len(tools))
	for i, tool := range tools {
		out[i].Type = "function"
		out[i].Function.Name = tool.Name
		out[i].Function.Description = tool.Description
		out[i].Function.Parameters = tool.Parameters
	}
	return out
}
