package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// OpenAIEngine speaks the OpenAI-compatible chat completions API with tool
// calling. Works with OpenAI, Azure OpenAI, Together AI, local Ollama /v1.
type OpenAIEngine struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

var _ ports.ReasoningEngine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(baseURL, apiKey, model string) *OpenAIEngine {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIEngine{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

func (e *OpenAIEngine) Reason(ctx context.Context, prompt string, tools []domain.Tool, systemPrompt string, history []domain.Message) (domain.Reply, error) {
	messages := make([]map[string]string, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, map[string]string{"role": msg.Role, "content": msg.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	payload := map[string]interface{}{
		"model":    e.model,
		"messages": messages,
	}
	if len(tools) > 0 {
		payload["tools"] = toOpenAITools(tools)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payloadBytes))
	if err != nil {
		return domain.Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return domain.Reply{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Reply{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return domain.Reply{}, fmt.Errorf("no choices in response")
	}

	message := result.Choices[0].Message
	reply := domain.Reply{Content: message.Content}
	for _, call := range message.ToolCalls {
		// Arguments arrive as a JSON string; a malformed blob becomes an
		// empty argument set rather than a failed turn.
		args := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{}
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, domain.ToolCall{
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return reply, nil
}

func (e *OpenAIEngine) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == 200
}

func toOpenAITools(tools []domain.Tool) []map[string]interface{} {
	out := make([]map[string]interface{}, len(tools))
	for i, tool := range tools {
		out[i] = map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		}
	}
	return out
}
