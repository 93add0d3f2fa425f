package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan/internal/core/domain"
)

var searchTool = domain.Tool{
	Name:        "search_emails",
	Description: "Search emails",
	Parameters: domain.Params(map[string]interface{}{
		"query": domain.Prop("string", "Search query"),
	}, "query"),
}

func TestOllamaEngine_ParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "system", req.Messages[0].Role)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "search_emails", req.Tools[0].Function.Name)

		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[
			{"function":{"name":"search_emails","arguments":{"query":"audit"}}}
		]},"done":true}`))
	}))
	defer server.Close()

	engine := NewOllamaEngine(server.URL, "test-model")
	reply, err := engine.Reason(context.Background(), "find audit emails",
		[]domain.Tool{searchTool}, "be brief", nil)
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "search_emails", reply.ToolCalls[0].Name)
	assert.Equal(t, "audit", reply.ToolCalls[0].Arguments["query"])
}

func TestOllamaEngine_PlainContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"All clear."},"done":true}`))
	}))
	defer server.Close()

	engine := NewOllamaEngine(server.URL, "")
	reply, err := engine.Reason(context.Background(), "anything urgent?", nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "All clear.", reply.Content)
	assert.Empty(t, reply.ToolCalls)
}

func TestOllamaEngine_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := NewOllamaEngine(server.URL, "")
	_, err := engine.Reason(context.Background(), "hi", nil, "", nil)
	assert.Error(t, err)
}

func TestOpenAIEngine_ParsesStringArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.NotNil(t, payload["tools"])

		w.Write([]byte(`{"choices":[{"message":{"content":null,"tool_calls":[
			{"function":{"name":"search_emails","arguments":"{\"query\":\"audit\"}"}}
		]}}]}`))
	}))
	defer server.Close()

	engine := NewOpenAIEngine(server.URL+"/v1", "sk-test", "gpt-4o-mini")
	reply, err := engine.Reason(context.Background(), "find audit emails",
		[]domain.Tool{searchTool}, "be brief", []domain.Message{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "noted"},
		})
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "search_emails", reply.ToolCalls[0].Name)
	assert.Equal(t, "audit", reply.ToolCalls[0].Arguments["query"])
}

func TestOpenAIEngine_MalformedArgumentsDegradeToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[
			{"function":{"name":"search_emails","arguments":"{not json"}}
		]}}]}`))
	}))
	defer server.Close()

	engine := NewOpenAIEngine(server.URL, "", "")
	reply, err := engine.Reason(context.Background(), "hi", nil, "", nil)
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Empty(t, reply.ToolCalls[0].Arguments)
}

func TestOpenAIEngine_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	engine := NewOpenAIEngine(server.URL, "", "")
	_, err := engine.Reason(context.Background(), "hi", nil, "", nil)
	assert.Error(t, err)
}
