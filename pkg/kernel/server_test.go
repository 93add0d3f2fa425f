package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan/internal/adapters/duckdb"
	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
	"github.com/castellan-ai/castellan/internal/core/services"
)

// stubAgent answers every request with a fixed draft and executes cleanly.
type stubAgent struct{}

var _ ports.Agent = (*stubAgent)(nil)

func (a *stubAgent) Name() string        { return "email" }
func (a *stubAgent) Description() string { return "stub email agent" }

func (a *stubAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	return domain.NewIntent("send", map[string]interface{}{"request": query}), nil
}

func (a *stubAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	return nil, nil
}

func (a *stubAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	return domain.NewDraftAction("email", "send_email", "Send the stub email", intent.Fields), nil
}

func (a *stubAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	return "sent", nil
}

func (a *stubAgent) Capabilities() []string { return []string{"send email"} }

func (a *stubAgent) Tools() []domain.Tool {
	return []domain.Tool{{Name: "search_emails", Description: "Search emails", Parameters: domain.Params(nil)}}
}

func (a *stubAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	return "no matches", nil
}

func (a *stubAgent) Setup(ctx context.Context) error { return nil }

func (a *stubAgent) HealthCheck(ctx context.Context) map[string]bool {
	return map[string]bool{"stub:default": true}
}

// scriptedEngine replays canned replies in order.
type scriptedEngine struct {
	replies []domain.Reply
	calls   int
}

var _ ports.ReasoningEngine = (*scriptedEngine)(nil)

func (e *scriptedEngine) Reason(ctx context.Context, prompt string, tools []domain.Tool, systemPrompt string, history []domain.Message) (domain.Reply, error) {
	if e.calls >= len(e.replies) {
		return domain.Reply{Content: "done"}, nil
	}
	reply := e.replies[e.calls]
	e.calls++
	return reply, nil
}

func (e *scriptedEngine) HealthCheck(ctx context.Context) bool { return true }

type testEnv struct {
	base        string
	coordinator *services.Coordinator
	engine      *scriptedEngine
}

func newTestEnv(t *testing.T, replies ...domain.Reply) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := duckdb.NewStore(logger, filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := services.NewEventBus(logger)
	coordinator := services.NewCoordinator(logger, store, bus)
	coordinator.RegisterAgent(&stubAgent{})

	engine := &scriptedEngine{replies: replies}
	orchestrator := services.NewOrchestrator(logger, engine, coordinator)

	server := NewServer(logger, orchestrator, coordinator, bus, engine, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{base: ts.URL, coordinator: coordinator, engine: engine}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.base+path, "application/json", &buf)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.base + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Chat(t *testing.T) {
	env := newTestEnv(t, domain.Reply{Content: "Nothing urgent."})

	resp, body := env.post(t, "/v1/chat", map[string]string{"message": "anything new?"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Nothing urgent.", body["reply"])
}

func TestServer_ChatRequiresMessage(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/v1/chat", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "message is required")
}

func TestServer_ActionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft, err := env.coordinator.ProposeAction(ctx, "email", "send the report")
	require.NoError(t, err)

	resp, body := env.get(t, "/v1/actions")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = env.post(t, "/v1/actions/"+string(draft.ID)+"/approve", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["result"], "sent")

	resp, body = env.get(t, "/v1/actions/"+string(draft.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	resp, body = env.get(t, "/v1/actions/summary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["completed"])

	resp, body = env.post(t, "/v1/actions/clear-terminal", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["removed"])
}

func TestServer_RejectAndModify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft, err := env.coordinator.ProposeAction(ctx, "email", "send the report")
	require.NoError(t, err)

	resp, _ := env.post(t, "/v1/actions/"+string(draft.ID)+"/modify", map[string]interface{}{
		"description": "Send the revised report",
		"params":      map[string]interface{}{"subject": "v2"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/v1/actions/"+string(draft.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "modified", body["status"])
	assert.Equal(t, "Send the revised report", body["description"])

	resp, body = env.post(t, "/v1/actions/"+string(draft.ID)+"/reject", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["result"], "rejected")
}

func TestServer_GetUnknownActionIs404(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/actions/ffffffff")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "action not found", body["error"])
}

func TestServer_DeleteUnknownActionIs404(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodDelete, env.base+"/v1/actions/ffffffff", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListActionsStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft, err := env.coordinator.ProposeAction(ctx, "email", "send it")
	require.NoError(t, err)
	_, err = env.coordinator.Reject(ctx, draft.ID)
	require.NoError(t, err)

	resp, body := env.get(t, "/v1/actions?status=rejected")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = env.get(t, "/v1/actions?agent=email")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = env.get(t, "/v1/actions?agent=calendar")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	resp, _ = env.get(t, "/v1/actions?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ToolCatalog(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/tools")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	names := []string{}
	for _, raw := range body["tools"].([]interface{}) {
		tool := raw.(map[string]interface{})
		names = append(names, tool["name"].(string))
	}
	assert.Contains(t, names, "propose_action")
	assert.Contains(t, names, "approve_action")
	assert.Contains(t, names, "search_emails")
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["llm"])
}

func TestServer_OpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/openapi.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3.0.3", body["openapi"])

	paths := body["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/v1/chat")
	assert.Contains(t, paths, "/v1/actions/{id}/approve")

	schemas := body["components"].(map[string]interface{})["schemas"].(map[string]interface{})
	assert.Contains(t, schemas, "tool_propose_action")
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.base+"/v1/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_EventStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.base+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Give the subscription a moment to attach before publishing.
	time.Sleep(100 * time.Millisecond)
	_, err = env.coordinator.ProposeAction(context.Background(), "email", "send it")
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before the event arrived")
			if strings.HasPrefix(line, "event: ") {
				assert.Equal(t, "event: action_created", line)
				return
			}
		case <-deadline:
			t.Fatal("no event within deadline")
		}
	}
}
