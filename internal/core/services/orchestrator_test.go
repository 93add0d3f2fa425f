package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// fakeEngine replays scripted replies in order.
type fakeEngine struct {
	replies []domain.Reply
	err     error
	calls   int
	prompts []string
}

var _ ports.ReasoningEngine = (*fakeEngine)(nil)

func (f *fakeEngine) Reason(ctx context.Context, prompt string, tools []domain.Tool, systemPrompt string, history []domain.Message) (domain.Reply, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return domain.Reply{}, f.err
	}
	if f.calls >= len(f.replies) {
		return domain.Reply{Content: "nothing more"}, nil
	}
	reply := f.replies[f.calls]
	f.calls++
	return reply, nil
}

func (f *fakeEngine) HealthCheck(ctx context.Context) bool { return true }

func newTestOrchestrator(t *testing.T, engine *fakeEngine) (*Orchestrator, *Coordinator) {
	t.Helper()
	coordinator, _ := newTestCoordinator(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(logger, engine, coordinator), coordinator
}

func TestOrchestrator_PlainAnswer(t *testing.T) {
	engine := &fakeEngine{replies: []domain.Reply{{Content: "Nothing urgent in your inbox."}}}
	orchestrator, _ := newTestOrchestrator(t, engine)

	reply, err := orchestrator.Handle(context.Background(), "anything important today?")
	require.NoError(t, err)
	assert.Equal(t, "Nothing urgent in your inbox.", reply)
	assert.Equal(t, 1, engine.calls)
}

func TestOrchestrator_ToolCallThenAnswer(t *testing.T) {
	engine := &fakeEngine{replies: []domain.Reply{
		{ToolCalls: []domain.ToolCall{{Name: "fake_search_email", Arguments: map[string]interface{}{}}}},
		{Content: "Found one email about the audit."},
	}}
	orchestrator, _ := newTestOrchestrator(t, engine)

	reply, err := orchestrator.Handle(context.Background(), "search my email for audit")
	require.NoError(t, err)
	assert.Equal(t, "Found one email about the audit.", reply)
	require.Equal(t, 2, engine.calls)
	// The second prompt carries the tool observation.
	assert.Contains(t, engine.prompts[1], "handled fake_search_email")
}

func TestOrchestrator_DraftToolShortCircuits(t *testing.T) {
	engine := &fakeEngine{replies: []domain.Reply{
		{ToolCalls: []domain.ToolCall{{Name: "draft_email", Arguments: map[string]interface{}{
			"to": "bob@example.com", "subject": "lunch", "body": "noon?",
		}}}},
	}}
	orchestrator, coordinator := newTestOrchestrator(t, engine)

	reply, err := orchestrator.Handle(context.Background(), "email bob about lunch")
	require.NoError(t, err)
	assert.Contains(t, reply, "Draft Action")
	assert.Contains(t, reply, "bob@example.com")
	assert.Equal(t, 1, engine.calls, "the draft display is the final answer")

	pending, err := coordinator.PendingActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOrchestrator_ApprovalShortcutSkipsEngine(t *testing.T) {
	engine := &fakeEngine{}
	orchestrator, coordinator := newTestOrchestrator(t, engine)
	ctx := context.Background()

	draft, err := coordinator.ProposeAction(ctx, "email", "send the thing")
	require.NoError(t, err)

	reply, err := orchestrator.Handle(ctx, "approve "+string(draft.ID))
	require.NoError(t, err)
	assert.Contains(t, reply, "completed")
	assert.Equal(t, 0, engine.calls, "shortcut must not touch the engine")
}

func TestOrchestrator_BareApproveWithSinglePending(t *testing.T) {
	engine := &fakeEngine{}
	orchestrator, coordinator := newTestOrchestrator(t, engine)
	ctx := context.Background()

	_, err := coordinator.ProposeAction(ctx, "email", "only one")
	require.NoError(t, err)

	reply, err := orchestrator.Handle(ctx, "approve")
	require.NoError(t, err)
	assert.Contains(t, reply, "completed")
	assert.Equal(t, 0, engine.calls)
}

func TestOrchestrator_BareApproveAmbiguous(t *testing.T) {
	engine := &fakeEngine{}
	orchestrator, coordinator := newTestOrchestrator(t, engine)
	ctx := context.Background()

	_, err := coordinator.ProposeAction(ctx, "email", "one")
	require.NoError(t, err)
	_, err = coordinator.ProposeAction(ctx, "email", "two")
	require.NoError(t, err)

	reply, err := orchestrator.Handle(ctx, "approve")
	require.NoError(t, err)
	assert.Contains(t, reply, "2 actions awaiting approval")
	assert.Equal(t, 0, engine.calls)
}

func TestOrchestrator_RejectShortcut(t *testing.T) {
	engine := &fakeEngine{}
	orchestrator, coordinator := newTestOrchestrator(t, engine)
	ctx := context.Background()

	draft, err := coordinator.ProposeAction(ctx, "email", "send the thing")
	require.NoError(t, err)

	reply, err := orchestrator.Handle(ctx, "reject "+string(draft.ID))
	require.NoError(t, err)
	assert.Contains(t, reply, "rejected")

	stored, err := coordinator.GetAction(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRejected, stored.Status)
}

func TestOrchestrator_IterationCap(t *testing.T) {
	// An engine that keeps asking for tools never terminates on its own.
	looping := make([]domain.Reply, 10)
	for i := range looping {
		looping[i] = domain.Reply{ToolCalls: []domain.ToolCall{
			{Name: "fake_search_email", Arguments: map[string]interface{}{}},
			{Name: "action_queue_summary", Arguments: map[string]interface{}{}},
		}}
	}
	engine := &fakeEngine{replies: looping}
	orchestrator, _ := newTestOrchestrator(t, engine)
	orchestrator.SetMaxIterations(3)

	reply, err := orchestrator.Handle(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Contains(t, reply, "could not finish")
	assert.Equal(t, 3, engine.calls)
}

func TestOrchestrator_EngineErrorPropagates(t *testing.T) {
	engine := &fakeEngine{err: errors.New("connection refused")}
	orchestrator, _ := newTestOrchestrator(t, engine)

	_, err := orchestrator.Handle(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOrchestrator_HistoryCarriesAcrossTurns(t *testing.T) {
	engine := &fakeEngine{replies: []domain.Reply{
		{Content: "first answer"},
		{Content: "second answer"},
	}}
	orchestrator, _ := newTestOrchestrator(t, engine)
	ctx := context.Background()

	_, err := orchestrator.Handle(ctx, "first question")
	require.NoError(t, err)
	_, err = orchestrator.Handle(ctx, "second question")
	require.NoError(t, err)

	history := orchestrator.snapshotHistory()
	require.Len(t, history, 4)
	assert.Equal(t, "first question", history[0].Content)
	assert.Equal(t, "second answer", history[3].Content)

	orchestrator.Reset()
	assert.Empty(t, orchestrator.snapshotHistory())
}
