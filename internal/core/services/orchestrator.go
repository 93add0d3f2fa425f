package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const (
	defaultMaxIterations = 5
	maxHistoryMessages   = 40
)

var approvalShortcutRe = regexp.MustCompile(`(?i)^\s*(approve|reject|yes|no)\s*([a-f0-9-]{4,36})?\s*$`)

const systemPrompt = `You are Castellan, a personal assistant coordinating specialized agents.
You never perform side effects directly: anything that sends, books, creates or
deletes must go through a draft action the user approves first. Use the search
tools freely. When the user asks for something side-effecting, draft it with
propose_action or draft_email and show the draft. Keep answers short.`

// Orchestrator is the conversational loop: it feeds user messages and tool
// observations to the reasoning engine, dispatches the engine's tool calls
// through the Coordinator, and short-circuits bare approval replies so
// "approve 3f1c9a2b" works even when no engine is reachable.
type Orchestrator struct {
	logger      *slog.Logger
	engine      ports.ReasoningEngine
	coordinator *Coordinator
	maxIters    int

	mu      sync.Mutex
	history []domain.Message
}

func NewOrchestrator(logger *slog.Logger, engine ports.ReasoningEngine, coordinator *Coordinator) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		engine:      engine,
		coordinator: coordinator,
		maxIters:    defaultMaxIterations,
	}
}

// SetMaxIterations bounds reason/act cycles per message.
func (o *Orchestrator) SetMaxIterations(n int) {
	if n > 0 {
		o.maxIters = n
	}
}

// Handle processes one user message and returns the assistant reply.
func (o *Orchestrator) Handle(ctx context.Context, message string) (string, error) {
	if reply, ok := o.tryApprovalShortcut(ctx, message); ok {
		o.remember(message, reply)
		return reply, nil
	}

	reply, err := o.reasonLoop(ctx, message)
	if err != nil {
		return "", err
	}
	o.remember(message, reply)
	return reply, nil
}

// tryApprovalShortcut handles bare approve/reject replies without the
// engine. "approve <id>" and "reject <id>" act on that action; a bare
// approve/yes targets the single pending action if there is exactly one.
func (o *Orchestrator) tryApprovalShortcut(ctx context.Context, message string) (string, bool) {
	m := approvalShortcutRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	verb := strings.ToLower(m[1])
	id := domain.ActionID(m[2])

	if id == "" {
		pending, err := o.coordinator.PendingActions(ctx)
		if err != nil || len(pending) != 1 {
			if len(pending) > 1 {
				return fmt.Sprintf("There are %d actions awaiting approval. Say %q with the action id.", len(pending), verb), true
			}
			return "", false
		}
		id = pending[0].ID
	}

	var (
		reply string
		err   error
	)
	switch verb {
	case "approve", "yes":
		reply, err = o.coordinator.Approve(ctx, id)
	case "reject", "no":
		reply, err = o.coordinator.Reject(ctx, id)
	}
	if err != nil {
		o.logger.Error("approval shortcut failed", "action_id", id, "error", err)
		return fmt.Sprintf("Could not process that: %v", err), true
	}
	return reply, true
}

// reasonLoop runs bounded reason/act cycles: ask the engine, run any tool
// calls through the Coordinator, feed observations back, stop at plain
// content or the iteration cap.
func (o *Orchestrator) reasonLoop(ctx context.Context, message string) (string, error) {
	catalog := o.coordinator.ToolCatalog()
	history := o.snapshotHistory()
	prompt := message

	for iter := 0; iter < o.maxIters; iter++ {
		reply, err := o.engine.Reason(ctx, prompt, catalog, systemPrompt, history)
		if err != nil {
			return "", fmt.Errorf("reasoning engine: %w", err)
		}

		if len(reply.ToolCalls) == 0 {
			if reply.Content == "" {
				return "I don't have anything to add.", nil
			}
			return reply.Content, nil
		}

		var observations []string
		for _, call := range reply.ToolCalls {
			o.logger.Debug("dispatching tool call", "tool", call.Name)
			observations = append(observations,
				fmt.Sprintf("[%s] %s", call.Name, o.coordinator.Invoke(ctx, call)))
		}

		// Feed results back as the next prompt so the engine can compose
		// the final answer.
		history = append(history,
			domain.Message{Role: "user", Content: prompt},
			domain.Message{Role: "assistant", Content: reply.Content},
		)
		prompt = "Tool results:\n" + strings.Join(observations, "\n") +
			"\nAnswer the user's original request using these results."

		// A lone draft display is already the answer.
		if len(reply.ToolCalls) == 1 && isDraftTool(reply.ToolCalls[0].Name) {
			return strings.TrimPrefix(observations[0], "["+reply.ToolCalls[0].Name+"] "), nil
		}
	}

	return "I could not finish that request within the allowed steps.", nil
}

func isDraftTool(name string) bool {
	return name == "propose_action" || name == "draft_email"
}

func (o *Orchestrator) snapshotHistory() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Message, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Orchestrator) remember(userMessage, reply string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history,
		domain.Message{Role: "user", Content: userMessage},
		domain.Message{Role: "assistant", Content: reply},
	)
	if len(o.history) > maxHistoryMessages {
		o.history = o.history[len(o.history)-maxHistoryMessages:]
	}
}

// Reset clears conversation history.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
}
