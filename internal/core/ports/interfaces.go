package ports

import (
	"context"

	"github.com/castellan-ai/castellan/internal/core/domain"
)

// ActionStore is the durable record of every proposed action and its
// lifecycle. Updates are linearizable per id: SetStatus and Transition are
// atomic, and concurrent callers racing on the same id observe a single
// winner.
type ActionStore interface {
	// Add inserts a new record. The stored status is forced to pending
	// regardless of what the action carries. Fails with
	// domain.ErrDuplicateActionID when the id already exists.
	Add(ctx context.Context, action domain.DraftAction) (domain.ActionID, error)

	// Get retrieves an action. Returns domain.ErrActionNotFound for missing
	// ids and a *domain.CorruptionError when the stored record is unreadable.
	Get(ctx context.Context, id domain.ActionID) (domain.DraftAction, error)

	// ListByStatus returns actions in the given status, most recent first.
	ListByStatus(ctx context.Context, status domain.ActionStatus) ([]domain.DraftAction, error)

	// ListByAgent returns actions owned by the agent, most recent first.
	ListByAgent(ctx context.Context, agent string) ([]domain.DraftAction, error)

	// SetStatus updates the status unconditionally. The executed timestamp is
	// set only on transitions into completed/failed, and a non-nil result is
	// stored exactly once (an already-recorded outcome is never overwritten).
	// Returns false when the id does not exist. Callers that must not clobber
	// a status written by someone else gate through Transition first.
	SetStatus(ctx context.Context, id domain.ActionID, status domain.ActionStatus, result *string) (bool, error)

	// Transition is the atomic compare-and-transition used to serialize
	// approval races: status moves from→to only if it currently equals from.
	// Returns false when the id is missing or the precondition failed.
	Transition(ctx context.Context, id domain.ActionID, from, to domain.ActionStatus) (bool, error)

	// Modify replaces the description when non-nil, shallow-merges the patch
	// into the parameters (last write wins per key), and forces status to
	// modified. Only actions still awaiting review (pending or modified) are
	// patched; returns false when the id does not exist or the action has
	// moved on.
	Modify(ctx context.Context, id domain.ActionID, description *string, patch map[string]interface{}) (bool, error)

	// Delete removes the record. Returns false when the id does not exist.
	Delete(ctx context.Context, id domain.ActionID) (bool, error)

	// ClearTerminal removes all completed/failed/rejected records and returns
	// how many were removed. Housekeeping only, never called automatically.
	ClearTerminal(ctx context.Context) (int, error)

	// Summary returns per-status counts plus the total.
	Summary(ctx context.Context) (domain.QueueSummary, error)

	Close() error
}

// Agent groups capability connectors under one subject area and mediates
// between free-text intent and draft actions. Agents never touch the
// ActionStore; the Coordinator owns all store mutation.
type Agent interface {
	// Name is the unique routing key ("email", "calendar", "transport", ...).
	Name() string

	// Description is a one-line summary surfaced in the tool catalog.
	Description() string

	// Understand maps natural language to a structured intent. Pure; no
	// side effects. Resolution is keyword-based, first match wins.
	Understand(ctx context.Context, query string) (domain.Intent, error)

	// Search fans out to every matching connector and returns merged,
	// deterministically ordered records. A failing connector degrades to an
	// empty contribution; Search never fails because one provider did.
	Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error)

	// ProposeAction builds a DraftAction from an intent. Pure construction;
	// persisting it is the Coordinator's job.
	ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error)

	// Execute resolves the connector owning action.Params["account"] and
	// delegates. Fails with domain.ErrUnknownAccount when no connector
	// matches; provider failures propagate unchanged.
	Execute(ctx context.Context, action domain.DraftAction) (string, error)

	// Capabilities lists human-readable capability strings. Informational.
	Capabilities() []string

	// Tools is the agent's public tool list, aggregated into the
	// Coordinator's catalog.
	Tools() []domain.Tool

	// HandleTool executes one of the agent's own tools.
	HandleTool(ctx context.Context, call domain.ToolCall) (string, error)

	// Setup authenticates all connectors. Individual failures are logged,
	// not fatal.
	Setup(ctx context.Context) error

	// HealthCheck reports readiness per connector.
	HealthCheck(ctx context.Context) map[string]bool
}

// Connector is an account-specific capability provider: one authenticated
// connection to one external service. A connector is owned by exactly one
// agent and holds no mutable state beyond its ready flag.
type Connector interface {
	// Name is the stable identity "type:account" ("gmail:work").
	Name() string

	// Type is the provider kind ("gmail", "wmata", "weather.gov", ...).
	Type() string

	// Account is the instance name ("work", "personal", "default").
	Account() string

	// Authenticate is idempotent and safe to call repeatedly; it sets the
	// internal ready flag on success.
	Authenticate(ctx context.Context) error

	// Ready reports whether the connector has authenticated.
	Ready() bool

	// Search queries the provider. Records are free-form maps the owning
	// agent normalizes.
	Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error)

	// ExecuteAction performs a side-effecting operation.
	ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error)

	HealthCheck(ctx context.Context) bool
	Close() error
}

// ReasoningEngine is the LLM backend that turns a user message plus tool
// catalog into content and/or tool invocations.
type ReasoningEngine interface {
	Reason(ctx context.Context, prompt string, tools []domain.Tool, systemPrompt string, history []domain.Message) (domain.Reply, error)
	HealthCheck(ctx context.Context) bool
}
