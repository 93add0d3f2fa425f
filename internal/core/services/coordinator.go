package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const defaultExecuteTimeout = 30 * time.Second

// Coordinator routes requests to domain agents and owns every mutation of
// the action store. Agents propose; only the Coordinator persists, approves
// and executes. All tool dispatch flows through Invoke, which is total: any
// failure comes back as a descriptive string, never an error, so the
// reasoning loop can always continue.
type Coordinator struct {
	logger *slog.Logger
	store  ports.ActionStore
	bus    *EventBus

	agents     map[string]ports.Agent
	agentOrder []string

	executeTimeout time.Duration
}

func NewCoordinator(logger *slog.Logger, store ports.ActionStore, bus *EventBus) *Coordinator {
	return &Coordinator{
		logger:         logger,
		store:          store,
		bus:            bus,
		agents:         make(map[string]ports.Agent),
		executeTimeout: defaultExecuteTimeout,
	}
}

// SetExecuteTimeout bounds how long an approved action may run.
func (c *Coordinator) SetExecuteTimeout(d time.Duration) {
	if d > 0 {
		c.executeTimeout = d
	}
}

// RegisterAgent adds an agent under its name. Re-registering a name
// replaces the previous agent: last registration wins.
func (c *Coordinator) RegisterAgent(agent ports.Agent) {
	name := agent.Name()
	if _, exists := c.agents[name]; exists {
		c.logger.Warn("replacing registered agent", "agent", name)
	} else {
		c.agentOrder = append(c.agentOrder, name)
	}
	c.agents[name] = agent
}

// Agent returns the registered agent, or ErrAgentNotConfigured.
func (c *Coordinator) Agent(name string) (ports.Agent, error) {
	agent, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", name, domain.ErrAgentNotConfigured)
	}
	return agent, nil
}

// Agents returns registered agents in registration order.
func (c *Coordinator) Agents() []ports.Agent {
	out := make([]ports.Agent, 0, len(c.agentOrder))
	for _, name := range c.agentOrder {
		out = append(out, c.agents[name])
	}
	return out
}

// Setup brings up every agent's connectors. Individual failures are logged
// and skipped so a dead provider never blocks startup.
func (c *Coordinator) Setup(ctx context.Context) {
	for _, agent := range c.Agents() {
		if err := agent.Setup(ctx); err != nil {
			c.logger.Warn("agent setup failed", "agent", agent.Name(), "error", err)
		}
	}
}

// HealthCheck aggregates connector readiness across all agents, keyed by
// agent name.
func (c *Coordinator) HealthCheck(ctx context.Context) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(c.agents))
	for _, agent := range c.Agents() {
		out[agent.Name()] = agent.HealthCheck(ctx)
	}
	return out
}

// ProposeAction asks the named agent to understand the request and persists
// the resulting draft. The draft is stored pending regardless of what the
// agent set.
func (c *Coordinator) ProposeAction(ctx context.Context, agentName, request string) (domain.DraftAction, error) {
	agent, err := c.Agent(agentName)
	if err != nil {
		return domain.DraftAction{}, err
	}

	intent, err := agent.Understand(ctx, request)
	if err != nil {
		return domain.DraftAction{}, fmt.Errorf("understand request: %w", err)
	}
	draft, err := agent.ProposeAction(ctx, intent)
	if err != nil {
		return domain.DraftAction{}, fmt.Errorf("propose action: %w", err)
	}

	if _, err := c.store.Add(ctx, draft); err != nil {
		return domain.DraftAction{}, fmt.Errorf("persist draft: %w", err)
	}
	draft.Status = domain.ActionPending
	c.publish(EventActionCreated, draft.ID, draft.Agent, draft.Description)
	c.logger.Info("draft action created",
		"action_id", draft.ID, "agent", draft.Agent, "action_type", draft.ActionType)
	return draft, nil
}

// SaveDraft persists an already-built draft (used by built-in tools that
// construct the draft themselves rather than going through Understand).
func (c *Coordinator) SaveDraft(ctx context.Context, draft domain.DraftAction) (domain.DraftAction, error) {
	if _, err := c.store.Add(ctx, draft); err != nil {
		return domain.DraftAction{}, err
	}
	draft.Status = domain.ActionPending
	c.publish(EventActionCreated, draft.ID, draft.Agent, draft.Description)
	return draft, nil
}

// Approve moves an action into execution. Exactly one approval wins a
// concurrent race; the action executes at most once. A terminal action is
// reported, not re-executed. Returns the user-facing outcome text.
func (c *Coordinator) Approve(ctx context.Context, id domain.ActionID) (string, error) {
	action, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrActionNotFound) {
			return fmt.Sprintf("Action %s not found.", id), nil
		}
		return "", err
	}

	if action.Status.Terminal() {
		return c.reportTerminal(action), nil
	}

	// Pending and modified actions are approvable; the CAS serializes racing
	// approvers so only one proceeds to execute.
	from := action.Status
	if from != domain.ActionPending && from != domain.ActionModified {
		return fmt.Sprintf("Action %s is already %s.", id, from), nil
	}
	won, err := c.store.Transition(ctx, id, from, domain.ActionApproved)
	if err != nil {
		return "", err
	}
	if !won {
		return fmt.Sprintf("Action %s was already handled.", id), nil
	}
	c.publish(EventActionApproved, id, action.Agent, "")

	return c.execute(ctx, action), nil
}

// execute runs the approved action through its agent and records the single
// terminal outcome.
func (c *Coordinator) execute(ctx context.Context, action domain.DraftAction) string {
	agent, err := c.Agent(action.Agent)
	if err != nil {
		msg := fmt.Sprintf("agent not configured: %s", action.Agent)
		return c.recordOutcome(ctx, action, domain.ActionFailed, msg)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	result, err := agent.Execute(execCtx, action)
	if err != nil {
		c.logger.Error("action execution failed",
			"action_id", action.ID, "agent", action.Agent, "error", err)
		return c.recordOutcome(ctx, action, domain.ActionFailed, err.Error())
	}

	c.logger.Info("action executed",
		"action_id", action.ID, "agent", action.Agent, "action_type", action.ActionType)
	return c.recordOutcome(ctx, action, domain.ActionCompleted, result)
}

// recordOutcome moves the action from approved into its terminal status
// through the compare-and-transition, so a status written by anyone else is
// never overwritten, then stores the outcome text. A write that is lost or
// fails is reported back to the caller, not just logged.
func (c *Coordinator) recordOutcome(ctx context.Context, action domain.DraftAction, status domain.ActionStatus, outcome string) string {
	verb := "completed"
	eventType := EventActionCompleted
	if status == domain.ActionFailed {
		verb = "failed"
		eventType = EventActionFailed
	}

	won, err := c.store.Transition(ctx, action.ID, domain.ActionApproved, status)
	if err != nil {
		c.logger.Error("failed to record action outcome",
			"action_id", action.ID, "status", status, "error", err)
		return fmt.Sprintf("Action %s executed but its outcome could not be recorded (%v). Outcome: %s",
			action.ID, err, outcome)
	}
	if !won {
		current, getErr := c.store.Get(ctx, action.ID)
		if getErr != nil {
			return fmt.Sprintf("Action %s executed but its record is gone. Outcome: %s", action.ID, outcome)
		}
		c.logger.Error("action left approved state during execution",
			"action_id", action.ID, "status", current.Status)
		return fmt.Sprintf("Action %s is now %s; the execution outcome was not recorded: %s",
			action.ID, current.Status, outcome)
	}

	// The status is already terminal at this point; this write only fills
	// the result and the executed timestamp.
	if _, err := c.store.SetStatus(ctx, action.ID, status, &outcome); err != nil {
		c.logger.Error("failed to record action result",
			"action_id", action.ID, "error", err)
	}
	c.publish(eventType, action.ID, action.Agent, outcome)
	return fmt.Sprintf("Action %s %s: %s", action.ID, verb, outcome)
}

// Reject declines an action awaiting review (pending or modified). An
// approved action is already executing and a terminal one is settled; both
// are reported, never overwritten.
func (c *Coordinator) Reject(ctx context.Context, id domain.ActionID) (string, error) {
	action, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrActionNotFound) {
			return fmt.Sprintf("Action %s not found.", id), nil
		}
		return "", err
	}

	if action.Status.Terminal() {
		return c.reportTerminal(action), nil
	}
	if action.Status == domain.ActionApproved {
		return fmt.Sprintf("Action %s is approved and executing; it can no longer be rejected.", id), nil
	}

	won, err := c.store.Transition(ctx, id, action.Status, domain.ActionRejected)
	if err != nil {
		return "", err
	}
	if !won {
		return fmt.Sprintf("Action %s was already handled.", id), nil
	}
	c.publish(EventActionRejected, id, action.Agent, "")
	c.logger.Info("action rejected", "action_id", id, "agent", action.Agent)
	return fmt.Sprintf("Action %s rejected.", id), nil
}

// Modify patches a draft's description and params; the action returns to
// the modified state and needs re-approval. Only actions awaiting review
// are editable.
func (c *Coordinator) Modify(ctx context.Context, id domain.ActionID, description *string, patch map[string]interface{}) (string, error) {
	action, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrActionNotFound) {
			return fmt.Sprintf("Action %s not found.", id), nil
		}
		return "", err
	}
	if action.Status.Terminal() {
		return c.reportTerminal(action), nil
	}
	if action.Status == domain.ActionApproved {
		return fmt.Sprintf("Action %s is approved and executing; it can no longer be modified.", id), nil
	}

	ok, err := c.store.Modify(ctx, id, description, patch)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Action %s was already handled.", id), nil
	}
	c.publish(EventActionModified, id, action.Agent, "")
	return fmt.Sprintf("Action %s updated. Approve it to execute.", id), nil
}

func (c *Coordinator) reportTerminal(action domain.DraftAction) string {
	result := ""
	if action.Result != nil {
		result = ": " + *action.Result
	}
	return fmt.Sprintf("Action %s is already %s%s", action.ID, action.Status, result)
}

// GetAction reads one action.
func (c *Coordinator) GetAction(ctx context.Context, id domain.ActionID) (domain.DraftAction, error) {
	return c.store.Get(ctx, id)
}

// PendingActions lists actions awaiting a decision: pending plus modified.
func (c *Coordinator) PendingActions(ctx context.Context) ([]domain.DraftAction, error) {
	pending, err := c.store.ListByStatus(ctx, domain.ActionPending)
	if err != nil {
		return nil, err
	}
	modified, err := c.store.ListByStatus(ctx, domain.ActionModified)
	if err != nil {
		return nil, err
	}
	return append(pending, modified...), nil
}

// ActionsByStatus lists actions in one status.
func (c *Coordinator) ActionsByStatus(ctx context.Context, status domain.ActionStatus) ([]domain.DraftAction, error) {
	return c.store.ListByStatus(ctx, status)
}

// ActionsByAgent lists actions owned by one agent, any status.
func (c *Coordinator) ActionsByAgent(ctx context.Context, agent string) ([]domain.DraftAction, error) {
	return c.store.ListByAgent(ctx, agent)
}

// Summary returns the queue census.
func (c *Coordinator) Summary(ctx context.Context) (domain.QueueSummary, error) {
	return c.store.Summary(ctx)
}

// DeleteAction removes one action.
func (c *Coordinator) DeleteAction(ctx context.Context, id domain.ActionID) (bool, error) {
	return c.store.Delete(ctx, id)
}

// ClearTerminal removes finished actions. Housekeeping; never automatic.
func (c *Coordinator) ClearTerminal(ctx context.Context) (int, error) {
	return c.store.ClearTerminal(ctx)
}

func (c *Coordinator) publish(eventType EventType, id domain.ActionID, agent, data string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(Event{Type: eventType, ActionID: id, Agent: agent, Data: data})
}

// ToolCatalog is the full tool surface offered to the reasoning engine:
// the coordinator's built-in queue tools plus every agent's own tools.
// Recomputed on demand so late-registered agents show up.
func (c *Coordinator) ToolCatalog() []domain.Tool {
	catalog := c.builtinTools()
	for _, agent := range c.Agents() {
		catalog = append(catalog, agent.Tools()...)
	}
	return catalog
}

func (c *Coordinator) builtinTools() []domain.Tool {
	agentNames := strings.Join(c.agentOrder, ", ")
	return []domain.Tool{
		{
			Name:        "propose_action",
			Description: "Draft an action for user approval via a domain agent (" + agentNames + ")",
			Parameters: domain.Params(map[string]interface{}{
				"agent":   domain.Prop("string", "Agent to route to: "+agentNames),
				"request": domain.Prop("string", "What the action should do, in plain language"),
			}, "agent", "request"),
		},
		{
			Name:        "draft_email",
			Description: "Draft an email for user approval. Nothing is sent until approved.",
			Parameters: domain.Params(map[string]interface{}{
				"to":      domain.Prop("string", "Recipient address(es), comma-separated"),
				"subject": domain.Prop("string", "Subject line"),
				"body":    domain.Prop("string", "Email body"),
				"account": domain.Prop("string", "Sending account (default: primary)"),
			}, "to", "subject", "body"),
		},
		{
			Name:        "approve_action",
			Description: "Approve and execute a drafted action",
			Parameters: domain.Params(map[string]interface{}{
				"action_id": domain.Prop("string", "Id of the action to approve"),
			}, "action_id"),
		},
		{
			Name:        "reject_action",
			Description: "Reject a drafted action",
			Parameters: domain.Params(map[string]interface{}{
				"action_id": domain.Prop("string", "Id of the action to reject"),
			}, "action_id"),
		},
		{
			Name:        "modify_action",
			Description: "Edit a drafted action's description or parameters before approval",
			Parameters: domain.Params(map[string]interface{}{
				"action_id":   domain.Prop("string", "Id of the action to modify"),
				"description": domain.Prop("string", "New description (optional)"),
				"params":      domain.Prop("object", "Parameter patch, merged key by key"),
			}, "action_id"),
		},
		{
			Name:        "list_pending_actions",
			Description: "List all actions awaiting user approval",
			Parameters:  domain.Params(nil),
		},
		{
			Name:        "get_action",
			Description: "Show one drafted action in full",
			Parameters: domain.Params(map[string]interface{}{
				"action_id": domain.Prop("string", "Id of the action"),
			}, "action_id"),
		},
		{
			Name:        "action_queue_summary",
			Description: "Count actions per lifecycle status",
			Parameters:  domain.Params(nil),
		},
	}
}

// Invoke dispatches a tool call. It is a total function: unknown tools,
// bad arguments and downstream failures all come back as strings the
// reasoning engine can read and react to.
func (c *Coordinator) Invoke(ctx context.Context, call domain.ToolCall) string {
	arg := func(key string) string {
		s, _ := call.Arguments[key].(string)
		return s
	}

	switch call.Name {
	case "propose_action":
		agentName := arg("agent")
		request := arg("request")
		if agentName == "" || request == "" {
			return "propose_action needs both an agent and a request."
		}
		draft, err := c.ProposeAction(ctx, agentName, request)
		if err != nil {
			return fmt.Sprintf("Could not draft action: %v", err)
		}
		return draft.Display()

	case "draft_email":
		if arg("to") == "" {
			return "draft_email needs a recipient."
		}
		params := map[string]interface{}{
			"to":      arg("to"),
			"subject": arg("subject"),
			"body":    arg("body"),
			"account": arg("account"),
		}
		desc := fmt.Sprintf("To: %s\nSubject: %s\n\n%s", arg("to"), arg("subject"), arg("body"))
		draft, err := c.SaveDraft(ctx, domain.NewDraftAction("email", "send_email", desc, params))
		if err != nil {
			return fmt.Sprintf("Could not draft email: %v", err)
		}
		return draft.Display()

	case "approve_action":
		msg, err := c.Approve(ctx, domain.ActionID(arg("action_id")))
		if err != nil {
			return fmt.Sprintf("Approve failed: %v", err)
		}
		return msg

	case "reject_action":
		msg, err := c.Reject(ctx, domain.ActionID(arg("action_id")))
		if err != nil {
			return fmt.Sprintf("Reject failed: %v", err)
		}
		return msg

	case "modify_action":
		var desc *string
		if d := arg("description"); d != "" {
			desc = &d
		}
		patch, _ := call.Arguments["params"].(map[string]interface{})
		msg, err := c.Modify(ctx, domain.ActionID(arg("action_id")), desc, patch)
		if err != nil {
			return fmt.Sprintf("Modify failed: %v", err)
		}
		return msg

	case "list_pending_actions":
		pending, err := c.PendingActions(ctx)
		if err != nil {
			return fmt.Sprintf("Could not list actions: %v", err)
		}
		if len(pending) == 0 {
			return "No actions awaiting approval."
		}
		lines := []string{fmt.Sprintf("%d action(s) awaiting approval:", len(pending))}
		for _, action := range pending {
			lines = append(lines, fmt.Sprintf("- [%s] %s/%s: %s",
				action.ID, action.Agent, action.ActionType, firstLine(action.Description)))
		}
		return strings.Join(lines, "\n")

	case "get_action":
		action, err := c.GetAction(ctx, domain.ActionID(arg("action_id")))
		if err != nil {
			if errors.Is(err, domain.ErrActionNotFound) {
				return fmt.Sprintf("Action %s not found.", arg("action_id"))
			}
			return fmt.Sprintf("Could not read action: %v", err)
		}
		return action.Display()

	case "action_queue_summary":
		sum, err := c.Summary(ctx)
		if err != nil {
			return fmt.Sprintf("Could not summarize queue: %v", err)
		}
		return fmt.Sprintf("Queue: %d pending, %d approved, %d modified, %d rejected, %d completed, %d failed (%d total)",
			sum.Pending, sum.Approved, sum.Modified, sum.Rejected, sum.Completed, sum.Failed, sum.Total)
	}

	// Not a built-in: route to the agent owning the tool.
	for _, agent := range c.Agents() {
		for _, tool := range agent.Tools() {
			if tool.Name != call.Name {
				continue
			}
			out, err := agent.HandleTool(ctx, call)
			if err != nil {
				return fmt.Sprintf("Tool %s failed: %v", call.Name, err)
			}
			return out
		}
	}
	return fmt.Sprintf("Unknown tool %q. Use one of the listed tools.", call.Name)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
