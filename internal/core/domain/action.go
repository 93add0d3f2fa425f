package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActionID string

// ActionStatus is the lifecycle state of a draft action.
type ActionStatus string

const (
	// ActionPending awaits a user decision.
	ActionPending ActionStatus = "pending"
	// ActionApproved is user-approved and about to execute.
	ActionApproved ActionStatus = "approved"
	// ActionRejected was declined by the user. Terminal.
	ActionRejected ActionStatus = "rejected"
	// ActionModified was edited by the user and needs re-approval.
	ActionModified ActionStatus = "modified"
	// ActionCompleted executed successfully. Terminal.
	ActionCompleted ActionStatus = "completed"
	// ActionFailed execution failed. Terminal.
	ActionFailed ActionStatus = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s ActionStatus) Terminal() bool {
	return s == ActionRejected || s == ActionCompleted || s == ActionFailed
}

// DraftAction is a proposed side-effecting operation awaiting explicit user
// approval. Agents create them; nothing executes until the Coordinator sees
// an approval and the pending→approved transition is won.
type DraftAction struct {
	ID          ActionID               `json:"id"`
	Agent       string                 `json:"agent"`       // owning agent name ("email", "calendar", ...)
	ActionType  string                 `json:"action_type"` // domain verb ("send_email", "create_event", ...)
	Description string                 `json:"description"` // human-readable summary for review
	Params      map[string]interface{} `json:"params"`      // everything needed to execute
	Status      ActionStatus           `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ModifiedAt  *time.Time             `json:"modified_at,omitempty"`
	ExecutedAt  *time.Time             `json:"executed_at,omitempty"`
	Result      *string                `json:"result,omitempty"` // first recorded outcome or error text
}

// NewDraftAction creates a pending action with a fresh short id.
func NewDraftAction(agent, actionType, description string, params map[string]interface{}) DraftAction {
	if params == nil {
		params = map[string]interface{}{}
	}
	return DraftAction{
		ID:          NewActionID(),
		Agent:       agent,
		ActionType:  actionType,
		Description: description,
		Params:      params,
		Status:      ActionPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewActionID returns a short id the user can type back ("approve 3f1c9a2b").
func NewActionID() ActionID {
	return ActionID(uuid.NewString()[:8])
}

// Display formats the action for user review.
func (a DraftAction) Display() string {
	return fmt.Sprintf("Draft Action [%s]\nAgent: %s\nAction: %s\nStatus: %s\n\n%s\n\nCommands: [approve %s] [edit %s] [reject %s]",
		a.ID, a.Agent, a.ActionType, a.Status, a.Description, a.ID, a.ID, a.ID)
}

// QueueSummary is the per-status census of the draft-action store.
type QueueSummary struct {
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Modified  int `json:"modified"`
	Rejected  int `json:"rejected"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// StringParam returns a string parameter, or fallback when absent or not a string.
func (a DraftAction) StringParam(key, fallback string) string {
	if v, ok := a.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
