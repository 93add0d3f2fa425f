package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// CalendarAgent aggregates events from every connected calendar source and
// drafts create/update/delete actions for approval.
type CalendarAgent struct {
	connectorSet
	logger *slog.Logger
}

var _ ports.Agent = (*CalendarAgent)(nil)

func NewCalendarAgent(logger *slog.Logger) *CalendarAgent {
	return &CalendarAgent{
		connectorSet: newConnectorSet(logger),
		logger:       logger,
	}
}

func (a *CalendarAgent) Name() string { return "calendar" }

func (a *CalendarAgent) Description() string {
	return "Manage calendar events across all connected calendars"
}

func (a *CalendarAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	q := strings.ToLower(query)

	switch {
	case containsAny(q, "schedule", "create", "add event", "book"):
		return domain.NewIntent("create", map[string]interface{}{"query": query}), nil
	case containsAny(q, "reschedule", "move", "change"):
		return domain.NewIntent("update", map[string]interface{}{"query": query}), nil
	case containsAny(q, "cancel", "delete", "remove"):
		return domain.NewIntent("delete", map[string]interface{}{"query": query}), nil
	default:
		return domain.NewIntent("search", map[string]interface{}{"query": query}), nil
	}
}

// Search merges events from all calendar connectors, chronologically.
// criteria: hours (look-ahead, default 24), query, calendars filter.
func (a *CalendarAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	calendars, _ := criteria["calendars"].(string)

	records := a.fanOutSearch(ctx, a.Name(), criteria, acceptAccounts(calendars))

	for i := range records {
		records[i] = normalizeEvent(records[i])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time("start").Before(records[j].Time("start"))
	})
	return records, nil
}

func (a *CalendarAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	switch intent.Action {
	case "create", "":
		params := map[string]interface{}{
			"title":    intent.String("title", ""),
			"start":    intent.String("start", ""),
			"end":      intent.String("end", ""),
			"location": intent.String("location", ""),
			"account":  intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Create event: %s\nWhen: %s\nWhere: %s",
			intent.String("title", "New Event"),
			intent.String("start", "Not specified"),
			intent.String("location", "Not specified"))
		return domain.NewDraftAction(a.Name(), "create_event", desc, params), nil

	case "update":
		params := map[string]interface{}{
			"event_id": intent.String("event_id", ""),
			"start":    intent.String("start", ""),
			"end":      intent.String("end", ""),
			"account":  intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Reschedule event %s to %s",
			intent.String("event_id", "?"), intent.String("start", "?"))
		return domain.NewDraftAction(a.Name(), "update_event", desc, params), nil

	case "delete":
		params := map[string]interface{}{
			"event_id": intent.String("event_id", ""),
			"account":  intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Delete event %s", intent.String("event_id", "?"))
		return domain.NewDraftAction(a.Name(), "delete_event", desc, params), nil

	default:
		return domain.DraftAction{}, fmt.Errorf("calendar agent cannot propose action %q", intent.Action)
	}
}

func (a *CalendarAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	conn, err := a.ForAccount(action.StringParam("account", DefaultAccount))
	if err != nil {
		return "", err
	}
	result, err := conn.ExecuteAction(ctx, action.ActionType, action.Params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Calendar updated via %s: %s", conn.Name(), result), nil
}

func (a *CalendarAgent) Capabilities() []string {
	return []string{
		"unified view across all connected calendars",
		"search events by time window",
		"create events (draft mode)",
		"reschedule and cancel events (draft mode)",
	}
}

func (a *CalendarAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "get_calendar_events",
			Description: "Get calendar events from all connected calendars",
			Parameters: domain.Params(map[string]interface{}{
				"hours": domain.Prop("integer", "Hours to look ahead (default: 24)"),
			}),
		},
	}
}

func (a *CalendarAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "get_calendar_events":
		hours := intCriterion(call.Arguments, "hours", 24)
		events, err := a.Search(ctx, map[string]interface{}{"hours": hours})
		if err != nil {
			return "", err
		}
		if len(events) == 0 {
			return fmt.Sprintf("No events in the next %d hours.", hours), nil
		}
		lines := []string{fmt.Sprintf("Events in the next %d hours:", hours)}
		for _, event := range events {
			// Connectors store event times as time.Time values.
			line := "- " + event.Str("title")
			if start := event.Time("start"); !start.IsZero() {
				line += " - " + start.Format("Mon Jan 2 15:04")
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n"), nil
	default:
		return "", fmt.Errorf("calendar agent has no tool %q", call.Name)
	}
}

func (a *CalendarAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *CalendarAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

func normalizeEvent(raw domain.Record) domain.Record {
	out := domain.Record{
		"id":       raw.Str("id"),
		"title":    raw.Str("title"),
		"start":    raw["start"],
		"end":      raw["end"],
		"location": raw.Str("location"),
		"account":  raw.Str("account"),
		"provider": raw.Str("provider"),
	}
	if out.Str("title") == "" {
		if v := raw.Str("summary"); v != "" {
			out["title"] = v
		} else {
			out["title"] = "Untitled"
		}
	}
	return out
}
