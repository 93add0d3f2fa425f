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

// EmailAgent aggregates search across all configured mail accounts and
// drafts compose/reply/forward actions. Nothing is ever sent directly: send
// operations become draft actions the user must approve.
type EmailAgent struct {
	connectorSet
	logger *slog.Logger
}

var _ ports.Agent = (*EmailAgent)(nil)

func NewEmailAgent(logger *slog.Logger) *EmailAgent {
	return &EmailAgent{
		connectorSet: newConnectorSet(logger),
		logger:       logger,
	}
}

func (a *EmailAgent) Name() string { return "email" }

func (a *EmailAgent) Description() string {
	return "Search and manage emails across all connected mail accounts"
}

// Understand classifies an email request. First match wins: reply beats
// forward beats compose beats the search fallback.
func (a *EmailAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	q := strings.ToLower(query)

	switch {
	case containsAny(q, "reply", "respond"):
		return domain.NewIntent("reply", map[string]interface{}{"query": query}), nil
	case containsAny(q, "forward", "send to"):
		return domain.NewIntent("forward", map[string]interface{}{"query": query}), nil
	case containsAny(q, "compose", "write", "send email", "email to"):
		return domain.NewIntent("compose", map[string]interface{}{"query": query}), nil
	default:
		return domain.NewIntent("search", map[string]interface{}{"query": query}), nil
	}
}

// Search fans out to every mail connector, merges and sorts most recent
// first. criteria: query (string), accounts ("all" or comma-separated
// account names), limit (int, default 20).
func (a *EmailAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	accounts, _ := criteria["accounts"].(string)
	limit := intCriterion(criteria, "limit", 20)

	accept := acceptAccounts(accounts)
	records := a.fanOutSearch(ctx, a.Name(), criteria, accept)

	for i := range records {
		records[i] = normalizeEmail(records[i])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time("date").After(records[j].Time("date"))
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ProposeAction builds the draft for a compose/reply/forward intent.
func (a *EmailAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	switch intent.Action {
	case "compose", "":
		params := map[string]interface{}{
			"to":      intent.String("to", ""),
			"cc":      intent.String("cc", ""),
			"subject": intent.String("subject", ""),
			"body":    intent.String("body", ""),
			"account": intent.String("account", DefaultAccount),
		}
		return domain.NewDraftAction(a.Name(), "send_email", describeEmail(intent), params), nil

	case "reply":
		params := map[string]interface{}{
			"original_id": intent.String("original_id", ""),
			"body":        intent.String("body", ""),
			"account":     intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Reply to: %s\n\n%s",
			intent.String("original_subject", "email"), truncate(intent.String("body", ""), 200))
		return domain.NewDraftAction(a.Name(), "reply_email", desc, params), nil

	case "forward":
		params := map[string]interface{}{
			"original_id": intent.String("original_id", ""),
			"to":          intent.String("to", ""),
			"body":        intent.String("body", ""),
			"account":     intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Forward to: %s\nOriginal: %s",
			intent.String("to", ""), intent.String("original_subject", ""))
		return domain.NewDraftAction(a.Name(), "forward_email", desc, params), nil

	default:
		return domain.DraftAction{}, fmt.Errorf("email agent cannot propose action %q", intent.Action)
	}
}

// Execute sends the approved draft through the connector owning its account.
func (a *EmailAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	conn, err := a.ForAccount(action.StringParam("account", DefaultAccount))
	if err != nil {
		return "", err
	}
	if _, err := conn.ExecuteAction(ctx, action.ActionType, action.Params); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent via %s", conn.Name()), nil
}

func (a *EmailAgent) Capabilities() []string {
	return []string{
		"search emails across multiple accounts",
		"compose new emails (draft mode)",
		"reply to emails (draft mode)",
		"forward emails (draft mode)",
	}
}

func (a *EmailAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "search_emails",
			Description: "Search emails across all connected email accounts",
			Parameters: domain.Params(map[string]interface{}{
				"query":    domain.Prop("string", "Search query (e.g., 'from:john meeting notes')"),
				"accounts": domain.Prop("string", "Which accounts to search: 'all' or comma-separated list"),
			}, "query"),
		},
	}
}

func (a *EmailAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "search_emails":
		results, err := a.Search(ctx, call.Arguments)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "No emails found matching your search.", nil
		}
		lines := []string{fmt.Sprintf("Found %d emails:", len(results))}
		for i, email := range results {
			if i == 10 {
				lines = append(lines, fmt.Sprintf("... and %d more", len(results)-10))
				break
			}
			lines = append(lines, fmt.Sprintf("- %s - %s",
				email.Str("subject"), email.Str("from")))
		}
		return strings.Join(lines, "\n"), nil
	default:
		return "", fmt.Errorf("email agent has no tool %q", call.Name)
	}
}

func (a *EmailAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *EmailAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

// normalizeEmail maps connector-specific keys onto the unified email record.
func normalizeEmail(raw domain.Record) domain.Record {
	out := domain.Record{
		"id":       raw.Str("id"),
		"subject":  raw.Str("subject"),
		"from":     raw.Str("from"),
		"date":     raw["date"],
		"snippet":  raw.Str("snippet"),
		"account":  raw.Str("account"),
		"provider": raw.Str("provider"),
	}
	if out.Str("subject") == "" {
		out["subject"] = "No subject"
	}
	if v := raw.Str("from_name"); v != "" {
		out["from"] = v
	}
	if v := raw.Str("body"); v != "" && out.Str("snippet") == "" {
		out["snippet"] = truncate(v, 120)
	}
	return out
}

func describeEmail(intent domain.Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\n", intent.String("to", "Not specified"))
	if cc := intent.String("cc", ""); cc != "" {
		fmt.Fprintf(&b, "CC: %s\n", cc)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n", intent.String("subject", "No subject"))
	b.WriteString(truncate(intent.String("body", ""), 300))
	return b.String()
}

// acceptAccounts builds a connector filter from an accounts criterion:
// "" or "all" accepts everything, otherwise a comma-separated list of
// account or composite names.
func acceptAccounts(accounts string) func(ports.Connector) bool {
	if accounts == "" || accounts == "all" {
		return nil
	}
	wanted := map[string]bool{}
	for _, name := range strings.Split(accounts, ",") {
		wanted[strings.TrimSpace(name)] = true
	}
	return func(conn ports.Connector) bool {
		return wanted[conn.Account()] || wanted[conn.Name()]
	}
}

func intCriterion(criteria map[string]interface{}, key string, fallback int) int {
	switch v := criteria[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
