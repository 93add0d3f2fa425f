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

// TransportMode classifies a transit connector or departure.
type TransportMode string

const (
	ModeMetro     TransportMode = "metro"
	ModeBus       TransportMode = "bus"
	ModeRail      TransportMode = "rail"
	ModeRideshare TransportMode = "rideshare"
	ModeBikeshare TransportMode = "bikeshare"
	ModeAny       TransportMode = "any"
)

// TransportAgent aggregates real-time departures across transit providers.
// It is informational: transport queries never produce side-effecting drafts.
type TransportAgent struct {
	connectorSet
	logger *slog.Logger

	homeStation string
	modesByType map[string][]TransportMode // connector type to the modes it serves
}

var _ ports.Agent = (*TransportAgent)(nil)

func NewTransportAgent(logger *slog.Logger) *TransportAgent {
	return &TransportAgent{
		connectorSet: newConnectorSet(logger),
		logger:       logger,
		modesByType:  map[string][]TransportMode{},
	}
}

// SetHomeStation sets the default departure station used when a query names
// none.
func (a *TransportAgent) SetHomeStation(station string) { a.homeStation = station }

// SetProviderModes declares which transport modes a connector type serves,
// so mode-filtered searches skip providers that cannot answer.
func (a *TransportAgent) SetProviderModes(connectorType string, modes ...TransportMode) {
	a.modesByType[connectorType] = modes
}

func (a *TransportAgent) Name() string { return "transport" }

func (a *TransportAgent) Description() string {
	return "Real-time transit info - metro, bus, commuter rail, bikeshare"
}

// Understand extracts mode and from/to stations from the query.
func (a *TransportAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	q := strings.ToLower(query)

	mode := ModeAny
	switch {
	case containsAny(q, "metro", "subway", "train"):
		mode = ModeMetro
	case strings.Contains(q, "bus"):
		mode = ModeBus
	case containsAny(q, "amtrak", "marc", "vre", "commuter"):
		mode = ModeRail
	case containsAny(q, "uber", "lyft", "rideshare"):
		mode = ModeRideshare
	case containsAny(q, "bike", "bikeshare"):
		mode = ModeBikeshare
	}

	station, destination := parseFromTo(q)
	if station == "" {
		station = a.homeStation
	}

	return domain.NewIntent("departures", map[string]interface{}{
		"station":     station,
		"destination": destination,
		"mode":        string(mode),
		"query":       query,
	}), nil
}

// Search returns departures across all matching providers, soonest first.
// criteria: station, destination, mode, limit (default 10).
func (a *TransportAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	modeStr, _ := criteria["mode"].(string)
	mode := TransportMode(modeStr)
	if mode == "" {
		mode = ModeAny
	}
	limit := intCriterion(criteria, "limit", 10)

	accept := func(conn ports.Connector) bool {
		if mode == ModeAny {
			return true
		}
		modes, known := a.modesByType[conn.Type()]
		if !known {
			return true // unclassified providers answer everything
		}
		for _, m := range modes {
			if m == mode {
				return true
			}
		}
		return false
	}

	records := a.fanOutSearch(ctx, a.Name(), criteria, accept)

	for i := range records {
		records[i] = normalizeDeparture(records[i])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time("time").Before(records[j].Time("time"))
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ProposeAction exists to satisfy the agent contract; transport has no
// side-effecting operations.
func (a *TransportAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	return domain.NewDraftAction(a.Name(), "info_only",
		"Transport queries are informational - no action needed.", intent.Fields), nil
}

func (a *TransportAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	return "Transport information retrieved", nil
}

func (a *TransportAgent) Capabilities() []string {
	caps := []string{}
	for _, conn := range a.Connectors() {
		modes := a.modesByType[conn.Type()]
		parts := make([]string, len(modes))
		for i, m := range modes {
			parts[i] = string(m)
		}
		caps = append(caps, fmt.Sprintf("%s (%s)", conn.Name(), strings.Join(parts, ", ")))
	}
	if a.homeStation != "" {
		caps = append(caps, "default station: "+a.homeStation)
	}
	return caps
}

func (a *TransportAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "get_next_train",
			Description: "Get next train/transit departures from a station",
			Parameters: domain.Params(map[string]interface{}{
				"station":     domain.Prop("string", "Station name"),
				"destination": domain.Prop("string", "Optional destination station"),
				"mode":        domain.Prop("string", "metro, bus, rail, bikeshare or any"),
			}, "station"),
		},
	}
}

func (a *TransportAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "get_next_train":
		departures, err := a.Search(ctx, call.Arguments)
		if err != nil {
			return "", err
		}
		if len(departures) == 0 {
			return "No upcoming departures found.", nil
		}
		lines := []string{"Upcoming departures:"}
		for i, dep := range departures {
			if i == 5 {
				break
			}
			// Connectors store departure times as time.Time values.
			line := "- " + dep.Str("route")
			if dest := dep.Str("destination"); dest != "" {
				line += " to " + dest
			}
			if at := dep.Time("time"); !at.IsZero() {
				line += " at " + at.Format("15:04")
			}
			lines = append(lines, line+" ("+dep.Str("status")+")")
		}
		return strings.Join(lines, "\n"), nil
	default:
		return "", fmt.Errorf("transport agent has no tool %q", call.Name)
	}
}

func (a *TransportAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *TransportAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

// parseFromTo extracts "from X to Y" station names out of a lowercased query.
func parseFromTo(q string) (station, destination string) {
	if idx := strings.Index(q, "from "); idx >= 0 {
		rest := q[idx+len("from "):]
		if to := strings.Index(rest, " to "); to >= 0 {
			station = strings.TrimSpace(rest[:to])
		} else {
			station = firstWords(rest, 4)
		}
	}
	if idx := strings.LastIndex(q, " to "); idx >= 0 {
		destination = firstWords(q[idx+len(" to "):], 4)
	}
	return station, destination
}

func firstWords(s string, n int) string {
	words := strings.Fields(strings.TrimSpace(s))
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func normalizeDeparture(raw domain.Record) domain.Record {
	out := domain.Record{
		"route":       raw.Str("route"),
		"destination": raw.Str("destination"),
		"time":        raw["time"],
		"mode":        raw.Str("mode"),
		"status":      raw.Str("status"),
		"account":     raw.Str("account"),
		"provider":    raw.Str("provider"),
	}
	if out.Str("route") == "" {
		out["route"] = raw.Str("line")
	}
	if out.Str("status") == "" {
		out["status"] = "On Time"
	}
	return out
}
