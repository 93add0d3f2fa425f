package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

var (
	iataFlightRe = regexp.MustCompile(`\b([A-Z]{2})\s*(\d{1,4})\b`)
	bareFlightRe = regexp.MustCompile(`(?i)flight\s+([A-Z0-9]+)`)

	// Spelled-out carrier names mapped to IATA codes.
	airlinePatterns = []struct {
		re   *regexp.Regexp
		code string
	}{
		{regexp.MustCompile(`american\s*(?:airlines?)?\s*(\d+)`), "AA"},
		{regexp.MustCompile(`united\s*(?:airlines?)?\s*(\d+)`), "UA"},
		{regexp.MustCompile(`delta\s*(?:airlines?)?\s*(\d+)`), "DL"},
		{regexp.MustCompile(`southwest\s*(?:airlines?)?\s*(\d+)`), "WN"},
		{regexp.MustCompile(`jetblue\s*(\d+)`), "B6"},
		{regexp.MustCompile(`alaska\s*(?:airlines?)?\s*(\d+)`), "AS"},
		{regexp.MustCompile(`spirit\s*(\d+)`), "NK"},
		{regexp.MustCompile(`frontier\s*(\d+)`), "F9"},
	}
)

// FlightAgent tracks airline flight status by flight number. Informational
// only.
type FlightAgent struct {
	connectorSet
	logger *slog.Logger

	tracked []string
}

var _ ports.Agent = (*FlightAgent)(nil)

func NewFlightAgent(logger *slog.Logger) *FlightAgent {
	return &FlightAgent{
		connectorSet: newConnectorSet(logger),
		logger:       logger,
	}
}

// TrackFlight adds a flight number to the tracking list so "my flight"
// queries resolve without a number.
func (a *FlightAgent) TrackFlight(flightNumber string) {
	flightNumber = strings.ToUpper(flightNumber)
	for _, f := range a.tracked {
		if f == flightNumber {
			return
		}
	}
	a.tracked = append(a.tracked, flightNumber)
}

// UntrackFlight removes a flight number from the tracking list.
func (a *FlightAgent) UntrackFlight(flightNumber string) {
	flightNumber = strings.ToUpper(flightNumber)
	for i, f := range a.tracked {
		if f == flightNumber {
			a.tracked = append(a.tracked[:i], a.tracked[i+1:]...)
			return
		}
	}
}

func (a *FlightAgent) Name() string { return "flight" }

func (a *FlightAgent) Description() string {
	return "Airline flight status tracking and information"
}

// Understand extracts a flight number: IATA form first (AA123, "UA 456"),
// then spelled-out carriers ("united 456"), then "flight N", then the
// tracked list for "my flight".
func (a *FlightAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	fields := map[string]interface{}{"query": query}

	if m := iataFlightRe.FindStringSubmatch(strings.ToUpper(query)); m != nil {
		fields["flight_number"] = m[1] + m[2]
		return domain.NewIntent("flight_status", fields), nil
	}

	q := strings.ToLower(query)
	for _, p := range airlinePatterns {
		if m := p.re.FindStringSubmatch(q); m != nil {
			fields["flight_number"] = p.code + m[1]
			return domain.NewIntent("flight_status", fields), nil
		}
	}

	if m := bareFlightRe.FindStringSubmatch(query); m != nil {
		fields["flight_number"] = strings.ToUpper(m[1])
		return domain.NewIntent("flight_status", fields), nil
	}

	if strings.Contains(q, "my flight") && len(a.tracked) > 0 {
		fields["flight_number"] = a.tracked[0]
	}
	return domain.NewIntent("flight_status", fields), nil
}

// Search fetches status for one flight number from all flight connectors.
func (a *FlightAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	number, _ := criteria["flight_number"].(string)
	if number == "" {
		return nil, fmt.Errorf("flight number required (e.g., AA123)")
	}
	criteria["flight_number"] = strings.ToUpper(number)
	return a.fanOutSearch(ctx, a.Name(), criteria, nil), nil
}

// ProposeAction exists to satisfy the agent contract; flight queries have
// no side effects.
func (a *FlightAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	desc := fmt.Sprintf("Get status for flight %s", intent.String("flight_number", "unknown"))
	return domain.NewDraftAction(a.Name(), "get_flight_status", desc, intent.Fields), nil
}

func (a *FlightAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	return "Flight information retrieved", nil
}

func (a *FlightAgent) Capabilities() []string {
	caps := []string{
		"real-time flight status by flight number",
		"delay and cancellation checks",
		"gate and terminal information",
	}
	if len(a.tracked) > 0 {
		caps = append(caps, "tracking: "+strings.Join(a.tracked, ", "))
	}
	return caps
}

func (a *FlightAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "get_flight_status",
			Description: "Get real-time status for a flight by flight number",
			Parameters: domain.Params(map[string]interface{}{
				"flight_number": domain.Prop("string", "Flight number, e.g. AA123"),
			}, "flight_number"),
		},
	}
}

func (a *FlightAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "get_flight_status":
		results, err := a.Search(ctx, call.Arguments)
		if err != nil {
			return "", err
		}
		number, _ := call.Arguments["flight_number"].(string)
		if len(results) == 0 {
			return fmt.Sprintf("No information found for flight %s.", number), nil
		}
		return formatFlight(results[0]), nil
	default:
		return "", fmt.Errorf("flight agent has no tool %q", call.Name)
	}
}

func (a *FlightAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *FlightAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

func formatFlight(rec domain.Record) string {
	lines := []string{
		fmt.Sprintf("Flight %s (%s): %s",
			rec.Str("flight_number"), rec.Str("airline"), rec.Str("status")),
	}
	if dep := rec.Str("departure"); dep != "" {
		lines = append(lines, "Departing: "+dep)
	}
	if arr := rec.Str("arrival"); arr != "" {
		lines = append(lines, "Arriving: "+arr)
	}
	if gate := rec.Str("gate"); gate != "" {
		lines = append(lines, "Gate: "+gate)
	}
	if delay := rec.Str("delay"); delay != "" && delay != "0" {
		lines = append(lines, fmt.Sprintf("Delayed by %s minutes", delay))
	}
	return strings.Join(lines, "\n")
}
