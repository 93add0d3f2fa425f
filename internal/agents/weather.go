package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// WeatherLocation is a named place configured for weather queries.
type WeatherLocation struct {
	Name      string
	Latitude  float64
	Longitude float64
	Address   string
}

// WeatherAgent serves current conditions, forecasts and packing suggestions.
// Informational only: it never produces side-effecting drafts.
type WeatherAgent struct {
	connectorSet
	logger *slog.Logger

	defaultLocation string
	locations       map[string]WeatherLocation
}

var _ ports.Agent = (*WeatherAgent)(nil)

func NewWeatherAgent(logger *slog.Logger) *WeatherAgent {
	return &WeatherAgent{
		connectorSet:    newConnectorSet(logger),
		logger:          logger,
		defaultLocation: "Washington, DC",
		locations:       map[string]WeatherLocation{},
	}
}

// SetDefaultLocation sets the location used when a query names none.
func (a *WeatherAgent) SetDefaultLocation(location string) {
	if location != "" {
		a.defaultLocation = location
	}
}

// AddLocation registers a named location with coordinates, so queries like
// "weather at home" resolve without geocoding.
func (a *WeatherAgent) AddLocation(loc WeatherLocation) {
	a.locations[strings.ToLower(loc.Name)] = loc
}

func (a *WeatherAgent) Name() string { return "weather" }

func (a *WeatherAgent) Description() string {
	return "Weather forecasts, current conditions, and travel preparation"
}

// Understand extracts location, current-vs-forecast and packing flags.
func (a *WeatherAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	q := strings.ToLower(query)

	kind := "both"
	days := 3
	switch {
	case containsAny(q, "forecast", "week", "tomorrow", "next"):
		kind = "forecast"
		if strings.Contains(q, "week") {
			days = 7
		} else if strings.Contains(q, "tomorrow") {
			days = 2
		}
	case containsAny(q, "current", "now", "right now", "today"):
		kind = "current"
	}

	packing := containsAny(q, "pack", "bring", "wear", "clothes")
	if packing {
		kind = "forecast"
	}

	location := extractLocation(query)
	if location == "" {
		location = a.defaultLocation
	}

	return domain.NewIntent("weather", map[string]interface{}{
		"location": location,
		"type":     kind,
		"days":     days,
		"packing":  packing,
		"query":    query,
	}), nil
}

// Search fetches weather data from every weather connector.
// criteria: location, type ("current"/"forecast"/"both"), days, packing.
func (a *WeatherAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	if s, _ := criteria["location"].(string); s == "" {
		criteria["location"] = a.defaultLocation
	}
	if loc, ok := a.locations[strings.ToLower(criteria["location"].(string))]; ok {
		criteria["latitude"] = loc.Latitude
		criteria["longitude"] = loc.Longitude
	}
	return a.fanOutSearch(ctx, a.Name(), criteria, nil), nil
}

// ProposeAction exists to satisfy the agent contract; weather queries have
// no side effects.
func (a *WeatherAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	desc := fmt.Sprintf("Get weather for %s", intent.String("location", a.defaultLocation))
	return domain.NewDraftAction(a.Name(), "get_weather", desc, intent.Fields), nil
}

func (a *WeatherAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	return "Weather information retrieved", nil
}

func (a *WeatherAgent) Capabilities() []string {
	return []string{
		"current weather conditions",
		"multi-day forecasts",
		"packing suggestions for trips",
		"travel weather preparation",
	}
}

func (a *WeatherAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "get_weather",
			Description: "Get current weather and forecast for a location",
			Parameters: domain.Params(map[string]interface{}{
				"location": domain.Prop("string", "City or place name (defaults to home location)"),
				"days":     domain.Prop("integer", "Forecast days (default: 3)"),
			}),
		},
	}
}

func (a *WeatherAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "get_weather":
		location, _ := call.Arguments["location"].(string)
		if location == "" {
			location = a.defaultLocation
		}
		results, err := a.Search(ctx, map[string]interface{}{
			"location": location,
			"type":     "both",
			"days":     intCriterion(call.Arguments, "days", 3),
		})
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("No weather data available for %s.", location), nil
		}
		return formatWeather(location, results), nil
	default:
		return "", fmt.Errorf("weather agent has no tool %q", call.Name)
	}
}

func (a *WeatherAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *WeatherAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

// extractLocation finds "in X", "for X" or "at X" phrases, trimming trailing
// time words and punctuation.
func extractLocation(query string) string {
	q := strings.ToLower(query)
	for _, indicator := range []string{"in ", "for ", "at "} {
		idx := strings.Index(q, indicator)
		if idx < 0 {
			continue
		}
		part := strings.TrimSpace(query[idx+len(indicator):])
		part = strings.TrimRight(part, "?.!")
		for _, suffix := range []string{"tomorrow", "this week", "next week", "today", "forecast", "weather"} {
			if strings.HasSuffix(strings.ToLower(part), suffix) {
				part = strings.TrimSpace(part[:len(part)-len(suffix)])
			}
		}
		if part != "" {
			return part
		}
	}
	return ""
}

func formatWeather(location string, records []domain.Record) string {
	lines := []string{fmt.Sprintf("Weather for %s:", location)}
	for _, rec := range records {
		switch rec.Str("type") {
		case "current":
			lines = append(lines, fmt.Sprintf("Now: %s, %s",
				rec.Str("temperature"), rec.Str("description")))
		case "forecast":
			lines = append(lines, fmt.Sprintf("%s: %s, high %s low %s",
				rec.Str("date"), rec.Str("description"), rec.Str("high"), rec.Str("low")))
		case "packing_suggestions":
			lines = append(lines, "Packing: "+rec.Str("suggestions"))
		}
	}
	if len(lines) == 1 {
		lines = append(lines, "no detailed data from providers")
	}
	return strings.Join(lines, "\n")
}
