package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const aviationStackBaseURL = "http://api.aviationstack.com/v1"

// AviationStack is the flight status connector. Read-only.
type AviationStack struct {
	base
	client  *http.Client
	baseURL string
	apiKey  string
}

var _ ports.Connector = (*AviationStack)(nil)

func NewAviationStack(cfg Config) *AviationStack {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = aviationStackBaseURL
	}
	return &AviationStack{
		base:    newBase("aviationstack", cfg.Account),
		client:  newHTTPClient(15 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (a *AviationStack) Authenticate(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("aviationstack api key not configured (free tier at aviationstack.com)")
	}
	a.ready = true
	return nil
}

// Search looks up flights by IATA flight number. criteria: flight_number.
func (a *AviationStack) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	number, _ := criteria["flight_number"].(string)
	if number == "" {
		return nil, fmt.Errorf("flight_number required")
	}

	values := url.Values{}
	values.Set("access_key", a.apiKey)
	values.Set("flight_iata", strings.ToUpper(number))

	var resp struct {
		Data []struct {
			FlightStatus string `json:"flight_status"`
			Airline      struct {
				Name string `json:"name"`
			} `json:"airline"`
			Flight struct {
				IATA string `json:"iata"`
			} `json:"flight"`
			Departure flightEndpoint `json:"departure"`
			Arrival   flightEndpoint `json:"arrival"`
		} `json:"data"`
	}
	if err := getJSON(ctx, a.client, a.baseURL+"/flights?"+values.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(resp.Data))
	for _, flight := range resp.Data {
		rec := domain.Record{
			"flight_number": flight.Flight.IATA,
			"airline":       flight.Airline.Name,
			"status":        flight.FlightStatus,
			"departure":     flight.Departure.describe(),
			"arrival":       flight.Arrival.describe(),
		}
		if flight.Departure.Gate != "" {
			rec["gate"] = flight.Departure.Gate
		}
		if flight.Departure.Delay > 0 {
			rec["delay"] = fmt.Sprintf("%d", flight.Departure.Delay)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExecuteAction always fails: flight data is read-only.
func (a *AviationStack) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	return "", fmt.Errorf("aviationstack is read-only, cannot execute %q", actionType)
}

func (a *AviationStack) HealthCheck(ctx context.Context) bool { return a.ready }

type flightEndpoint struct {
	Airport   string `json:"airport"`
	IATA      string `json:"iata"`
	Terminal  string `json:"terminal"`
	Gate      string `json:"gate"`
	Scheduled string `json:"scheduled"`
	Delay     int    `json:"delay"`
}

func (e flightEndpoint) describe() string {
	parts := []string{fmt.Sprintf("%s (%s)", e.Airport, e.IATA)}
	if e.Scheduled != "" {
		parts = append(parts, "scheduled "+e.Scheduled)
	}
	if e.Terminal != "" {
		parts = append(parts, "terminal "+e.Terminal)
	}
	if e.Gate != "" {
		parts = append(parts, "gate "+e.Gate)
	}
	return strings.Join(parts, ", ")
}
