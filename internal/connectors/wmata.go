package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const wmataBaseURL = "https://api.wmata.com"

// Common DC Metro stations. Free-text station names resolve against this
// table; unknown names fall back to the "All" predictions endpoint.
var wmataStationCodes = map[string]string{
	"metro center":     "A01",
	"gallery place":    "B01",
	"union station":    "B03",
	"dupont circle":    "A03",
	"foggy bottom":     "C04",
	"farragut north":   "A02",
	"farragut west":    "C03",
	"mcpherson square": "C02",
	"smithsonian":      "D02",
	"l'enfant plaza":   "D03",
	"pentagon":         "C07",
	"pentagon city":    "C08",
	"crystal city":     "C09",
	"national airport": "C10",
	"dca":              "C10",
	"rosslyn":          "C05",
	"clarendon":        "K02",
	"ballston":         "K04",
	"bethesda":         "A09",
	"silver spring":    "B09",
	"columbia heights": "E04",
	"u street":         "E03",
	"shaw":             "E02",
	"navy yard":        "F05",
	"anacostia":        "F06",
	"king street":      "C13",
	"eastern market":   "D06",
	"capitol south":    "D05",
	"judiciary square": "B02",
	"tenleytown":       "A07",
	"cleveland park":   "A05",
	"woodley park":     "A04",
	"noma":             "B35",
}

var wmataLineNames = map[string]string{
	"RD": "Red Line",
	"OR": "Orange Line",
	"BL": "Blue Line",
	"GR": "Green Line",
	"YL": "Yellow Line",
	"SV": "Silver Line",
}

// WMATA is the Washington Metropolitan Area Transit Authority connector:
// real-time Metrorail and Metrobus predictions. Read-only.
type WMATA struct {
	base
	client  *http.Client
	baseURL string
	apiKey  string
}

var _ ports.Connector = (*WMATA)(nil)

func NewWMATA(cfg Config) *WMATA {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = wmataBaseURL
	}
	return &WMATA{
		base:    newBase("wmata", cfg.Account),
		client:  newHTTPClient(10 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Authenticate verifies the API key against the incidents endpoint.
func (w *WMATA) Authenticate(ctx context.Context) error {
	if w.apiKey == "" {
		return fmt.Errorf("wmata api key not configured (get one at developer.wmata.com)")
	}
	var probe struct {
		Incidents []interface{} `json:"Incidents"`
	}
	if err := getJSON(ctx, w.client, w.baseURL+"/Incidents.svc/json/Incidents", w.headers(), &probe); err != nil {
		return fmt.Errorf("wmata key check failed: %w", err)
	}
	w.ready = true
	return nil
}

// Search returns predictions. criteria: station (name or code), mode
// ("metro"/"bus"/"any"), stop_id for bus, limit.
func (w *WMATA) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	station, _ := criteria["station"].(string)
	mode, _ := criteria["mode"].(string)
	if mode == "" {
		mode = "metro"
	}

	var records []domain.Record
	if mode == "metro" || mode == "any" {
		rail, err := w.railPredictions(ctx, station)
		if err != nil {
			return nil, err
		}
		records = append(records, rail...)
	}
	if mode == "bus" || mode == "any" {
		if stopID, _ := criteria["stop_id"].(string); stopID != "" {
			bus, err := w.busPredictions(ctx, stopID)
			if err != nil {
				return nil, err
			}
			records = append(records, bus...)
		}
	}
	return records, nil
}

func (w *WMATA) railPredictions(ctx context.Context, station string) ([]domain.Record, error) {
	code := resolveStation(station)
	if code == "" {
		code = "All"
	}

	var resp struct {
		Trains []struct {
			Line            string `json:"Line"`
			DestinationName string `json:"DestinationName"`
			Destination     string `json:"Destination"`
			Min             string `json:"Min"`
			Car             string `json:"Car"`
		} `json:"Trains"`
	}
	url := w.baseURL + "/StationPrediction.svc/json/GetPrediction/" + code
	if err := getJSON(ctx, w.client, url, w.headers(), &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	var records []domain.Record
	for _, train := range resp.Trains {
		minutes, ok := parseTrainMinutes(train.Min)
		if !ok {
			continue
		}
		status := "On Time"
		if train.Min == "ARR" || train.Min == "BRD" {
			status = "Arriving"
		}
		line := train.Line
		if name, ok := wmataLineNames[line]; ok {
			line = name
		}
		records = append(records, domain.Record{
			"route":        train.Line,
			"line":         line,
			"destination":  train.DestinationName,
			"headsign":     train.Destination,
			"time":         now.Add(time.Duration(minutes) * time.Minute),
			"minutes_away": minutes,
			"status":       status,
			"mode":         "metro",
			"cars":         train.Car,
		})
	}
	return records, nil
}

func (w *WMATA) busPredictions(ctx context.Context, stopID string) ([]domain.Record, error) {
	var resp struct {
		Predictions []struct {
			RouteID       string `json:"RouteID"`
			DirectionText string `json:"DirectionText"`
			Minutes       int    `json:"Minutes"`
			VehicleID     string `json:"VehicleID"`
		} `json:"Predictions"`
	}
	url := w.baseURL + "/NextBusService.svc/json/jPredictions?StopID=" + stopID
	if err := getJSON(ctx, w.client, url, w.headers(), &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	var records []domain.Record
	for _, pred := range resp.Predictions {
		records = append(records, domain.Record{
			"route":        pred.RouteID,
			"destination":  pred.DirectionText,
			"headsign":     pred.DirectionText,
			"time":         now.Add(time.Duration(pred.Minutes) * time.Minute),
			"minutes_away": pred.Minutes,
			"status":       "On Time",
			"mode":         "bus",
			"vehicle_id":   pred.VehicleID,
		})
	}
	return records, nil
}

// ExecuteAction always fails: WMATA is read-only.
func (w *WMATA) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	return "", fmt.Errorf("wmata is read-only, cannot execute %q", actionType)
}

func (w *WMATA) HealthCheck(ctx context.Context) bool { return w.ready }

func (w *WMATA) headers() map[string]string {
	return map[string]string{"api_key": w.apiKey}
}

// resolveStation converts a station name to its WMATA code. Three-character
// codes pass through; names match exactly first, then by substring.
func resolveStation(station string) string {
	if station == "" {
		return ""
	}
	if len(station) == 3 && station[0] >= 'A' && station[0] <= 'Z' {
		if _, err := strconv.Atoi(station[1:]); err == nil {
			return strings.ToUpper(station)
		}
	}
	name := strings.ToLower(strings.TrimSpace(station))
	if code, ok := wmataStationCodes[name]; ok {
		return code
	}
	for known, code := range wmataStationCodes {
		if strings.Contains(known, name) || strings.Contains(name, known) {
			return code
		}
	}
	return ""
}

// parseTrainMinutes interprets the WMATA Min field: "ARR"/"BRD" mean now,
// "---" means no data.
func parseTrainMinutes(min string) (int, bool) {
	switch min {
	case "ARR", "BRD":
		return 0, true
	case "---", "":
		return 0, false
	}
	n, err := strconv.Atoi(min)
	if err != nil {
		return 0, false
	}
	return n, true
}
