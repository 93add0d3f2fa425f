package connectors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const (
	nwsBaseURL   = "https://api.weather.gov"
	nwsUserAgent = "castellan-assistant (github.com/castellan-ai/castellan)"
)

type cityCoords struct {
	lat, lon float64
	name     string
}

// Built-in geocoding table for common US cities. The NWS API takes
// coordinates only, so free-text locations resolve here first.
var knownCities = map[string]cityCoords{
	"washington":    {38.9072, -77.0369, "Washington, DC"},
	"washington dc": {38.9072, -77.0369, "Washington, DC"},
	"dc":            {38.9072, -77.0369, "Washington, DC"},
	"new york":      {40.7128, -74.0060, "New York, NY"},
	"nyc":           {40.7128, -74.0060, "New York, NY"},
	"los angeles":   {34.0522, -118.2437, "Los Angeles, CA"},
	"chicago":       {41.8781, -87.6298, "Chicago, IL"},
	"miami":         {25.7617, -80.1918, "Miami, FL"},
	"dallas":        {32.7767, -96.7970, "Dallas, TX"},
	"houston":       {29.7604, -95.3698, "Houston, TX"},
	"phoenix":       {33.4484, -112.0740, "Phoenix, AZ"},
	"philadelphia":  {39.9526, -75.1652, "Philadelphia, PA"},
	"san francisco": {37.7749, -122.4194, "San Francisco, CA"},
	"san diego":     {32.7157, -117.1611, "San Diego, CA"},
	"seattle":       {47.6062, -122.3321, "Seattle, WA"},
	"denver":        {39.7392, -104.9903, "Denver, CO"},
	"boston":        {42.3601, -71.0589, "Boston, MA"},
	"atlanta":       {33.7490, -84.3880, "Atlanta, GA"},
	"las vegas":     {36.1699, -115.1398, "Las Vegas, NV"},
	"portland":      {45.5152, -122.6784, "Portland, OR"},
	"minneapolis":   {44.9778, -93.2650, "Minneapolis, MN"},
	"baltimore":     {39.2904, -76.6122, "Baltimore, MD"},
	"austin":        {30.2672, -97.7431, "Austin, TX"},
	"nashville":     {36.1627, -86.7816, "Nashville, TN"},
	"richmond":      {37.5407, -77.4360, "Richmond, VA"},
}

type nwsGridInfo struct {
	forecastURL string
	stationsURL string
	city        string
	state       string
}

// WeatherGov is the NOAA National Weather Service connector. No API key,
// just a mandatory User-Agent. Read-only.
type WeatherGov struct {
	base
	client  *http.Client
	baseURL string

	mu        sync.Mutex
	gridCache map[string]nwsGridInfo
}

var _ ports.Connector = (*WeatherGov)(nil)

func NewWeatherGov(cfg Config) *WeatherGov {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = nwsBaseURL
	}
	return &WeatherGov{
		base:      newBase("weather.gov", cfg.Account),
		client:    newHTTPClient(15 * time.Second),
		baseURL:   strings.TrimRight(baseURL, "/"),
		gridCache: map[string]nwsGridInfo{},
	}
}

func (w *WeatherGov) Authenticate(ctx context.Context) error {
	var probe struct {
		Status string `json:"status"`
	}
	if err := getJSON(ctx, w.client, w.baseURL+"/", w.headers(), &probe); err != nil {
		return fmt.Errorf("weather.gov unreachable: %w", err)
	}
	w.ready = true
	return nil
}

// Search returns weather records. criteria: location (city name), or
// latitude/longitude, type ("current"/"forecast"/"both"), days.
func (w *WeatherGov) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	kind, _ := criteria["type"].(string)
	if kind == "" {
		kind = "both"
	}
	days := 7
	if d, ok := criteria["days"].(int); ok && d > 0 {
		days = d
	} else if d, ok := criteria["days"].(float64); ok && d > 0 {
		days = int(d)
	}

	lat, lon, name, err := w.resolveCoords(criteria)
	if err != nil {
		return nil, err
	}

	grid, err := w.gridPoint(ctx, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("location %q may be outside US coverage: %w", name, err)
	}

	var records []domain.Record
	if kind == "current" || kind == "both" {
		if current, err := w.currentConditions(ctx, grid); err == nil && current != nil {
			records = append(records, current)
		}
	}
	if kind == "forecast" || kind == "both" {
		forecast, err := w.forecast(ctx, grid, days)
		if err != nil {
			return records, err
		}
		records = append(records, forecast...)
	}
	return records, nil
}

// ExecuteAction always fails: weather is read-only.
func (w *WeatherGov) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	return "", fmt.Errorf("weather.gov is read-only, cannot execute %q", actionType)
}

func (w *WeatherGov) HealthCheck(ctx context.Context) bool { return w.ready }

func (w *WeatherGov) headers() map[string]string {
	return map[string]string{
		"User-Agent": nwsUserAgent,
		"Accept":     "application/geo+json",
	}
}

func (w *WeatherGov) resolveCoords(criteria map[string]interface{}) (float64, float64, string, error) {
	if lat, ok := criteria["latitude"].(float64); ok {
		if lon, ok := criteria["longitude"].(float64); ok {
			return lat, lon, fmt.Sprintf("%.4f,%.4f", lat, lon), nil
		}
	}
	location, _ := criteria["location"].(string)
	key := strings.ToLower(strings.TrimSpace(location))
	if city, ok := knownCities[key]; ok {
		return city.lat, city.lon, city.name, nil
	}
	for known, city := range knownCities {
		if strings.Contains(key, known) || strings.Contains(known, key) {
			return city.lat, city.lon, city.name, nil
		}
	}
	return 0, 0, "", fmt.Errorf("unknown location %q", location)
}

func (w *WeatherGov) gridPoint(ctx context.Context, lat, lon float64) (nwsGridInfo, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	w.mu.Lock()
	if grid, ok := w.gridCache[key]; ok {
		w.mu.Unlock()
		return grid, nil
	}
	w.mu.Unlock()

	var resp struct {
		Properties struct {
			Forecast            string `json:"forecast"`
			ObservationStations string `json:"observationStations"`
			RelativeLocation    struct {
				Properties struct {
					City  string `json:"city"`
					State string `json:"state"`
				} `json:"properties"`
			} `json:"relativeLocation"`
		} `json:"properties"`
	}
	url := fmt.Sprintf("%s/points/%.4f,%.4f", w.baseURL, lat, lon)
	if err := getJSON(ctx, w.client, url, w.headers(), &resp); err != nil {
		return nwsGridInfo{}, err
	}

	grid := nwsGridInfo{
		forecastURL: resp.Properties.Forecast,
		stationsURL: resp.Properties.ObservationStations,
		city:        resp.Properties.RelativeLocation.Properties.City,
		state:       resp.Properties.RelativeLocation.Properties.State,
	}
	w.mu.Lock()
	w.gridCache[key] = grid
	w.mu.Unlock()
	return grid, nil
}

func (w *WeatherGov) currentConditions(ctx context.Context, grid nwsGridInfo) (domain.Record, error) {
	if grid.stationsURL == "" {
		return nil, nil
	}
	var stations struct {
		Features []struct {
			Properties struct {
				StationIdentifier string `json:"stationIdentifier"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := getJSON(ctx, w.client, grid.stationsURL, w.headers(), &stations); err != nil {
		return nil, err
	}
	if len(stations.Features) == 0 {
		return nil, nil
	}

	station := stations.Features[0].Properties.StationIdentifier
	var obs struct {
		Properties struct {
			TextDescription string `json:"textDescription"`
			Timestamp       string `json:"timestamp"`
			Temperature     struct {
				Value *float64 `json:"value"`
			} `json:"temperature"`
			RelativeHumidity struct {
				Value *float64 `json:"value"`
			} `json:"relativeHumidity"`
			WindSpeed struct {
				Value *float64 `json:"value"`
			} `json:"windSpeed"`
		} `json:"properties"`
	}
	url := fmt.Sprintf("%s/stations/%s/observations/latest", w.baseURL, station)
	if err := getJSON(ctx, w.client, url, w.headers(), &obs); err != nil {
		return nil, err
	}

	rec := domain.Record{
		"type":        "current",
		"location":    grid.city + ", " + grid.state,
		"station":     station,
		"description": obs.Properties.TextDescription,
		"timestamp":   obs.Properties.Timestamp,
	}
	if c := obs.Properties.Temperature.Value; c != nil {
		rec["temperature"] = fmt.Sprintf("%.0f°F", *c*9/5+32)
	}
	if h := obs.Properties.RelativeHumidity.Value; h != nil {
		rec["humidity"] = fmt.Sprintf("%.0f%%", *h)
	}
	if ms := obs.Properties.WindSpeed.Value; ms != nil {
		rec["wind_speed"] = fmt.Sprintf("%.0f mph", *ms*2.237)
	}
	return rec, nil
}

func (w *WeatherGov) forecast(ctx context.Context, grid nwsGridInfo, days int) ([]domain.Record, error) {
	if grid.forecastURL == "" {
		return nil, fmt.Errorf("no forecast endpoint for grid point")
	}
	var resp struct {
		Properties struct {
			Periods []struct {
				StartTime     string `json:"startTime"`
				IsDaytime     bool   `json:"isDaytime"`
				Temperature   int    `json:"temperature"`
				ShortForecast string `json:"shortForecast"`
				WindSpeed     string `json:"windSpeed"`
				PoP           struct {
					Value *int `json:"value"`
				} `json:"probabilityOfPrecipitation"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := getJSON(ctx, w.client, grid.forecastURL, w.headers(), &resp); err != nil {
		return nil, err
	}

	// Day and night periods collapse into one record per date.
	byDate := map[string]domain.Record{}
	for _, period := range resp.Properties.Periods {
		if len(period.StartTime) < 10 {
			continue
		}
		date := period.StartTime[:10]
		rec, ok := byDate[date]
		if !ok {
			rec = domain.Record{"type": "forecast", "date": date, "precipitation_chance": 0}
			byDate[date] = rec
		}
		if period.IsDaytime {
			rec["high"] = fmt.Sprintf("%d°F", period.Temperature)
			rec["description"] = period.ShortForecast
			rec["wind_speed"] = period.WindSpeed
		} else {
			rec["low"] = fmt.Sprintf("%d°F", period.Temperature)
		}
		if p := period.PoP.Value; p != nil {
			if cur, _ := rec["precipitation_chance"].(int); *p > cur {
				rec["precipitation_chance"] = *p
			}
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[:days]
	}

	records := make([]domain.Record, 0, len(dates))
	for _, date := range dates {
		records = append(records, byDate[date])
	}
	return records, nil
}
