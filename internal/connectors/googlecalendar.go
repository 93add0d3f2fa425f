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

const googleCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleCalendar talks to the Google Calendar REST API with a bearer token.
// It reads and writes the account's primary calendar.
type GoogleCalendar struct {
	base
	client     *http.Client
	baseURL    string
	token      string
	calendarID string
}

var _ ports.Connector = (*GoogleCalendar)(nil)

func NewGoogleCalendar(cfg Config) *GoogleCalendar {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = googleCalendarBaseURL
	}
	return &GoogleCalendar{
		base:       newBase("google-calendar", cfg.Account),
		client:     newHTTPClient(20 * time.Second),
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		calendarID: cfg.extra("calendar_id", "primary"),
	}
}

// Authenticate verifies the token by reading the calendar metadata.
func (g *GoogleCalendar) Authenticate(ctx context.Context) error {
	if g.token == "" {
		return fmt.Errorf("google calendar token not configured for account %q", g.account)
	}
	var cal struct {
		ID string `json:"id"`
	}
	calURL := fmt.Sprintf("%s/calendars/%s", g.baseURL, url.PathEscape(g.calendarID))
	if err := getJSON(ctx, g.client, calURL, g.headers(), &cal); err != nil {
		return fmt.Errorf("google calendar auth check failed: %w", err)
	}
	g.ready = true
	return nil
}

// Search lists upcoming events. criteria: hours (look-ahead window,
// default 24), query.
func (g *GoogleCalendar) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	hours := 24
	if h, ok := criteria["hours"].(int); ok && h > 0 {
		hours = h
	} else if h, ok := criteria["hours"].(float64); ok && h > 0 {
		hours = int(h)
	}

	now := time.Now()
	values := url.Values{}
	values.Set("timeMin", now.Format(time.RFC3339))
	values.Set("timeMax", now.Add(time.Duration(hours)*time.Hour).Format(time.RFC3339))
	values.Set("singleEvents", "true")
	values.Set("orderBy", "startTime")
	if q, _ := criteria["query"].(string); q != "" {
		values.Set("q", q)
	}

	var resp struct {
		Items []struct {
			ID       string `json:"id"`
			Summary  string `json:"summary"`
			Location string `json:"location"`
			Start    struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"start"`
			End struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"end"`
		} `json:"items"`
	}
	eventsURL := fmt.Sprintf("%s/calendars/%s/events?%s",
		g.baseURL, url.PathEscape(g.calendarID), values.Encode())
	if err := getJSON(ctx, g.client, eventsURL, g.headers(), &resp); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(resp.Items))
	for _, item := range resp.Items {
		records = append(records, domain.Record{
			"id":       item.ID,
			"title":    item.Summary,
			"location": item.Location,
			"start":    parseCalendarTime(item.Start.DateTime, item.Start.Date),
			"end":      parseCalendarTime(item.End.DateTime, item.End.Date),
		})
	}
	return records, nil
}

// ExecuteAction mutates events. Supported: create_event, update_event,
// delete_event.
func (g *GoogleCalendar) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	str := func(key string) string {
		s, _ := params[key].(string)
		return s
	}
	calendarPath := fmt.Sprintf("%s/calendars/%s/events", g.baseURL, url.PathEscape(g.calendarID))

	switch actionType {
	case "create_event":
		payload := map[string]interface{}{
			"summary":  str("title"),
			"location": str("location"),
			"start":    map[string]string{"dateTime": str("start")},
			"end":      map[string]string{"dateTime": str("end")},
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := postJSON(ctx, g.client, calendarPath, g.headers(), payload, &created); err != nil {
			return "", err
		}
		return "event " + created.ID, nil

	case "update_event":
		id := str("event_id")
		if id == "" {
			return "", fmt.Errorf("update requires event_id")
		}
		payload := map[string]interface{}{}
		if s := str("title"); s != "" {
			payload["summary"] = s
		}
		if s := str("start"); s != "" {
			payload["start"] = map[string]string{"dateTime": s}
		}
		if s := str("end"); s != "" {
			payload["end"] = map[string]string{"dateTime": s}
		}
		if err := g.patch(ctx, calendarPath+"/"+url.PathEscape(id), payload); err != nil {
			return "", err
		}
		return "event " + id + " updated", nil

	case "delete_event":
		id := str("event_id")
		if id == "" {
			return "", fmt.Errorf("delete requires event_id")
		}
		if err := g.delete(ctx, calendarPath+"/"+url.PathEscape(id)); err != nil {
			return "", err
		}
		return "event " + id + " deleted", nil

	default:
		return "", fmt.Errorf("google calendar cannot execute %q", actionType)
	}
}

func (g *GoogleCalendar) HealthCheck(ctx context.Context) bool { return g.ready }

func (g *GoogleCalendar) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.token}
}

func (g *GoogleCalendar) patch(ctx context.Context, url string, payload interface{}) error {
	return doJSON(ctx, g.client, "PATCH", url, g.headers(), payload)
}

func (g *GoogleCalendar) delete(ctx context.Context, url string) error {
	return doJSON(ctx, g.client, "DELETE", url, g.headers(), nil)
}

func parseCalendarTime(dateTime, date string) interface{} {
	if dateTime != "" {
		if t, err := time.Parse(time.RFC3339, dateTime); err == nil {
			return t
		}
		return dateTime
	}
	// All-day events carry a bare date.
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t
	}
	return date
}
