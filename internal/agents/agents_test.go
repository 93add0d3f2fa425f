package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// stubConnector is a canned-response connector for agent tests.
type stubConnector struct {
	typ       string
	account   string
	records   []domain.Record
	searchErr error
	execErr   error
	executed  []string
	ready     bool
}

var _ ports.Connector = (*stubConnector)(nil)

func (s *stubConnector) Name() string    { return s.typ + ":" + s.account }
func (s *stubConnector) Type() string    { return s.typ }
func (s *stubConnector) Account() string { return s.account }

func (s *stubConnector) Authenticate(ctx context.Context) error {
	s.ready = true
	return nil
}

func (s *stubConnector) Ready() bool { return s.ready }

func (s *stubConnector) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	out := make([]domain.Record, len(s.records))
	for i, r := range s.records {
		cp := domain.Record{}
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (s *stubConnector) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	if s.execErr != nil {
		return "", s.execErr
	}
	s.executed = append(s.executed, actionType)
	return "done", nil
}

func (s *stubConnector) HealthCheck(ctx context.Context) bool { return s.ready }
func (s *stubConnector) Close() error                         { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectorSet_RegisterAndDefaults(t *testing.T) {
	set := newConnectorSet(testLogger())

	work := &stubConnector{typ: "gmail", account: "work"}
	personal := &stubConnector{typ: "gmail", account: "personal"}
	require.NoError(t, set.Register(work))
	require.NoError(t, set.Register(personal))

	// Second connector for an already-owned account is rejected.
	err := set.Register(&stubConnector{typ: "outlook", account: "work"})
	assert.Error(t, err)

	// First registered is the default until overridden.
	conn, err := set.ForAccount("")
	require.NoError(t, err)
	assert.Equal(t, "work", conn.Account())

	require.NoError(t, set.SetDefaultAccount("personal"))
	conn, err = set.ForAccount(DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, "personal", conn.Account())

	assert.Error(t, set.SetDefaultAccount("nope"))

	// Composite "type:account" names resolve too.
	conn, err = set.ForAccount("gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "work", conn.Account())

	_, err = set.ForAccount("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}

func TestFanOutSearch_PartialFailure(t *testing.T) {
	agent := NewEmailAgent(testLogger())
	require.NoError(t, agent.Register(&stubConnector{
		typ: "gmail", account: "work",
		records: []domain.Record{{"id": "1", "subject": "hello", "date": time.Now()}},
	}))
	require.NoError(t, agent.Register(&stubConnector{
		typ: "outlook", account: "personal",
		searchErr: errors.New("token expired"),
	}))

	results, err := agent.Search(context.Background(), map[string]interface{}{"query": "hello"})
	require.NoError(t, err, "one failing provider must not fail the search")
	require.Len(t, results, 1)
	assert.Equal(t, "work", results[0].Str("account"))
	assert.Equal(t, "gmail", results[0].Str("provider"))
}

func TestEmailAgent_Understand(t *testing.T) {
	agent := NewEmailAgent(testLogger())
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"reply to John's message", "reply"},
		{"forward the invoice to accounting", "forward"},
		{"compose a status update", "compose"},
		{"send email to alice about lunch", "compose"},
		{"find emails from bob", "search"},
	}
	for _, tc := range cases {
		intent, err := agent.Understand(ctx, tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, intent.Action, "query: %s", tc.query)
	}
}

func TestEmailAgent_SearchSortsMostRecentFirst(t *testing.T) {
	agent := NewEmailAgent(testLogger())
	now := time.Now()
	require.NoError(t, agent.Register(&stubConnector{
		typ: "gmail", account: "work",
		records: []domain.Record{
			{"id": "old", "subject": "old", "date": now.Add(-2 * time.Hour)},
			{"id": "new", "subject": "new", "date": now},
		},
	}))

	results, err := agent.Search(context.Background(), map[string]interface{}{"query": "x"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].Str("id"))
	assert.Equal(t, "old", results[1].Str("id"))
}

func TestEmailAgent_ExecuteRoutesByAccount(t *testing.T) {
	agent := NewEmailAgent(testLogger())
	work := &stubConnector{typ: "gmail", account: "work"}
	require.NoError(t, agent.Register(work))

	action := domain.NewDraftAction("email", "send_email", "send",
		map[string]interface{}{"account": "work", "to": "a@b.com"})
	result, err := agent.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Contains(t, result, "gmail:work")
	assert.Equal(t, []string{"send_email"}, work.executed)

	bad := domain.NewDraftAction("email", "send_email", "send",
		map[string]interface{}{"account": "ghost"})
	_, err = agent.Execute(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}

func TestCalendarAgent_Understand(t *testing.T) {
	agent := NewCalendarAgent(testLogger())
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"schedule a meeting tomorrow at 3", "create"},
		{"reschedule my 1:1 to friday", "update"},
		{"cancel the dentist appointment", "delete"},
		{"what's on my calendar", "search"},
	}
	for _, tc := range cases {
		intent, err := agent.Understand(ctx, tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, intent.Action, "query: %s", tc.query)
	}
}

func TestCalendarAgent_SearchChronological(t *testing.T) {
	agent := NewCalendarAgent(testLogger())
	now := time.Now()
	require.NoError(t, agent.Register(&stubConnector{
		typ: "google-calendar", account: "work",
		records: []domain.Record{
			{"id": "later", "title": "later", "start": now.Add(3 * time.Hour)},
			{"id": "sooner", "title": "sooner", "start": now.Add(time.Hour)},
		},
	}))

	events, err := agent.Search(context.Background(), map[string]interface{}{"hours": 24})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sooner", events[0].Str("id"))
}

func TestCalendarAgent_ToolFormatsEventTimes(t *testing.T) {
	agent := NewCalendarAgent(testLogger())
	start := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	require.NoError(t, agent.Register(&stubConnector{
		typ: "google-calendar", account: "work",
		records: []domain.Record{
			{"id": "1", "title": "Standup", "start": start},
			{"id": "2", "title": "Untimed reminder"},
		},
	}))

	out, err := agent.HandleTool(context.Background(), domain.ToolCall{
		Name:      "get_calendar_events",
		Arguments: map[string]interface{}{"hours": 48},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "- Standup - Mon Aug 31 09:30")
	assert.Contains(t, out, "- Untimed reminder")
	assert.NotContains(t, out, "Untimed reminder - ")
}

func TestTransportAgent_Understand(t *testing.T) {
	agent := NewTransportAgent(testLogger())
	agent.SetHomeStation("Dupont Circle")
	ctx := context.Background()

	intent, err := agent.Understand(ctx, "when is the next train from metro center to shady grove")
	require.NoError(t, err)
	assert.Equal(t, string(ModeMetro), intent.String("mode", ""))
	assert.Equal(t, "metro center", intent.String("station", ""))
	assert.Equal(t, "shady grove", intent.String("destination", ""))

	intent, err = agent.Understand(ctx, "next bus")
	require.NoError(t, err)
	assert.Equal(t, string(ModeBus), intent.String("mode", ""))
	assert.Equal(t, "Dupont Circle", intent.String("station", ""), "home station default")

	intent, err = agent.Understand(ctx, "how do I get downtown")
	require.NoError(t, err)
	assert.Equal(t, string(ModeAny), intent.String("mode", ""))
}

func TestTransportAgent_SearchFiltersByMode(t *testing.T) {
	agent := NewTransportAgent(testLogger())
	agent.SetProviderModes("wmata", ModeMetro, ModeBus)
	agent.SetProviderModes("bikeshare", ModeBikeshare)

	now := time.Now()
	wmata := &stubConnector{typ: "wmata", account: "default",
		records: []domain.Record{{"route": "Red", "destination": "Shady Grove", "time": now.Add(5 * time.Minute)}}}
	bikes := &stubConnector{typ: "bikeshare", account: "bikes",
		records: []domain.Record{{"route": "dock", "destination": "14th St", "time": now.Add(time.Minute)}}}
	require.NoError(t, agent.Register(wmata))
	require.NoError(t, agent.Register(bikes))

	deps, err := agent.Search(context.Background(), map[string]interface{}{"mode": "metro"})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Red", deps[0].Str("route"))
	assert.Equal(t, "On Time", deps[0].Str("status"))

	all, err := agent.Search(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Soonest first.
	assert.Equal(t, "dock", all[0].Str("route"))
}

func TestTransportAgent_ToolFormatsDepartureTimes(t *testing.T) {
	agent := NewTransportAgent(testLogger())
	departs := time.Date(2026, 8, 29, 17, 42, 0, 0, time.UTC)
	require.NoError(t, agent.Register(&stubConnector{
		typ: "wmata", account: "default",
		records: []domain.Record{
			{"route": "Red", "destination": "Shady Grove", "time": departs, "status": "On Time"},
			{"route": "C2", "time": departs.Add(3 * time.Minute), "status": "Delayed"},
		},
	}))

	out, err := agent.HandleTool(context.Background(), domain.ToolCall{
		Name:      "get_next_train",
		Arguments: map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "- Red to Shady Grove at 17:42 (On Time)")
	assert.Contains(t, out, "- C2 at 17:45 (Delayed)", "missing destination collapses, time still renders")
}

func TestWeatherAgent_Understand(t *testing.T) {
	agent := NewWeatherAgent(testLogger())
	agent.SetDefaultLocation("Washington, DC")
	ctx := context.Background()

	intent, err := agent.Understand(ctx, "what's the forecast for Boston this week")
	require.NoError(t, err)
	assert.Equal(t, "forecast", intent.String("type", ""))
	assert.Equal(t, 7, intent.Int("days", 0))
	assert.Equal(t, "Boston", intent.String("location", ""))

	intent, err = agent.Understand(ctx, "weather right now")
	require.NoError(t, err)
	assert.Equal(t, "current", intent.String("type", ""))
	assert.Equal(t, "Washington, DC", intent.String("location", ""))

	intent, err = agent.Understand(ctx, "what should I pack for my trip")
	require.NoError(t, err)
	assert.Equal(t, "forecast", intent.String("type", ""))
	assert.True(t, intent.Bool("packing", false))
}

func TestFlightAgent_Understand(t *testing.T) {
	agent := NewFlightAgent(testLogger())
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"status of AA123", "AA123"},
		{"is UA 456 on time", "UA456"},
		{"track united 789", "UA789"},
		{"delta airlines 22 status", "DL22"},
		{"flight b61501", "B61501"},
	}
	for _, tc := range cases {
		intent, err := agent.Understand(ctx, tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, intent.String("flight_number", ""), "query: %s", tc.query)
	}

	// "my flight" falls back to the tracked list.
	agent.TrackFlight("wn100")
	intent, err := agent.Understand(ctx, "is my flight delayed")
	require.NoError(t, err)
	assert.Equal(t, "WN100", intent.String("flight_number", ""))
}

func TestFlightAgent_SearchRequiresNumber(t *testing.T) {
	agent := NewFlightAgent(testLogger())

	_, err := agent.Search(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestTripAgent_Understand(t *testing.T) {
	agent := NewTripAgent(testLogger())
	ctx := context.Background()

	intent, err := agent.Understand(ctx, "find hotels in Miami under $200 with pool and wifi")
	require.NoError(t, err)
	assert.Equal(t, "search_hotels", intent.Action)
	assert.Equal(t, "Miami", intent.String("location", ""))
	assert.Equal(t, 200, intent.Int("max_price", 0))
	assert.Contains(t, intent.String("amenities", ""), "pool")
	assert.Contains(t, intent.String("amenities", ""), "wifi")

	intent, err = agent.Understand(ctx, "book a luxury stay in Paris")
	require.NoError(t, err)
	assert.Equal(t, "book", intent.Action)
	assert.Equal(t, "stars", intent.String("sort_by", ""))
}

func TestTripAgent_SearchFiltersAndSorts(t *testing.T) {
	agent := NewTripAgent(testLogger())
	require.NoError(t, agent.Register(&stubConnector{
		typ: "hotels", account: "default",
		records: []domain.Record{
			{"name": "Budget Inn", "price_per_night": 90.0, "star_rating": 2.0, "review_score": 6.5, "amenities": "wifi,parking"},
			{"name": "Grand Plaza", "price_per_night": 320.0, "star_rating": 5.0, "review_score": 9.1, "amenities": "pool,spa,wifi"},
			{"name": "Midtown Suites", "price_per_night": 180.0, "star_rating": 3.5, "review_score": 8.2, "amenities": "wifi,gym"},
		},
	}))

	hotels, err := agent.Search(context.Background(), map[string]interface{}{
		"location":  "Miami",
		"max_price": 200,
	})
	require.NoError(t, err)
	require.Len(t, hotels, 2)
	// Default sort is price ascending.
	assert.Equal(t, "Budget Inn", hotels[0].Str("name"))
	assert.Equal(t, "Midtown Suites", hotels[1].Str("name"))

	hotels, err = agent.Search(context.Background(), map[string]interface{}{
		"location": "Miami",
		"sort_by":  "rating",
	})
	require.NoError(t, err)
	require.Len(t, hotels, 3)
	assert.Equal(t, "Grand Plaza", hotels[0].Str("name"))

	_, err = agent.Search(context.Background(), map[string]interface{}{})
	assert.Error(t, err, "destination is required")
}

func TestAgents_ProposeActionDrafts(t *testing.T) {
	ctx := context.Background()

	email := NewEmailAgent(testLogger())
	draft, err := email.ProposeAction(ctx, domain.NewIntent("compose", map[string]interface{}{
		"to": "a@b.com", "subject": "hi", "body": "hello there",
	}))
	require.NoError(t, err)
	assert.Equal(t, "send_email", draft.ActionType)
	assert.Equal(t, domain.ActionPending, draft.Status)
	assert.Equal(t, "a@b.com", draft.Params["to"])
	assert.Equal(t, DefaultAccount, draft.Params["account"])

	calendar := NewCalendarAgent(testLogger())
	draft, err = calendar.ProposeAction(ctx, domain.NewIntent("create", map[string]interface{}{
		"title": "Standup", "start": "2026-09-01T09:00:00Z",
	}))
	require.NoError(t, err)
	assert.Equal(t, "create_event", draft.ActionType)
	assert.Contains(t, draft.Description, "Standup")

	trip := NewTripAgent(testLogger())
	draft, err = trip.ProposeAction(ctx, domain.NewIntent("book", map[string]interface{}{
		"hotel": "Grand Plaza", "location": "Miami",
	}))
	require.NoError(t, err)
	assert.Equal(t, "book_hotel", draft.ActionType)

	_, err = email.ProposeAction(ctx, domain.NewIntent("teleport", nil))
	assert.Error(t, err)
}

func TestAgents_ToolRoundTrip(t *testing.T) {
	agent := NewEmailAgent(testLogger())
	require.NoError(t, agent.Register(&stubConnector{
		typ: "gmail", account: "work",
		records: []domain.Record{{"id": "1", "subject": "quarterly report", "from": "boss@work.com", "date": time.Now()}},
	}))

	tools := agent.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "search_emails", tools[0].Name)

	out, err := agent.HandleTool(context.Background(), domain.ToolCall{
		Name:      "search_emails",
		Arguments: map[string]interface{}{"query": "report"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "quarterly report")

	_, err = agent.HandleTool(context.Background(), domain.ToolCall{Name: "no_such_tool"})
	assert.Error(t, err)
}

func TestAgents_SetupAndHealth(t *testing.T) {
	agent := NewWeatherAgent(testLogger())
	conn := &stubConnector{typ: "weather.gov", account: "default"}
	require.NoError(t, agent.Register(conn))

	require.NoError(t, agent.Setup(context.Background()))
	assert.True(t, conn.Ready())

	health := agent.HealthCheck(context.Background())
	assert.Equal(t, map[string]bool{"weather.gov:default": true}, health)
}
