package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

var (
	hotelLocationRe = regexp.MustCompile(`(?i)(?:hotels?\s+in|stay\s+in|trip\s+to|visit(?:ing)?)\s+([A-Za-z ,]+)`)
	maxPriceRe      = regexp.MustCompile(`(?:under|less\s+than|max(?:imum)?|budget\s+of?)\s*\$?(\d+)`)
	minStarsRe      = regexp.MustCompile(`(\d(?:\.\d)?)\s*stars?`)
)

var hotelAmenities = []string{
	"pool", "spa", "gym", "wifi", "parking", "restaurant",
	"bar", "beach", "breakfast", "pet friendly",
}

// TripAgent plans trips: hotel search with price/star/amenity filters, and
// booking drafts that require approval.
type TripAgent struct {
	connectorSet
	logger *slog.Logger
}

var _ ports.Agent = (*TripAgent)(nil)

func NewTripAgent(logger *slog.Logger) *TripAgent {
	return &TripAgent{
		connectorSet: newConnectorSet(logger),
		logger:       logger,
	}
}

func (a *TripAgent) Name() string { return "trip" }

func (a *TripAgent) Description() string {
	return "Trip planning with hotel search and cost comparison"
}

// Understand extracts destination, budget, star rating, amenities and sort
// preference from the query.
func (a *TripAgent) Understand(ctx context.Context, query string) (domain.Intent, error) {
	q := strings.ToLower(query)

	fields := map[string]interface{}{
		"query":   query,
		"sort_by": "price",
	}

	if m := hotelLocationRe.FindStringSubmatch(query); m != nil {
		fields["location"] = trimLocation(m[1])
	}
	if m := maxPriceRe.FindStringSubmatch(q); m != nil {
		price, _ := strconv.Atoi(m[1])
		fields["max_price"] = price
	}
	if m := minStarsRe.FindStringSubmatch(q); m != nil {
		stars, _ := strconv.ParseFloat(m[1], 64)
		fields["min_stars"] = stars
	}

	var amenities []string
	for _, amenity := range hotelAmenities {
		if strings.Contains(q, amenity) {
			amenities = append(amenities, amenity)
		}
	}
	if len(amenities) > 0 {
		fields["amenities"] = strings.Join(amenities, ",")
	}

	switch {
	case containsAny(q, "best", "top rated", "highest rated"):
		fields["sort_by"] = "rating"
	case containsAny(q, "luxury", "fancy"):
		fields["sort_by"] = "stars"
		if _, ok := fields["min_stars"]; !ok {
			fields["min_stars"] = 4.0
		}
	}

	action := "search_hotels"
	if containsAny(q, "book", "reserve") {
		action = "book"
	}
	return domain.NewIntent(action, fields), nil
}

// Search finds hotels matching the criteria, applying price/star/amenity
// filters and the requested sort order to the merged results.
// criteria: location (required), max_price, min_stars, amenities, sort_by.
func (a *TripAgent) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	location, _ := criteria["location"].(string)
	if location == "" {
		return nil, fmt.Errorf("destination required for hotel search")
	}

	records := a.fanOutSearch(ctx, a.Name(), criteria, nil)
	records = filterHotels(records, criteria)
	sortHotels(records, criteria)
	return records, nil
}

// ProposeAction drafts a hotel booking. Searches never reach here; only
// book intents become drafts.
func (a *TripAgent) ProposeAction(ctx context.Context, intent domain.Intent) (domain.DraftAction, error) {
	switch intent.Action {
	case "book", "":
		params := map[string]interface{}{
			"hotel_id":  intent.String("hotel_id", ""),
			"hotel":     intent.String("hotel", ""),
			"location":  intent.String("location", ""),
			"check_in":  intent.String("check_in", ""),
			"check_out": intent.String("check_out", ""),
			"account":   intent.String("account", DefaultAccount),
		}
		desc := fmt.Sprintf("Book hotel: %s in %s\nCheck-in: %s, check-out: %s",
			intent.String("hotel", "?"), intent.String("location", "?"),
			intent.String("check_in", "?"), intent.String("check_out", "?"))
		return domain.NewDraftAction(a.Name(), "book_hotel", desc, params), nil

	case "search_hotels":
		desc := fmt.Sprintf("Search hotels in %s", intent.String("location", "unknown"))
		return domain.NewDraftAction(a.Name(), "search_hotels", desc, intent.Fields), nil

	default:
		return domain.DraftAction{}, fmt.Errorf("trip agent cannot propose action %q", intent.Action)
	}
}

func (a *TripAgent) Execute(ctx context.Context, action domain.DraftAction) (string, error) {
	if action.ActionType != "book_hotel" {
		return "Hotel search completed", nil
	}
	conn, err := a.ForAccount(action.StringParam("account", DefaultAccount))
	if err != nil {
		return "", err
	}
	result, err := conn.ExecuteAction(ctx, action.ActionType, action.Params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Hotel booked via %s: %s", conn.Name(), result), nil
}

func (a *TripAgent) Capabilities() []string {
	return []string{
		"search hotels by location",
		"filter by price, star rating and amenities",
		"compare options by price or rating",
		"book hotels (draft mode)",
	}
}

func (a *TripAgent) Tools() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "search_hotels",
			Description: "Search hotels by destination with optional price and rating filters",
			Parameters: domain.Params(map[string]interface{}{
				"location":  domain.Prop("string", "Destination city"),
				"max_price": domain.Prop("integer", "Maximum price per night in USD"),
				"min_stars": domain.Prop("number", "Minimum star rating"),
				"sort_by":   domain.Prop("string", "price, rating or stars"),
			}, "location"),
		},
	}
}

func (a *TripAgent) HandleTool(ctx context.Context, call domain.ToolCall) (string, error) {
	switch call.Name {
	case "search_hotels":
		hotels, err := a.Search(ctx, call.Arguments)
		if err != nil {
			return "", err
		}
		if len(hotels) == 0 {
			return "No hotels found matching your criteria.", nil
		}
		lines := []string{fmt.Sprintf("Found %d hotels:", len(hotels))}
		for i, h := range hotels {
			if i == 5 {
				lines = append(lines, fmt.Sprintf("... and %d more options", len(hotels)-5))
				break
			}
			lines = append(lines, fmt.Sprintf("- %s (%.1f stars) $%.0f/night, rated %.1f/10",
				h.Str("name"), hotelFloat(h, "star_rating"), hotelFloat(h, "price_per_night"),
				hotelFloat(h, "review_score")))
		}
		return strings.Join(lines, "\n"), nil
	default:
		return "", fmt.Errorf("trip agent has no tool %q", call.Name)
	}
}

func (a *TripAgent) Setup(ctx context.Context) error {
	return a.setup(ctx, a.Name())
}

func (a *TripAgent) HealthCheck(ctx context.Context) map[string]bool {
	return a.healthCheck(ctx)
}

func trimLocation(s string) string {
	s = strings.TrimSpace(s)
	for _, word := range []string{"under", "for", "with", "that", "hotel", "hotels"} {
		if strings.HasSuffix(strings.ToLower(s), word) {
			s = strings.TrimSpace(s[:len(s)-len(word)])
		}
	}
	return s
}

func filterHotels(records []domain.Record, criteria map[string]interface{}) []domain.Record {
	maxPrice := float64(intCriterion(criteria, "max_price", 0))
	minStars := floatCriterion(criteria, "min_stars", 0)
	amenitiesStr, _ := criteria["amenities"].(string)
	var wanted []string
	if amenitiesStr != "" {
		wanted = strings.Split(amenitiesStr, ",")
	}

	out := records[:0]
	for _, h := range records {
		if maxPrice > 0 && hotelFloat(h, "price_per_night") > maxPrice {
			continue
		}
		if minStars > 0 && hotelFloat(h, "star_rating") < minStars {
			continue
		}
		if !hasAmenities(h, wanted) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func sortHotels(records []domain.Record, criteria map[string]interface{}) {
	sortBy, _ := criteria["sort_by"].(string)
	sort.SliceStable(records, func(i, j int) bool {
		switch sortBy {
		case "rating":
			return hotelFloat(records[i], "review_score") > hotelFloat(records[j], "review_score")
		case "stars":
			return hotelFloat(records[i], "star_rating") > hotelFloat(records[j], "star_rating")
		default:
			return hotelFloat(records[i], "price_per_night") < hotelFloat(records[j], "price_per_night")
		}
	})
}

func hasAmenities(h domain.Record, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := strings.ToLower(h.Str("amenities"))
	for _, w := range wanted {
		if !strings.Contains(have, strings.TrimSpace(w)) {
			return false
		}
	}
	return true
}

func hotelFloat(h domain.Record, key string) float64 {
	switch v := h[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func floatCriterion(criteria map[string]interface{}, key string, fallback float64) float64 {
	switch v := criteria[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}
