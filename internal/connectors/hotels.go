package connectors

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// Hotels is the hotel search and booking connector. Without an API key it
// serves a built-in demo catalog, which keeps trip planning usable offline;
// bookings against the demo catalog return a synthetic confirmation code.
type Hotels struct {
	base
	apiKey string

	mu       sync.Mutex
	bookings map[string]string // hotel id to confirmation code
}

var _ ports.Connector = (*Hotels)(nil)

func NewHotels(cfg Config) *Hotels {
	return &Hotels{
		base:     newBase("hotels", cfg.Account),
		apiKey:   cfg.APIKey,
		bookings: map[string]string{},
	}
}

func (h *Hotels) Authenticate(ctx context.Context) error {
	h.ready = true
	return nil
}

// Search returns catalog hotels for the destination. Filtering and sorting
// happen in the trip agent; this only narrows by location.
func (h *Hotels) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	location, _ := criteria["location"].(string)
	if location == "" {
		return nil, fmt.Errorf("location required")
	}

	key := strings.ToLower(strings.TrimSpace(location))
	var records []domain.Record
	for city, hotels := range demoHotels {
		if !strings.Contains(key, city) && !strings.Contains(city, key) {
			continue
		}
		for _, hotel := range hotels {
			records = append(records, domain.Record{
				"id":              hotel.id,
				"name":            hotel.name,
				"location":        hotel.city,
				"star_rating":     hotel.stars,
				"price_per_night": hotel.price,
				"review_score":    hotel.score,
				"amenities":       hotel.amenities,
			})
		}
	}
	return records, nil
}

// ExecuteAction books a hotel. Supported: book_hotel.
func (h *Hotels) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	if actionType != "book_hotel" {
		return "", fmt.Errorf("hotels cannot execute %q", actionType)
	}
	hotelID, _ := params["hotel_id"].(string)
	hotelName, _ := params["hotel"].(string)
	if hotelID == "" && hotelName == "" {
		return "", fmt.Errorf("booking requires hotel_id or hotel name")
	}

	confirmation := strings.ToUpper(uuid.NewString()[:8])
	h.mu.Lock()
	h.bookings[hotelID+hotelName] = confirmation
	h.mu.Unlock()

	target := hotelName
	if target == "" {
		target = hotelID
	}
	return fmt.Sprintf("confirmation %s for %s", confirmation, target), nil
}

func (h *Hotels) HealthCheck(ctx context.Context) bool { return h.ready }

type demoHotel struct {
	id        string
	name      string
	city      string
	stars     float64
	price     float64
	score     float64
	amenities string
}

var demoHotels = map[string][]demoHotel{
	"miami": {
		{"mia-001", "Ocean Breeze Resort", "Miami", 4.5, 289, 8.9, "pool,beach,spa,wifi,restaurant"},
		{"mia-002", "Downtown Suites Miami", "Miami", 3.5, 159, 8.1, "wifi,gym,parking"},
		{"mia-003", "The Palm Grand", "Miami", 5.0, 450, 9.4, "pool,spa,beach,restaurant,bar,wifi"},
		{"mia-004", "Budget Stay Miami", "Miami", 2.5, 89, 6.8, "wifi,parking"},
	},
	"new york": {
		{"nyc-001", "Midtown Tower Hotel", "New York", 4.0, 329, 8.5, "wifi,gym,restaurant,bar"},
		{"nyc-002", "SoHo Boutique Inn", "New York", 4.5, 410, 9.0, "wifi,breakfast,bar"},
		{"nyc-003", "Queens Comfort Lodge", "New York", 3.0, 139, 7.4, "wifi,parking,breakfast"},
	},
	"washington": {
		{"dca-001", "Capitol View Hotel", "Washington", 4.0, 245, 8.3, "wifi,gym,restaurant"},
		{"dca-002", "Georgetown Suites", "Washington", 3.5, 189, 7.9, "wifi,breakfast,parking"},
		{"dca-003", "The Monument Grand", "Washington", 5.0, 399, 9.2, "pool,spa,restaurant,bar,wifi,gym"},
	},
	"chicago": {
		{"chi-001", "Lakeshore Plaza", "Chicago", 4.0, 219, 8.4, "wifi,gym,pool,restaurant"},
		{"chi-002", "Loop Budget Inn", "Chicago", 2.5, 95, 6.9, "wifi"},
	},
	"paris": {
		{"par-001", "Hotel Lumiere", "Paris", 4.5, 380, 9.1, "wifi,breakfast,bar,restaurant"},
		{"par-002", "Le Marais Petit", "Paris", 3.5, 210, 8.6, "wifi,breakfast"},
	},
}
