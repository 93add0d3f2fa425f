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

const bikeshareBaseURL = "https://gbfs.capitalbikeshare.com/gbfs/en"

// Bikeshare is the Capital Bikeshare connector, speaking GBFS. The feed is
// public and needs no API key. Read-only.
type Bikeshare struct {
	base
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	stations map[string]gbfsStation
}

type gbfsStation struct {
	ID       string `json:"station_id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

var _ ports.Connector = (*Bikeshare)(nil)

func NewBikeshare(cfg Config) *Bikeshare {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = bikeshareBaseURL
	}
	return &Bikeshare{
		base:     newBase("bikeshare", cfg.Account),
		client:   newHTTPClient(10 * time.Second),
		baseURL:  strings.TrimRight(baseURL, "/"),
		stations: map[string]gbfsStation{},
	}
}

// Authenticate verifies feed reachability and caches the station directory.
func (b *Bikeshare) Authenticate(ctx context.Context) error {
	var sys struct {
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/system_information.json", nil, &sys); err != nil {
		return fmt.Errorf("bikeshare feed check failed: %w", err)
	}
	if err := b.loadStations(ctx); err != nil {
		return err
	}
	b.ready = true
	return nil
}

func (b *Bikeshare) loadStations(ctx context.Context) error {
	var info struct {
		Data struct {
			Stations []gbfsStation `json:"stations"`
		} `json:"data"`
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/station_information.json", nil, &info); err != nil {
		return fmt.Errorf("load bikeshare stations: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range info.Data.Stations {
		b.stations[st.ID] = st
	}
	return nil
}

// Search returns per-station availability, fullest stations first.
// criteria: station (name substring), limit (default 10).
func (b *Bikeshare) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	filter, _ := criteria["station"].(string)
	filter = strings.ToLower(filter)
	limit := 10
	if v, ok := criteria["limit"].(int); ok && v > 0 {
		limit = v
	}

	var status struct {
		Data struct {
			Stations []struct {
				ID             string `json:"station_id"`
				BikesAvailable int    `json:"num_bikes_available"`
				DocksAvailable int    `json:"num_docks_available"`
			} `json:"stations"`
		} `json:"data"`
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/station_status.json", nil, &status); err != nil {
		return nil, err
	}

	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var records []domain.Record
	for _, st := range status.Data.Stations {
		name := b.stations[st.ID].Name
		if name == "" {
			name = "Station " + st.ID
		}
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		records = append(records, domain.Record{
			"station_id":      st.ID,
			"route":           name,
			"mode":            "bikeshare",
			"time":            now,
			"bikes_available": st.BikesAvailable,
			"docks_available": st.DocksAvailable,
			"capacity":        b.stations[st.ID].Capacity,
			"status":          fmt.Sprintf("%d bikes, %d docks", st.BikesAvailable, st.DocksAvailable),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i]["bikes_available"].(int) > records[j]["bikes_available"].(int)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (b *Bikeshare) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	return "", fmt.Errorf("bikeshare is read-only, cannot execute %q", actionType)
}

func (b *Bikeshare) HealthCheck(ctx context.Context) bool { return b.ready }
