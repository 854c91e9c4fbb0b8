// Package warden implements the operator sidecar of the territory engine.
// It observes the engine through the API, decides which quarantined
// entities to repair and when to snapshot, and acts via the admin
// endpoints.
package warden

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/territory/internal/engine"
)

// Observation holds all data collected during one cycle.
type Observation struct {
	Status        Status                  `json:"status"`
	Quarantine    Quarantine              `json:"quarantine"`
	HotBattles    []engine.BattleSnapshot `json:"hot_battles"`
	AuditFindings []string                `json:"audit_findings"` // Quarantined by this cycle's audit
}

// Status mirrors GET /api/v1/status.
type Status struct {
	Name      string       `json:"name"`
	UptimeSec int64        `json:"uptime_sec"`
	Engine    engine.Stats `json:"engine"`
	Database  *struct {
		Driver string `json:"driver"`
		OK     bool   `json:"ok"`
	} `json:"database"`
}

// Quarantine mirrors GET /api/v1/quarantine.
type Quarantine struct {
	Quarantined map[string]string `json:"quarantined"`
}

// Observer fetches engine state from the API.
type Observer struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL, adminKey string) *Observer {
	return &Observer{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches status, quarantine and the hottest battles.
func (o *Observer) Observe(ctx context.Context) (*Observation, error) {
	obs := &Observation{}

	if err := o.fetchJSON(ctx, "/api/v1/status", false, &obs.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/quarantine", true, &obs.Quarantine); err != nil {
		return nil, fmt.Errorf("fetch quarantine: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/battles/hot?limit=5", false, &obs.HotBattles); err != nil {
		return nil, fmt.Errorf("fetch hot battles: %w", err)
	}

	return obs, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, admin bool, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+o.AdminKey)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
