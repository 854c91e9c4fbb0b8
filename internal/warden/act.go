package warden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is the outcome of one admin call.
type Result struct {
	Action  Action
	Success bool
	Details string
}

// Actor executes actions via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Act performs one action. A refused repair is a failed Result, not an
// error; errors mean the API could not be reached or misbehaved.
func (a *Actor) Act(ctx context.Context, act Action) (Result, error) {
	switch act.Type {
	case ActionRepair:
		status, body, err := a.post(ctx, "/api/v1/repair", map[string]string{"entity_id": act.EntityID})
		if err != nil {
			return Result{}, err
		}
		switch status {
		case http.StatusOK:
			return Result{Action: act, Success: true, Details: "repaired"}, nil
		case http.StatusConflict, http.StatusNotFound:
			return Result{Action: act, Details: string(body)}, nil
		}
		return Result{}, fmt.Errorf("repair %s failed (%d): %s", act.EntityID, status, string(body))

	case ActionSnapshot:
		status, body, err := a.post(ctx, "/api/v1/snapshot", nil)
		if err != nil {
			return Result{}, err
		}
		if status != http.StatusOK {
			return Result{}, fmt.Errorf("snapshot failed (%d): %s", status, string(body))
		}
		var resp struct {
			Snapshot struct {
				Path string `json:"path"`
			} `json:"snapshot"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return Result{}, fmt.Errorf("decode snapshot response: %w", err)
		}
		return Result{Action: act, Success: true, Details: resp.Snapshot.Path}, nil
	}
	return Result{}, fmt.Errorf("unknown action %q", act.Type)
}

// Audit asks the engine to check every entity and returns the ids it
// newly quarantined.
func (a *Actor) Audit(ctx context.Context) ([]string, error) {
	status, body, err := a.post(ctx, "/api/v1/audit", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("audit failed (%d): %s", status, string(body))
	}
	var resp struct {
		Quarantined []string `json:"quarantined"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode audit response: %w", err)
	}
	return resp.Quarantined, nil
}

func (a *Actor) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
