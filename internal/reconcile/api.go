package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
)

// APIClient reads the server's request/response endpoints.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewAPIClient creates a client for the server at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type snapshotBody struct {
	Success bool                    `json:"success"`
	Devices []models.PresenceRecord `json:"devices"`
	Summary models.Summary          `json:"summary"`
}

// Snapshot fetches the full presence list.
func (c *APIClient) Snapshot(ctx context.Context) ([]models.PresenceRecord, error) {
	var body snapshotBody
	if err := c.get(ctx, "/api/devices/status", &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("snapshot request was not successful")
	}
	return body.Devices, nil
}

// RelayConfig fetches the live channel parameters.
func (c *APIClient) RelayConfig(ctx context.Context) (models.RelayConfig, error) {
	var rc models.RelayConfig
	err := c.get(ctx, "/api/relay/config", &rc)
	return rc, err
}

func (c *APIClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
