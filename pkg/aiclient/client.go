// Package aiclient wraps calls to a remote AI model server. The server is
// an opaque HTTP collaborator per SPEC_FULL §4.9's Non-goals — this package
// does not know what a model does, only how to ask if it's ready and how to
// hand it a scene and get a payload back.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stashsense/orchestrator/pkg/models"
)

// RunRequest is what a plugin action handler sends to a remote model server
// for one entity.
type RunRequest struct {
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	InputParams json.RawMessage `json:"input_params,omitempty"`
}

// Client calls one remote AI model server over HTTP.
type Client struct {
	baseURL       string
	readyEndpoint string
	runEndpoint   string
	httpClient    *http.Client
}

// Config names the endpoints a Client calls against baseURL.
type Config struct {
	BaseURL       string
	ReadyEndpoint string
	RunEndpoint   string
	Timeout       time.Duration
}

// New builds a Client from cfg, defaulting Timeout to 30s and RunEndpoint
// to "/run" when unset.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RunEndpoint == "" {
		cfg.RunEndpoint = "/run"
	}
	if cfg.ReadyEndpoint == "" {
		cfg.ReadyEndpoint = "/ready"
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		readyEndpoint: cfg.ReadyEndpoint,
		runEndpoint:   cfg.RunEndpoint,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Ready probes the model server's readiness endpoint, matching the service
// readiness contract of spec §4.4: a non-2xx or transport failure means
// "not ready", never an error the caller must handle specially.
func (c *Client) Ready(ctx context.Context) (models.ReadinessProbe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.readyEndpoint, nil)
	if err != nil {
		return models.ReadinessProbe{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ReadinessProbe{State: models.ReadinessUnreachable, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.ReadinessProbe{State: models.ReadinessReady}, nil
	}
	return models.ReadinessProbe{
		State:  models.ReadinessWaiting,
		Detail: fmt.Sprintf("ready endpoint returned %d", resp.StatusCode),
	}, nil
}

// RunModel posts req to the model server's run endpoint and decodes the
// returned ModelPayload.
func (c *Client) RunModel(ctx context.Context, req RunRequest) (models.ModelPayload, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.ModelPayload{}, fmt.Errorf("encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.runEndpoint, bytes.NewReader(body))
	if err != nil {
		return models.ModelPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.ModelPayload{}, fmt.Errorf("call model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ModelPayload{}, fmt.Errorf("model server returned HTTP %d", resp.StatusCode)
	}

	var payload models.ModelPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.ModelPayload{}, fmt.Errorf("decode model payload: %w", err)
	}
	return payload, nil
}
