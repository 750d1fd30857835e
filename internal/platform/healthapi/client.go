// Package healthapi is the authenticated client for the external health-record
// partner API. It owns credential handling and keeps partner HTTP failures out
// of the rest of the sync pipeline: status and export calls degrade to nil
// results, they never propagate errors upward.
package healthapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the partner API endpoint and credentials. It is resolved
// once at startup; a client built from an incomplete Config stays
// unconfigured for its whole lifetime.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// Status is the partner's view of an external connection.
type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusRefreshing Status = "refreshing"
)

// ExportStatus is the lifecycle state of a bulk export task.
type ExportStatus string

const (
	ExportPending ExportStatus = "pending"
	ExportSuccess ExportStatus = "success"
	ExportFailed  ExportStatus = "failed"
)

// StatusResult is the response of the connection-status endpoint.
type StatusResult struct {
	Status        Status     `json:"status"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
}

// ExportTask identifies one requested bulk export.
type ExportTask struct {
	TaskID string       `json:"task_id"`
	Status ExportStatus `json:"status"`
}

// Client talks to the partner API using a static basic-auth header computed
// at construction.
type Client struct {
	baseURL    string
	authHeader string // empty when credentials are missing
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient builds a partner client. When either credential is missing the
// client is permanently unconfigured: every call returns nil and the portal
// keeps working without the sync feature.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))
		c.authHeader = "Basic " + creds
	}
	return c
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Configured reports whether both credentials were present at construction.
func (c *Client) Configured() bool {
	return c.authHeader != ""
}

// ConnectionStatus fetches the partner's status for an external connection.
// Returns nil when the client is unconfigured or the call fails; failures are
// logged, never returned.
func (c *Client) ConnectionStatus(ctx context.Context, externalConnectionID string) *StatusResult {
	if !c.Configured() {
		return nil
	}

	var result StatusResult
	url := fmt.Sprintf("%s/connections/%s/status", c.baseURL, externalConnectionID)
	if err := c.doJSON(ctx, http.MethodGet, url, &result); err != nil {
		c.logger.Warn().Err(err).
			Str("external_connection_id", externalConnectionID).
			Msg("partner connection status check failed")
		return nil
	}
	return &result
}

// RequestExport asks the partner to start a bulk export for an external
// connection. The partner treats the request as idempotent per external id,
// so repeated calls are safe. Returns nil when the client is unconfigured or
// the call fails.
func (c *Client) RequestExport(ctx context.Context, externalConnectionID string) *ExportTask {
	if !c.Configured() {
		return nil
	}

	var task ExportTask
	url := fmt.Sprintf("%s/connections/%s/export", c.baseURL, externalConnectionID)
	if err := c.doJSON(ctx, http.MethodPost, url, &task); err != nil {
		c.logger.Warn().Err(err).
			Str("external_connection_id", externalConnectionID).
			Msg("partner export request failed")
		return nil
	}
	return &task
}

// Download fetches an export file from a partner-issued URL. The whole body
// is buffered; there is no retry. Unlike the status/export calls the error is
// returned, because the webhook path records it as the connection's failure
// reason.
func (c *Client) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download export: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read export body: %w", err)
	}
	return string(body), nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
