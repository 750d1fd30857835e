// Package webhook is the inbound endpoint through which the health-record
// partner reports export completion. The partner only retries on non-2xx, so
// the receiver acknowledges every authenticated request no matter how the
// downstream processing went.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/domain/snapshot"
)

// Event kinds the receiver dispatches on. Anything else is logged and
// acknowledged without processing.
const (
	EventExportSuccess = "ehi_export.success"
	EventExportFailed  = "ehi_export.failed"
)

// secretHeaders are the header names the partner may carry the shared secret
// in; any one of them matching is enough.
var secretHeaders = []string{
	"X-Webhook-Secret",
	"X-Partner-Webhook-Secret",
	"Webhook-Secret",
}

// Envelope is the partner's webhook wire shape.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Date    string          `json:"date,omitempty"`
	APIMode string          `json:"api_mode,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// exportEventData is the payload of both export event kinds. Older partner
// deliveries carry a singular download_link instead of the list.
type exportEventData struct {
	ExternalConnectionID string   `json:"external_connection_id"`
	TaskID               string   `json:"task_id"`
	DownloadLinks        []string `json:"download_links"`
	DownloadLink         string   `json:"download_link"`
	Reason               string   `json:"reason"`
}

// downloadURL returns the URL to fetch the export from, or "" when the event
// carried none.
func (e *exportEventData) downloadURL() string {
	if len(e.DownloadLinks) > 0 {
		return e.DownloadLinks[0]
	}
	return e.DownloadLink
}

// Registry is the slice of the connection registry the receiver needs to fan
// an event out to every matching connection.
type Registry interface {
	ListByExternalID(ctx context.Context, externalConnectionID string) ([]*connection.Connection, error)
	MarkSynced(ctx context.Context, id uuid.UUID, taskID string) error
	MarkExportFailed(ctx context.Context, id uuid.UUID, taskID, reason string) error
}

// Downloader fetches an export file from a partner-issued URL.
type Downloader interface {
	Download(ctx context.Context, url string) (string, error)
}

// Ingestor replaces one connection's snapshot from a downloaded export.
type Ingestor interface {
	Ingest(ctx context.Context, connectionID, patientID uuid.UUID, body string) (*snapshot.Counts, error)
}

type Receiver struct {
	secret     string
	registry   Registry
	downloader Downloader
	ingestor   Ingestor
	logger     zerolog.Logger
}

// NewReceiver builds the webhook receiver. An empty secret disables request
// authentication; config.Validate only permits that outside production and
// behind an explicit opt-in.
func NewReceiver(secret string, registry Registry, downloader Downloader, ingestor Ingestor, logger zerolog.Logger) *Receiver {
	return &Receiver{
		secret:     secret,
		registry:   registry,
		downloader: downloader,
		ingestor:   ingestor,
		logger:     logger,
	}
}

func (r *Receiver) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook", r.Handle)
}

// Handle processes one partner callback. Authentication happens before the
// body is read; after that the response is always a minimal acknowledgement,
// because the partner must not keep retrying an event we cannot process.
func (r *Receiver) Handle(c echo.Context) error {
	if r.secret != "" && !r.authenticated(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	ctx := c.Request().Context()

	var env Envelope
	if err := c.Bind(&env); err != nil {
		r.logger.Warn().Err(err).Msg("undecodable webhook payload")
		return ack(c)
	}

	r.logger.Info().Str("event_type", env.Type).Str("event_id", env.ID).Msg("webhook received")

	switch env.Type {
	case EventExportSuccess:
		r.handleExportSuccess(ctx, env.Data)
	case EventExportFailed:
		r.handleExportFailed(ctx, env.Data)
	default:
		r.logger.Info().Str("event_type", env.Type).Msg("ignoring unknown webhook event type")
	}

	return ack(c)
}

func (r *Receiver) authenticated(req *http.Request) bool {
	for _, header := range secretHeaders {
		if v := req.Header.Get(header); v != "" &&
			subtle.ConstantTimeCompare([]byte(v), []byte(r.secret)) == 1 {
			return true
		}
	}
	return false
}

func ack(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// handleExportSuccess downloads the export once and ingests it for every
// matching connection independently. One connection's ingest failure is
// recorded on that row and the fan-out moves on.
func (r *Receiver) handleExportSuccess(ctx context.Context, data json.RawMessage) {
	event, conns, ok := r.resolve(ctx, data)
	if !ok {
		return
	}

	url := event.downloadURL()
	if url == "" {
		r.failAll(ctx, conns, event.TaskID, "export completed without a download link")
		return
	}

	body, err := r.downloader.Download(ctx, url)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("external_connection_id", event.ExternalConnectionID).
			Msg("export download failed")
		r.failAll(ctx, conns, event.TaskID, err.Error())
		return
	}

	for _, conn := range conns {
		counts, err := r.ingestor.Ingest(ctx, conn.ID, conn.PatientID, body)
		if err != nil {
			r.logger.Error().Err(err).
				Str("connection_id", conn.ID.String()).
				Msg("export ingest failed")
			r.recordFailure(ctx, conn.ID, event.TaskID, err.Error())
			continue
		}
		if err := r.registry.MarkSynced(ctx, conn.ID, event.TaskID); err != nil {
			r.logger.Error().Err(err).
				Str("connection_id", conn.ID.String()).
				Msg("failed to stamp sync time")
			continue
		}
		r.logger.Info().
			Str("connection_id", conn.ID.String()).
			Int("observations", counts.Observations).
			Int("medications", counts.Medications).
			Int("conditions", counts.Conditions).
			Int("encounters", counts.Encounters).
			Msg("export ingested")
	}
}

func (r *Receiver) handleExportFailed(ctx context.Context, data json.RawMessage) {
	event, conns, ok := r.resolve(ctx, data)
	if !ok {
		return
	}
	reason := event.Reason
	if reason == "" {
		reason = "export failed"
	}
	r.failAll(ctx, conns, event.TaskID, reason)
}

// resolve decodes the event payload and finds every local connection carrying
// its external id. A missing id or an empty match set ends processing; there
// is nothing to associate the event with.
func (r *Receiver) resolve(ctx context.Context, data json.RawMessage) (*exportEventData, []*connection.Connection, bool) {
	var event exportEventData
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Warn().Err(err).Msg("undecodable export event data")
		return nil, nil, false
	}
	if event.ExternalConnectionID == "" {
		r.logger.Warn().Msg("export event without external connection id")
		return nil, nil, false
	}

	conns, err := r.registry.ListByExternalID(ctx, event.ExternalConnectionID)
	if err != nil {
		r.logger.Error().Err(err).
			Str("external_connection_id", event.ExternalConnectionID).
			Msg("connection lookup failed")
		return nil, nil, false
	}
	if len(conns) == 0 {
		r.logger.Info().
			Str("external_connection_id", event.ExternalConnectionID).
			Msg("export event for unknown connection")
		return nil, nil, false
	}
	return &event, conns, true
}

func (r *Receiver) failAll(ctx context.Context, conns []*connection.Connection, taskID, reason string) {
	for _, conn := range conns {
		r.recordFailure(ctx, conn.ID, taskID, reason)
	}
}

func (r *Receiver) recordFailure(ctx context.Context, id uuid.UUID, taskID, reason string) {
	if err := r.registry.MarkExportFailed(ctx, id, taskID, reason); err != nil {
		r.logger.Error().Err(err).
			Str("connection_id", id.String()).
			Msg("failed to record export failure")
	}
}
