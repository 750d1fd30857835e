package connection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no connection row matches the lookup.
var ErrNotFound = errors.New("connection not found")

type Repository interface {
	Create(ctx context.Context, conn *Connection) error
	GetByPatientAndExternalID(ctx context.Context, patientID uuid.UUID, externalConnectionID string) (*Connection, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByPatient returns the patient's connections, most recently
	// connected first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Connection, error)

	// ListByExternalID returns every connection sharing the external id,
	// across patients. The webhook fan-out iterates this set.
	ListByExternalID(ctx context.Context, externalConnectionID string) ([]*Connection, error)

	// RecordExportRequested stamps the task id of a freshly requested export.
	RecordExportRequested(ctx context.Context, id uuid.UUID, taskID string) error

	// MarkSynced records a successful ingest: last_synced_at and the task id
	// are set and any previous failure reason is cleared.
	MarkSynced(ctx context.Context, id uuid.UUID, taskID string, at time.Time) error

	// MarkExportFailed records why the most recent export attempt failed.
	MarkExportFailed(ctx context.Context, id uuid.UUID, taskID, reason string) error
}
