package connection

import (
	"time"

	"github.com/google/uuid"
)

// Connection maps to the connections table. It links one patient to one
// external health-record source account. The same external connection id may
// appear under several patients; each pairing is its own row and (patient_id,
// external_connection_id) is unique.
type Connection struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	PatientID               uuid.UUID  `db:"patient_id" json:"patient_id"`
	ExternalConnectionID    string     `db:"external_connection_id" json:"external_connection_id"`
	SourceName              *string    `db:"source_name" json:"source_name,omitempty"`
	ConnectedAt             time.Time  `db:"connected_at" json:"connected_at"`
	LastSyncedAt            *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastExportTaskID        *string    `db:"last_export_task_id" json:"last_export_task_id,omitempty"`
	LastExportFailureReason *string    `db:"last_export_failure_reason" json:"last_export_failure_reason,omitempty"`
}
