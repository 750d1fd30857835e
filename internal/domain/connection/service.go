package connection

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/healthapi"
)

// failureReasonMaxLen bounds what gets persisted as a failure reason; partner
// errors can embed whole response bodies.
const failureReasonMaxLen = 500

// PartnerAPI is the slice of the partner client the registry needs.
type PartnerAPI interface {
	Configured() bool
	ConnectionStatus(ctx context.Context, externalConnectionID string) *healthapi.StatusResult
	RequestExport(ctx context.Context, externalConnectionID string) *healthapi.ExportTask
}

// Service owns the patient/external-source link and the export orchestration
// around it. Every patient-scoped operation checks the access policy before
// touching rows.
type Service struct {
	repo    Repository
	partner PartnerAPI
	access  auth.PatientAccess
	logger  zerolog.Logger
}

func NewService(repo Repository, partner PartnerAPI, access auth.PatientAccess, logger zerolog.Logger) *Service {
	return &Service{repo: repo, partner: partner, access: access, logger: logger}
}

// AddResult is what AddConnection hands back: the row (new or pre-existing)
// and the export task if one was obtained.
type AddResult struct {
	Connection *Connection           `json:"connection"`
	Existing   bool                  `json:"existing"`
	ExportTask *healthapi.ExportTask `json:"export_task,omitempty"`
}

// AddConnection links a patient to an external source. Adding the same
// (patient, external id) pair twice is an idempotent success: the existing row
// is returned and an export is re-triggered, since the caller may be retrying
// after a dropped response. Export-trigger failures are logged and never fail
// the add.
func (s *Service) AddConnection(ctx context.Context, patientID uuid.UUID, externalConnectionID string, sourceName *string) (*AddResult, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, err
	}

	result := &AddResult{}

	existing, err := s.repo.GetByPatientAndExternalID(ctx, patientID, externalConnectionID)
	switch {
	case err == nil:
		result.Connection = existing
		result.Existing = true
	case err == ErrNotFound:
		conn := &Connection{
			PatientID:            patientID,
			ExternalConnectionID: externalConnectionID,
			SourceName:           sourceName,
		}
		if err := s.repo.Create(ctx, conn); err != nil {
			return nil, err
		}
		result.Connection = conn
	default:
		return nil, err
	}

	result.ExportTask = s.triggerExport(ctx, result.Connection)
	return result, nil
}

// triggerExport asks the partner for a fresh export and stamps the task id on
// the row. Both the partner call and the stamp are best-effort.
func (s *Service) triggerExport(ctx context.Context, conn *Connection) *healthapi.ExportTask {
	task := s.partner.RequestExport(ctx, conn.ExternalConnectionID)
	if task == nil {
		s.logger.Warn().
			Str("connection_id", conn.ID.String()).
			Str("external_connection_id", conn.ExternalConnectionID).
			Msg("export trigger returned no task")
		return nil
	}
	if err := s.repo.RecordExportRequested(ctx, conn.ID, task.TaskID); err != nil {
		s.logger.Error().Err(err).
			Str("connection_id", conn.ID.String()).
			Msg("failed to record export task id")
	} else {
		conn.LastExportTaskID = &task.TaskID
	}
	return task
}

// RemoveConnection deletes the patient's link to an external source. Snapshot
// rows go with it via the foreign key cascade.
func (s *Service) RemoveConnection(ctx context.Context, patientID uuid.UUID, externalConnectionID string) error {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return err
	}
	conn, err := s.repo.GetByPatientAndExternalID(ctx, patientID, externalConnectionID)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, conn.ID)
}

// ListConnections returns the patient's connections, newest first.
func (s *Service) ListConnections(ctx context.Context, patientID uuid.UUID) ([]*Connection, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// ConnectionStatus resolves the patient's connection and asks the partner for
// its current status. The partner result may be nil when the partner is
// unreachable or the client is unconfigured.
func (s *Service) ConnectionStatus(ctx context.Context, patientID uuid.UUID, externalConnectionID string) (*Connection, *healthapi.StatusResult, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, nil, err
	}
	conn, err := s.repo.GetByPatientAndExternalID(ctx, patientID, externalConnectionID)
	if err != nil {
		return nil, nil, err
	}
	return conn, s.partner.ConnectionStatus(ctx, externalConnectionID), nil
}

// RequestExport resolves the patient's connection and asks the partner for a
// new export. The task may be nil under the same soft-failure contract as
// AddConnection.
func (s *Service) RequestExport(ctx context.Context, patientID uuid.UUID, externalConnectionID string) (*healthapi.ExportTask, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, err
	}
	conn, err := s.repo.GetByPatientAndExternalID(ctx, patientID, externalConnectionID)
	if err != nil {
		return nil, err
	}
	return s.triggerExport(ctx, conn), nil
}

// ListByExternalID is the webhook fan-out lookup: every connection row, across
// patients, sharing the partner-assigned external id. Not patient-scoped, so
// no access check; it must never be routed to end users.
func (s *Service) ListByExternalID(ctx context.Context, externalConnectionID string) ([]*Connection, error) {
	return s.repo.ListByExternalID(ctx, externalConnectionID)
}

// MarkSynced records a completed ingest on one connection.
func (s *Service) MarkSynced(ctx context.Context, id uuid.UUID, taskID string) error {
	return s.repo.MarkSynced(ctx, id, taskID, time.Now().UTC())
}

// MarkExportFailed records a failure reason on one connection, truncated to a
// storable length.
func (s *Service) MarkExportFailed(ctx context.Context, id uuid.UUID, taskID, reason string) error {
	return s.repo.MarkExportFailed(ctx, id, taskID, truncateReason(reason))
}

// truncateReason cuts on a rune boundary; the column limit counts characters
// and a mid-rune slice would not be valid text.
func truncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= failureReasonMaxLen {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:failureReasonMaxLen])
}
