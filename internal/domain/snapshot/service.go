package snapshot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/fhir"
)

type Service struct {
	repo   Repository
	access auth.PatientAccess
	logger zerolog.Logger
}

func NewService(repo Repository, access auth.PatientAccess, logger zerolog.Logger) *Service {
	return &Service{repo: repo, access: access, logger: logger}
}

// resourceEnvelope is the minimal probe for routing a record by kind.
type resourceEnvelope struct {
	ResourceType string `json:"resourceType"`
}

// Ingest parses one newline-delimited export and replaces the connection's
// stored snapshot with what it finds. Parsing is tolerant: a line that is not
// valid JSON, or whose recognized kind fails to decode, is skipped and the
// rest of the file still lands. Unrecognized resource kinds are dropped
// silently. The replacement itself is all-or-nothing.
//
// Ingest is called by the export webhook, not by end users, so there is no
// access check here.
func (s *Service) Ingest(ctx context.Context, connectionID, patientID uuid.UUID, body string) (*Counts, error) {
	rows := s.extractRows(connectionID, patientID, body)

	if err := s.repo.ReplaceForConnection(ctx, connectionID, rows); err != nil {
		return nil, err
	}

	counts := rows.Counts()
	s.logger.Info().
		Str("connection_id", connectionID.String()).
		Int("observations", counts.Observations).
		Int("medications", counts.Medications).
		Int("conditions", counts.Conditions).
		Int("encounters", counts.Encounters).
		Msg("snapshot replaced")
	return &counts, nil
}

func (s *Service) extractRows(connectionID, patientID uuid.UUID, body string) *RowSet {
	rows := &RowSet{}
	scanner := fhir.NewNDJSONScanner(strings.NewReader(body))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		// Scanner reuses its buffer; each retained raw document needs its
		// own copy.
		line := []byte(scanner.Text())

		var env resourceEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.logger.Debug().Int("line", lineNo).Err(err).Msg("skipping malformed export line")
			continue
		}

		var err error
		switch env.ResourceType {
		case "Observation":
			var row *ObservationSnapshot
			if row, err = extractObservation(line); err == nil {
				row.ConnectionID, row.PatientID = connectionID, patientID
				rows.Observations = append(rows.Observations, row)
			}
		case "MedicationRequest", "MedicationStatement":
			var row *MedicationSnapshot
			if row, err = extractMedication(line); err == nil {
				row.ConnectionID, row.PatientID = connectionID, patientID
				rows.Medications = append(rows.Medications, row)
			}
		case "Condition":
			var row *ConditionSnapshot
			if row, err = extractCondition(line); err == nil {
				row.ConnectionID, row.PatientID = connectionID, patientID
				rows.Conditions = append(rows.Conditions, row)
			}
		case "Encounter":
			var row *EncounterSnapshot
			if row, err = extractEncounter(line); err == nil {
				row.ConnectionID, row.PatientID = connectionID, patientID
				rows.Encounters = append(rows.Encounters, row)
			}
		default:
			// Kinds outside the snapshot model are dropped.
		}
		if err != nil {
			s.logger.Debug().Int("line", lineNo).Str("resource_type", env.ResourceType).Err(err).
				Msg("skipping undecodable export line")
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("export scan stopped early")
	}
	return rows
}

func (s *Service) ListObservations(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ObservationSnapshot, int, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListObservationsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListMedications(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationSnapshot, int, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListMedicationsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListConditions(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConditionSnapshot, int, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListConditionsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListEncounters(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*EncounterSnapshot, int, error) {
	if err := s.access.CanAccessPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListEncountersByPatient(ctx, patientID, limit, offset)
}
