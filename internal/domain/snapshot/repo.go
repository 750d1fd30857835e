package snapshot

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// ReplaceForConnection atomically swaps the connection's whole snapshot:
	// every existing row of all four kinds is deleted and the new set is
	// inserted. Either the full replacement lands or nothing changes.
	ReplaceForConnection(ctx context.Context, connectionID uuid.UUID, rows *RowSet) error

	ListObservationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ObservationSnapshot, int, error)
	ListMedicationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationSnapshot, int, error)
	ListConditionsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConditionSnapshot, int, error)
	ListEncountersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*EncounterSnapshot, int, error)
}
