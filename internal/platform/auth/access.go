package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrForbidden is returned when the acting user may not touch the requested
// patient's data.
var ErrForbidden = errors.New("forbidden")

// PatientAccess decides whether the context's actor may act on a patient's
// records. The connection registry and snapshot read paths consult it before
// returning or mutating anything.
type PatientAccess interface {
	CanAccessPatient(ctx context.Context, patientID uuid.UUID) error
}

// AssignmentStore answers whether a provider is currently assigned to a
// patient. Provider/patient assignment rows are owned by the wider portal;
// this subsystem only reads them.
type AssignmentStore interface {
	IsAssigned(ctx context.Context, providerID, patientID uuid.UUID) (bool, error)
}

// RoleAccess is the default PatientAccess policy: a patient may act on their
// own records only, a provider on patients assigned to them, an admin on any
// patient.
type RoleAccess struct {
	assignments AssignmentStore
}

func NewRoleAccess(assignments AssignmentStore) *RoleAccess {
	return &RoleAccess{assignments: assignments}
}

func (a *RoleAccess) CanAccessPatient(ctx context.Context, patientID uuid.UUID) error {
	if HasRole(ctx, RoleAdmin) {
		return nil
	}

	// Patient subjects carry their own patient id.
	if HasRole(ctx, RolePatient) {
		if UserIDFromContext(ctx) == patientID.String() {
			return nil
		}
		return ErrForbidden
	}

	if HasRole(ctx, RoleProvider) {
		providerID, err := uuid.Parse(UserIDFromContext(ctx))
		if err != nil {
			return ErrForbidden
		}
		ok, err := a.assignments.IsAssigned(ctx, providerID, patientID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
		return nil
	}

	return ErrForbidden
}

// assignmentStorePG reads the portal's provider/patient assignment table.
type assignmentStorePG struct {
	pool *pgxpool.Pool
}

func NewAssignmentStorePG(pool *pgxpool.Pool) AssignmentStore {
	return &assignmentStorePG{pool: pool}
}

func (s *assignmentStorePG) IsAssigned(ctx context.Context, providerID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM patient_assignments
			WHERE provider_id = $1 AND patient_id = $2 AND unassigned_at IS NULL
		)`, providerID, patientID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
