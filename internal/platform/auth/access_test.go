package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type mockAssignments struct {
	assigned map[uuid.UUID]map[uuid.UUID]bool
	err      error
}

func (m *mockAssignments) IsAssigned(_ context.Context, providerID, patientID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.assigned[providerID][patientID], nil
}

func TestRoleAccess_AdminUnrestricted(t *testing.T) {
	access := NewRoleAccess(&mockAssignments{})
	ctx := ContextWithUser(context.Background(), "some-admin", RoleAdmin)

	if err := access.CanAccessPatient(ctx, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRoleAccess_PatientOwnRecordsOnly(t *testing.T) {
	access := NewRoleAccess(&mockAssignments{})
	patientID := uuid.New()

	ctx := ContextWithUser(context.Background(), patientID.String(), RolePatient)
	if err := access.CanAccessPatient(ctx, patientID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := access.CanAccessPatient(ctx, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for another patient, got %v", err)
	}
}

func TestRoleAccess_ProviderAssignedOnly(t *testing.T) {
	providerID := uuid.New()
	patientID := uuid.New()
	access := NewRoleAccess(&mockAssignments{
		assigned: map[uuid.UUID]map[uuid.UUID]bool{
			providerID: {patientID: true},
		},
	})

	ctx := ContextWithUser(context.Background(), providerID.String(), RoleProvider)
	if err := access.CanAccessPatient(ctx, patientID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := access.CanAccessPatient(ctx, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unassigned patient, got %v", err)
	}
}

func TestRoleAccess_ProviderBadSubject(t *testing.T) {
	access := NewRoleAccess(&mockAssignments{})
	ctx := ContextWithUser(context.Background(), "not-a-uuid", RoleProvider)

	if err := access.CanAccessPatient(ctx, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestRoleAccess_AssignmentLookupError(t *testing.T) {
	lookupErr := errors.New("db down")
	access := NewRoleAccess(&mockAssignments{err: lookupErr})
	ctx := ContextWithUser(context.Background(), uuid.New().String(), RoleProvider)

	if err := access.CanAccessPatient(ctx, uuid.New()); !errors.Is(err, lookupErr) {
		t.Errorf("expected lookup error to propagate, got %v", err)
	}
}

func TestRoleAccess_NoRole(t *testing.T) {
	access := NewRoleAccess(&mockAssignments{})
	if err := access.CanAccessPatient(context.Background(), uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestRequireRole_Allows(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithUser(req.Context(), "u1", RoleProvider))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RoleProvider)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithUser(req.Context(), "u1", RoleAdmin))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RolePatient)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithUser(req.Context(), "u1", RolePatient))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RoleProvider)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403 HTTPError, got %v", err)
	}
}
