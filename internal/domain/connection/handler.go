package connection

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/healthapi"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:patientID/connections",
		auth.RequireRole(auth.RolePatient, auth.RoleProvider))
	g.GET("", h.ListConnections)
	g.POST("", h.AddConnection)
	g.DELETE("/:externalConnectionID", h.RemoveConnection)
	g.GET("/:externalConnectionID/status", h.ConnectionStatus)
	g.POST("/:externalConnectionID/export", h.RequestExport)
}

type addConnectionRequest struct {
	ExternalConnectionID string  `json:"external_connection_id"`
	SourceName           *string `json:"source_name,omitempty"`
}

func (h *Handler) AddConnection(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req addConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExternalConnectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "external_connection_id is required")
	}

	result, err := h.svc.AddConnection(c.Request().Context(), patientID, req.ExternalConnectionID, req.SourceName)
	if err != nil {
		return mapError(err)
	}
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

func (h *Handler) ListConnections(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	conns, err := h.svc.ListConnections(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	if conns == nil {
		conns = []*Connection{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"connections": conns})
}

func (h *Handler) RemoveConnection(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := h.svc.RemoveConnection(c.Request().Context(), patientID, c.Param("externalConnectionID")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statusResponse struct {
	Connection *Connection             `json:"connection"`
	Partner    *healthapi.StatusResult `json:"partner,omitempty"`
}

func (h *Handler) ConnectionStatus(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	conn, partnerStatus, err := h.svc.ConnectionStatus(c.Request().Context(), patientID, c.Param("externalConnectionID"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Connection: conn, Partner: partnerStatus})
}

func (h *Handler) RequestExport(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	task, err := h.svc.RequestExport(c.Request().Context(), patientID, c.Param("externalConnectionID"))
	if err != nil {
		return mapError(err)
	}
	if task == nil {
		// Soft failure: the connection exists but the partner could not be
		// reached or is not configured.
		return c.JSON(http.StatusAccepted, map[string]interface{}{"export_task": nil})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"export_task": task})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "connection not found")
	case errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
