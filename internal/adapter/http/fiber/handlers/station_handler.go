// Package handlers exposes the façade over HTTP using gofiber/fiber/v2,
// following the teacher's handler shape: thin methods that parse the
// request, call exactly one façade operation, and map its status to a JSON
// response.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/facade"
)

// StationHandler wires the façade's operations to HTTP routes.
type StationHandler struct {
	facade *facade.Facade
	log    *zap.Logger
}

// NewStationHandler constructs a StationHandler over the given façade.
func NewStationHandler(f *facade.Facade, log *zap.Logger) *StationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StationHandler{facade: f, log: log}
}

type startSessionRequest struct {
	ChargerID       string  `json:"charger_id"`
	ConnectorID     int     `json:"connector_id"`
	VehicleMaxPower float64 `json:"vehicle_max_power_kw"`
}

// StartSession handles POST /api/v1/sessions.
func (h *StationHandler) StartSession(c *fiber.Ctx) error {
	var req startSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result := h.facade.StartSession(c.Context(), req.ChargerID, req.ConnectorID, req.VehicleMaxPower)

	code := fiber.StatusOK
	switch result.Status {
	case facade.StatusInvalidChargerOrConnector:
		code = fiber.StatusBadRequest
	case facade.StatusConnectorOccupied:
		code = fiber.StatusConflict
	case facade.StatusSessionStartFailed:
		code = fiber.StatusInternalServerError
	}

	return c.Status(code).JSON(fiber.Map{
		"session_id":      result.SessionID,
		"allocated_power": result.AllocatedPower,
		"total_energy":    result.TotalEnergy,
		"status":          result.Status,
	})
}

type updatePowerRequest struct {
	ConsumedPower   float64 `json:"consumed_power_kw"`
	VehicleMaxPower float64 `json:"vehicle_max_power_kw"`
}

// UpdatePower handles POST /api/v1/sessions/:id/power.
func (h *StationHandler) UpdatePower(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req updatePowerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result := h.facade.UpdatePower(c.Context(), sessionID, req.ConsumedPower, req.VehicleMaxPower)

	code := fiber.StatusOK
	switch result.Status {
	case facade.StatusSessionNotFound:
		code = fiber.StatusNotFound
	case facade.StatusInvalidConsumedPower:
		code = fiber.StatusBadRequest
	}

	return c.Status(code).JSON(fiber.Map{
		"new_allocated_power": result.NewAllocatedPower,
		"total_energy":        result.TotalEnergy,
		"status":              result.Status,
	})
}

// StopSession handles POST /api/v1/sessions/:id/stop.
func (h *StationHandler) StopSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	result := h.facade.StopSession(c.Context(), sessionID)

	code := fiber.StatusOK
	if result.Status == facade.StatusSessionNotFound {
		code = fiber.StatusNotFound
	}

	return c.Status(code).JSON(fiber.Map{
		"charger_id":             result.ChargerID,
		"connector_id":           result.ConnectorID,
		"final_allocated_power":  result.FinalAllocatedPower,
		"last_consumed_power":    result.LastConsumedPower,
		"stop_time":              result.StopTime,
		"status":                 result.Status,
	})
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *StationHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.facade.GetSession(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.Status(fiber.StatusOK).JSON(session)
}

// ListSessions handles GET /api/v1/sessions.
func (h *StationHandler) ListSessions(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.facade.ListSessions())
}

// StationStatus handles GET /api/v1/station/status.
func (h *StationHandler) StationStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.facade.StationStatus())
}

// BatteryStatus handles GET /api/v1/station/battery.
func (h *StationHandler) BatteryStatus(c *fiber.Ctx) error {
	status, ok := h.facade.BatteryStatus()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "station has no battery"})
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

// LoadSummary handles GET /api/v1/station/load.
func (h *StationHandler) LoadSummary(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.facade.LoadSummary())
}

// Recompute handles POST /api/v1/station/recompute.
func (h *StationHandler) Recompute(c *fiber.Ctx) error {
	allocations := h.facade.Recompute(c.Context())
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"allocations": allocations})
}
