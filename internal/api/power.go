package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// PowerResponse is the cached power state of the projector.
type PowerResponse struct {
	DeviceID string `json:"device_id"`
	Power    string `json:"power"`
	// On is null while the power state is unknown.
	On         *bool  `json:"on"`
	Connection string `json:"connection"`
	Connected  bool   `json:"connected"`
	Error      string `json:"error,omitempty"`
}

// SetPowerRequest is the body of PUT /api/v1/power.
type SetPowerRequest struct {
	On *bool `json:"on"`
}

// handleHealth returns 200 while the projector link is up and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	conn := s.session.ConnectionState()
	status, code := "ok", http.StatusOK
	if conn != projector.StateConnected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respond(w, code, map[string]any{
		"status":     status,
		"connection": string(conn),
		"version":    s.version,
	})
}

func (s *Server) handleGetPower(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, s.powerResponse())
}

// handleSetPower issues a power command and waits for its outcome.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	var req SetPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.On == nil {
		fail(w, r, http.StatusBadRequest, CodeInvalidRequest, `"on" is required`)
		return
	}

	if err := s.session.SetPower(r.Context(), *req.On); err != nil {
		status, code := powerErrorStatus(err)
		s.logger.Warn("power command failed", "on", *req.On, "status", status, "error", err)
		fail(w, r, status, code, err.Error())
		return
	}

	respond(w, http.StatusOK, s.powerResponse())
}

func (s *Server) powerResponse() PowerResponse {
	power, err := s.session.QueryPower()
	conn := s.session.ConnectionState()

	resp := PowerResponse{
		DeviceID:   s.deviceID,
		Power:      power.String(),
		Connection: string(conn),
		Connected:  conn == projector.StateConnected,
	}
	if power != projector.PowerUnknown {
		on := power.IsOn()
		resp.On = &on
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// powerErrorStatus maps a session command error onto an HTTP status.
func powerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, projector.ErrCommandInProgress):
		return http.StatusConflict, CodeCommandInProgress
	case errors.Is(err, projector.ErrNotConnected), errors.Is(err, projector.ErrSessionClosed):
		return http.StatusServiceUnavailable, CodeDeviceDisconnected
	case errors.Is(err, projector.ErrCommandTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, CodeDeviceTimeout
	default:
		// Rejected by the projector or lost on the wire.
		return http.StatusBadGateway, CodeDeviceError
	}
}
