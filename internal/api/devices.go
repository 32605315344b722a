package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/comfygrid/comfygrid/internal/db"
	"github.com/comfygrid/comfygrid/internal/devicepool"
)

type registerDeviceRequest struct {
	DeviceID  string               `json:"deviceId" validate:"required,len=32"`
	UserID    string               `json:"userId" validate:"required"`
	Inventory devicepool.Inventory `json:"inventory"`
	Settings  devicepool.Settings  `json:"settings"`
}

type registerDeviceResponse struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// registerDevice adds the device to the pool, persists its row and hands back
// the bearer credential for its event stream.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	if _, err := s.pool.Register(req.DeviceID, req.UserID, req.Inventory, req.Settings); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	inv, err := json.Marshal(req.Inventory)
	if err != nil {
		internalError(w, r, err)
		return
	}
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		internalError(w, r, err)
		return
	}
	row := &db.AgentRow{
		DeviceID:  req.DeviceID,
		UserID:    req.UserID,
		Inventory: inv,
		Settings:  settings,
		Enabled:   true,
	}
	if err := s.store.UpsertAgent(r.Context(), row); err != nil {
		internalError(w, r, err)
		return
	}

	token, err := s.issueDeviceToken(req.DeviceID)
	if err != nil {
		internalError(w, r, err)
		return
	}

	s.hub.MarkRegistered(req.DeviceID)
	slog.Info("device registered", "device", req.DeviceID, "user", req.UserID)
	writeJSON(w, http.StatusCreated, registerDeviceResponse{DeviceID: req.DeviceID, Token: token})
}

// listDevices returns an operator snapshot of the pool.
func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

type deviceStatusRequest struct {
	Inventory *devicepool.Inventory `json:"inventory,omitempty"`
	Settings  *devicepool.Settings  `json:"settings,omitempty"`
}

// deviceStatus is the device heartbeat.  A body with an inventory or settings
// document replaces the pool's view; an empty body just marks the device seen.
func (s *Server) deviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if s.pool.Get(deviceID) == nil {
		notFound(w, r, "unknown device")
		return
	}

	var req deviceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "malformed request body")
		return
	}

	if req.Inventory != nil {
		if err := s.pool.UpdateInventory(deviceID, *req.Inventory); err != nil {
			internalError(w, r, err)
			return
		}
	}
	if req.Settings != nil {
		if err := s.pool.UpdateSettings(deviceID, *req.Settings); err != nil {
			internalError(w, r, err)
			return
		}
	}

	s.pool.Touch(deviceID)
	if err := s.store.TouchAgent(r.Context(), deviceID); err != nil {
		slog.Warn("persist heartbeat failed", "device", deviceID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// deviceEvents opens the device's SSE stream.  Opening the stream counts as a
// heartbeat.
func (s *Server) deviceEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if s.pool.Get(deviceID) == nil {
		notFound(w, r, "unknown device")
		return
	}

	s.pool.Touch(deviceID)
	s.hub.ServeSSE(w, r, deviceID)
}
