package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

const commandTimeout = 15 * time.Second

const maxWebhookBody = 1 << 20

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type presetRequest struct {
	Preset string `json:"preset" binding:"required"`
}

type temperatureRequest struct {
	Temperature float64 `json:"temperature" binding:"required"`
}

type scheduleRequest struct {
	Name string `json:"name" binding:"required"`
}

func (a *API) listHomes(c *gin.Context) {
	c.JSON(http.StatusOK, a.controller.Homes())
}

func (a *API) listModules(c *gin.Context) {
	c.JSON(http.StatusOK, a.controller.Modules(c.Param("home_id")))
}

func (a *API) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, a.controller.RoomStates())
}

// findRoom resolves a route id against the unique id first, the plain
// room id second.
func (a *API) findRoom(id string) (*climate.Thermostat, bool) {
	if thermostat, ok := a.controller.ThermostatByUniqueID(id); ok {
		return thermostat, true
	}
	for _, thermostat := range a.controller.Thermostats() {
		if thermostat.RoomID() == id {
			return thermostat, true
		}
	}
	return nil, false
}

func (a *API) getRoom(c *gin.Context) {
	thermostat, ok := a.findRoom(c.Param("room_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, thermostat.State())
}

func (a *API) setMode(c *gin.Context) {
	var req modeRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	a.roomCommand(c, "mode", req.Mode, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetHVACMode(ctx, climate.HVACMode(req.Mode))
	})
}

func (a *API) setPreset(c *gin.Context) {
	var req presetRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	a.roomCommand(c, "preset", req.Preset, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetPresetMode(ctx, req.Preset)
	})
}

func (a *API) setTemperature(c *gin.Context) {
	var req temperatureRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	a.roomCommand(c, "temperature", fmt.Sprintf("%g", req.Temperature), func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetTemperature(ctx, req.Temperature)
	})
}

// roomCommand runs a thermostat command and answers 202 with the
// refreshed room state. Vendor failures surface as 502.
func (a *API) roomCommand(c *gin.Context, command, value string, apply func(context.Context, *climate.Thermostat) error) {
	thermostat, ok := a.findRoom(c.Param("room_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := apply(ctx, thermostat); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, climate.ErrUnsupportedMode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	a.bus.Emit(events.Event{Type: events.EventCommand, Data: map[string]string{
		"source":  "api",
		"command": command,
		"target":  thermostat.UniqueID(),
		"value":   value,
	}})
	a.controller.RequestRefresh()
	c.JSON(http.StatusAccepted, thermostat.State())
}

func (a *API) setSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}
	homeID := c.Param("home_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := a.controller.SetScheduleByName(ctx, homeID, req.Name); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	a.bus.Emit(events.Event{Type: events.EventCommand, Data: map[string]string{
		"source":  "api",
		"command": "schedule",
		"target":  homeID,
		"value":   req.Name,
	}})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (a *API) refresh(c *gin.Context) {
	a.controller.RequestRefresh()
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

// handleWebhook ingests a vendor push event. The vendor retries on
// anything but a fast 2xx, so parse failures answer 400 and move on.
func (a *API) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}

	event, err := netatmo.ParseWebhookEvent(body)
	if err != nil {
		log.WithError(err).Warn("rejecting webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.controller.HandleWebhook(event)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
