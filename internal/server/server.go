// Package server exposes the HTTP surface: the REST control API, the
// vendor webhook receiver, Prometheus metrics, dashboard JSON, and a
// websocket event stream.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
)

// API wires the climate controller into HTTP handlers.
type API struct {
	controller *climate.Controller
	bus        *events.Bus
	registry   *prometheus.Registry
	dashboards map[string][]byte
}

// NewAPI builds the API. The registry and dashboards may be nil when
// metrics or dashboards are not wanted.
func NewAPI(controller *climate.Controller, bus *events.Bus, registry *prometheus.Registry, dashboards map[string][]byte) *API {
	return &API{controller: controller, bus: bus, registry: registry, dashboards: dashboards}
}

func handleErrors(c *gin.Context) {
	c.Next()

	if len(c.Errors) > 0 {
		c.JSON(-1, c.Errors) // -1 == not override the current error code
	}
}

// Router builds the gin engine with all routes attached.
//
// Rooms are addressed by their unique id (<roomID>-<moduleType>); the
// plain room id is accepted too.
func (a *API) Router() *gin.Engine {
	r := gin.Default()
	r.Use(requestMetrics)
	r.Use(handleErrors)

	r.GET("/healthz", gin.WrapF(HealthHandler))
	if a.registry != nil {
		r.GET("/metrics", gin.WrapH(MetricsHandler(a.registry)))
	}
	if len(a.dashboards) > 0 {
		r.GET("/dashboards/*path", gin.WrapH(DashboardsHandler(a.dashboards)))
	}
	r.POST("/webhook/netatmo", a.handleWebhook)

	api := r.Group("/api/v1")

	api.GET("/homes", a.listHomes)
	api.GET("/homes/:home_id/modules", a.listModules)
	api.PUT("/homes/:home_id/schedule", a.setSchedule)

	api.GET("/rooms", a.listRooms)
	api.GET("/rooms/:room_id", a.getRoom)
	api.PUT("/rooms/:room_id/mode", a.setMode)
	api.PUT("/rooms/:room_id/preset", a.setPreset)
	api.PUT("/rooms/:room_id/temperature", a.setTemperature)

	api.POST("/refresh", a.refresh)
	api.GET("/events", a.attachStream)

	return r
}
