package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeVendor is the minimal vendor backend for one home with one
// thermostat room.
type fakeVendor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeVendor) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeVendor) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVendor) HomesData(context.Context) ([]netatmo.Home, error) {
	return []netatmo.Home{{
		ID:        "home-1",
		Name:      "Main Home",
		ThermMode: "schedule",
		Rooms: []netatmo.Room{
			{ID: "100", Name: "Living Room", ModuleIDs: []string{"04:00:01"}},
		},
		Modules: []netatmo.Module{
			{ID: "04:00:01", Name: "Thermostat", Type: "NATherm1", RoomID: "100"},
		},
		Schedules: []netatmo.Schedule{
			{ID: "sched-1", Name: "Winter", Selected: true},
			{ID: "sched-2", Name: "Summer"},
		},
	}}, nil
}

func (f *fakeVendor) HomeStatus(_ context.Context, homeID string) (netatmo.HomeStatus, error) {
	reachable := true
	temp := 19.3
	target := 19.0
	return netatmo.HomeStatus{
		ID: homeID,
		Rooms: []netatmo.RoomStatus{{
			ID:                       "100",
			Reachable:                &reachable,
			ThermMeasuredTemperature: &temp,
			ThermSetpointTemperature: &target,
			ThermSetpointMode:        "schedule",
		}},
		Modules: []netatmo.ModuleStatus{{
			ID: "04:00:01", Type: "NATherm1", Reachable: &reachable,
		}},
	}, nil
}

func (f *fakeVendor) SetRoomThermpoint(_ context.Context, homeID, roomID, mode string, temp *float64, _ *int64) error {
	if temp != nil {
		f.record("thermpoint %s/%s %s %g", homeID, roomID, mode, *temp)
	} else {
		f.record("thermpoint %s/%s %s", homeID, roomID, mode)
	}
	return nil
}

func (f *fakeVendor) SetThermMode(_ context.Context, homeID, mode string) error {
	f.record("thermmode %s %s", homeID, mode)
	return nil
}

func (f *fakeVendor) SwitchHomeSchedule(_ context.Context, homeID, scheduleID string) error {
	f.record("switchschedule %s %s", homeID, scheduleID)
	return nil
}

func newTestAPI(t *testing.T) (*API, *fakeVendor, *climate.Controller) {
	t.Helper()
	vendor := &fakeVendor{}
	bus := events.NewBus()
	controller := climate.NewController(vendor, nil, bus)
	if err := controller.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return NewAPI(controller, bus, prometheus.NewRegistry(), nil), vendor, controller
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	api, _, _ := newTestAPI(t)
	w := doRequest(t, api.Router(), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestListHomes(t *testing.T) {
	api, _, _ := newTestAPI(t)
	w := doRequest(t, api.Router(), http.MethodGet, "/api/v1/homes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var homes []climate.HomeInfo
	if err := json.Unmarshal(w.Body.Bytes(), &homes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(homes) != 1 || homes[0].ID != "home-1" {
		t.Fatalf("homes = %+v", homes)
	}
	if homes[0].SelectedSchedule != "Winter" {
		t.Errorf("selected schedule = %q", homes[0].SelectedSchedule)
	}
}

func TestGetRoomByEitherID(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	for _, id := range []string{"100-NATherm1", "100"} {
		w := doRequest(t, router, http.MethodGet, "/api/v1/rooms/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status for %q = %d", id, w.Code)
		}
		var state climate.RoomState
		if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if state.RoomName != "Living Room" || state.HVACMode != climate.HVACModeAuto {
			t.Errorf("state for %q = %+v", id, state)
		}
	}

	w := doRequest(t, router, http.MethodGet, "/api/v1/rooms/999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status for unknown room = %d", w.Code)
	}
}

func TestSetTemperature(t *testing.T) {
	api, vendor, _ := newTestAPI(t)
	w := doRequest(t, api.Router(), http.MethodPut, "/api/v1/rooms/100/temperature", `{"temperature": 21.5}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	calls := vendor.callList()
	if len(calls) != 1 || calls[0] != "thermpoint home-1/100 manual 21.5" {
		t.Fatalf("calls = %v", calls)
	}

	var state climate.RoomState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.TargetTemperature != 21.5 || state.PresetMode != climate.PresetManual {
		t.Errorf("state = %+v", state)
	}
}

func TestSetModeValidation(t *testing.T) {
	api, vendor, _ := newTestAPI(t)
	router := api.Router()

	w := doRequest(t, router, http.MethodPut, "/api/v1/rooms/100/mode", `{"mode": "off"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if calls := vendor.callList(); len(calls) != 1 || calls[0] != "thermpoint home-1/100 off" {
		t.Fatalf("calls = %v", calls)
	}

	w = doRequest(t, router, http.MethodPut, "/api/v1/rooms/100/mode", `{"mode": "chill"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status for invalid mode = %d", w.Code)
	}

	w = doRequest(t, router, http.MethodPut, "/api/v1/rooms/100/mode", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status for empty body = %d", w.Code)
	}
}

func TestCommandEmitsEvent(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	var commands []map[string]string
	api.bus.On(events.EventCommand, func(e events.Event) {
		if data, ok := e.Data.(map[string]string); ok {
			commands = append(commands, data)
		}
	})

	w := doRequest(t, router, http.MethodPut, "/api/v1/rooms/100/preset", `{"preset": "away"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(commands) != 1 {
		t.Fatalf("command events = %d, want 1", len(commands))
	}
	if commands[0]["source"] != "api" || commands[0]["command"] != "preset" || commands[0]["value"] != "away" {
		t.Errorf("command = %v", commands[0])
	}
}

func TestSetSchedule(t *testing.T) {
	api, vendor, _ := newTestAPI(t)
	w := doRequest(t, api.Router(), http.MethodPut, "/api/v1/homes/home-1/schedule", `{"name": "Summer"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if calls := vendor.callList(); len(calls) != 1 || calls[0] != "switchschedule home-1 sched-2" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	payload := `{"data": {"home_id": "home-1", "event_type": "set_point", "home": {"id": "home-1", "rooms": [{"id": "100", "therm_setpoint_mode": "max"}]}}}`
	w := doRequest(t, router, http.MethodPost, "/webhook/netatmo", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/rooms/100", "")
	var state climate.RoomState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.HVACMode != climate.HVACModeHeat || state.TargetTemperature != climate.DefaultMaxTemp {
		t.Errorf("state after boost webhook = %+v", state)
	}

	w = doRequest(t, router, http.MethodPost, "/webhook/netatmo", `{"data": {}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status for empty event = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api, _, controller := newTestAPI(t)
	if err := api.registry.Register(climate.NewMetricsCollector(controller)); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	w := doRequest(t, api.Router(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "netatmod_climate_rooms 1") {
		t.Errorf("metrics missing room count:\n%s", body)
	}
	if !strings.Contains(body, `netatmod_climate_room_temperature_celsius{home_id="home-1",room_id="100",room_name="Living Room"} 19.3`) {
		t.Errorf("metrics missing room temperature:\n%s", body)
	}
}

func TestRequestMetricsMiddleware(t *testing.T) {
	api, _, _ := newTestAPI(t)
	for _, collector := range MetricsCollectors() {
		if err := api.registry.Register(collector); err != nil {
			t.Fatalf("register collector: %v", err)
		}
	}

	router := api.Router()
	doRequest(t, router, http.MethodGet, "/healthz", "")
	doRequest(t, router, http.MethodGet, "/no/such/route", "")

	body := doRequest(t, router, http.MethodGet, "/metrics", "").Body.String()
	if !strings.Contains(body, `netatmod_http_requests_total{method="GET",route="/healthz",status="200"}`) {
		t.Errorf("request counter missing healthz sample:\n%s", body)
	}
	if !strings.Contains(body, `netatmod_http_requests_total{method="GET",route="unmatched",status="404"}`) {
		t.Errorf("request counter missing unmatched sample:\n%s", body)
	}
	if !strings.Contains(body, `netatmod_http_request_duration_seconds_count{method="GET",route="/healthz"}`) {
		t.Errorf("duration histogram missing healthz sample:\n%s", body)
	}
}

func TestDashboardsRoute(t *testing.T) {
	api, _, _ := newTestAPI(t)
	api.dashboards = map[string][]byte{"/dashboards/netatmo.json": []byte(`{"title": "Netatmo"}`)}

	router := api.Router()
	w := doRequest(t, router, http.MethodGet, "/dashboards/netatmo.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	w = doRequest(t, router, http.MethodGet, "/dashboards/missing.json", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status for missing dashboard = %d", w.Code)
	}
}
