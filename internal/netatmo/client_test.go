package netatmo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Invernomut0/netatmo-custom/internal/oauth"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if m.data != nil {
		if data, ok := m.data[provider]; ok {
			return data, nil
		}
	}
	return nil, oauth.ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTestManager(t *testing.T, tokenURL string) *oauth.Manager {
	t.Helper()
	decl := oauth.Declaration{
		Provider:  "netatmo",
		TokenURL:  tokenURL,
		Scope:     "read_thermostat write_thermostat",
		StatePath: filepath.Join(t.TempDir(), "state.json"),
	}
	bootstrap := oauth.Bootstrap{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	}
	manager, err := oauth.NewManagerFromBootstrap(decl, bootstrap, &memoryBlobStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestClientFlow(t *testing.T) {
	var tokenRequests int
	var thermpointBody, thermmodeBody, scheduleBody, webhookBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST to /oauth2/token, got %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "refresh_token=refresh-token") {
				t.Fatalf("expected refresh_token in request, got %s", string(body))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"test-token","refresh_token":"new-refresh","expires_in":3600,"token_type":"Bearer"}`)
			return
		case "/api/homesdata":
			assertAuth(t, r)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok","body":{"homes":[{"id":"home-1","name":"Main","therm_mode":"schedule","therm_setpoint_default_duration":180,"rooms":[{"id":"100","name":"Living Room","type":"livingroom","module_ids":["04:00:01"]}],"modules":[{"id":"04:00:01","type":"NATherm1","name":"Thermostat","room_id":"100","bridge":"70:ee:50"}],"schedules":[{"id":"sched-1","name":"Winter","type":"therm","default":true,"selected":true,"away_temp":14,"hg_temp":7}]}]}}`)
			return
		case "/api/homestatus":
			assertAuth(t, r)
			if got := r.URL.Query().Get("home_id"); got != "home-1" {
				t.Fatalf("unexpected home_id query: %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok","body":{"home":{"id":"home-1","rooms":[{"id":"100","reachable":true,"therm_measured_temperature":19.3,"therm_setpoint_temperature":20.5,"therm_setpoint_mode":"manual","therm_setpoint_end_time":1700003600,"heating_power_request":42}],"modules":[{"id":"04:00:01","type":"NATherm1","reachable":true,"battery_state":"high","battery_level":4052,"boiler_status":true}]}}}`)
			return
		case "/api/setroomthermpoint":
			assertAuth(t, r)
			body, _ := io.ReadAll(r.Body)
			thermpointBody = string(body)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		case "/api/setthermmode":
			assertAuth(t, r)
			body, _ := io.ReadAll(r.Body)
			thermmodeBody = string(body)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		case "/api/switchhomeschedule":
			assertAuth(t, r)
			body, _ := io.ReadAll(r.Body)
			scheduleBody = string(body)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		case "/api/addwebhook":
			assertAuth(t, r)
			body, _ := io.ReadAll(r.Body)
			webhookBody = string(body)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		case "/api/dropwebhook":
			assertAuth(t, r)
			body, _ := io.ReadAll(r.Body)
			webhookBody = string(body)
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
			return
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := newTestManager(t, server.URL+"/oauth2/token")
	manager.StartWithInterval(ctx, time.Hour)
	if tokenRequests == 0 {
		t.Fatalf("expected an initial token refresh")
	}

	client, err := NewClient(Config{BaseURL: server.URL}, manager)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	homes, err := client.HomesData(ctx)
	if err != nil {
		t.Fatalf("HomesData: %v", err)
	}
	if len(homes) != 1 {
		t.Fatalf("expected 1 home, got %d", len(homes))
	}
	home := homes[0]
	if home.ID != "home-1" || home.ThermMode != "schedule" {
		t.Fatalf("unexpected home: %+v", home)
	}
	if len(home.Rooms) != 1 || home.Rooms[0].Name != "Living Room" {
		t.Fatalf("unexpected rooms: %+v", home.Rooms)
	}
	if len(home.Schedules) != 1 || !home.Schedules[0].Selected {
		t.Fatalf("unexpected schedules: %+v", home.Schedules)
	}
	if home.Schedules[0].AwayTemp == nil || *home.Schedules[0].AwayTemp != 14 {
		t.Fatalf("unexpected away temp: %v", home.Schedules[0].AwayTemp)
	}

	status, err := client.HomeStatus(ctx, "home-1")
	if err != nil {
		t.Fatalf("HomeStatus: %v", err)
	}
	if len(status.Rooms) != 1 {
		t.Fatalf("expected 1 room status, got %d", len(status.Rooms))
	}
	room := status.Rooms[0]
	if !room.ReachableOrDefault() {
		t.Fatalf("expected room to be reachable")
	}
	if room.ThermMeasuredTemperature == nil || *room.ThermMeasuredTemperature != 19.3 {
		t.Fatalf("unexpected measured temperature: %v", room.ThermMeasuredTemperature)
	}
	if len(status.Modules) != 1 || status.Modules[0].BoilerStatus == nil || !*status.Modules[0].BoilerStatus {
		t.Fatalf("unexpected modules: %+v", status.Modules)
	}

	temp := 21.5
	if err := client.SetRoomThermpoint(ctx, "home-1", "100", "manual", &temp, nil); err != nil {
		t.Fatalf("SetRoomThermpoint: %v", err)
	}
	if thermpointBody != "home_id=home-1&mode=manual&room_id=100&temp=21.5" {
		t.Fatalf("unexpected thermpoint form: %s", thermpointBody)
	}

	if err := client.SetThermMode(ctx, "home-1", "away"); err != nil {
		t.Fatalf("SetThermMode: %v", err)
	}
	if thermmodeBody != "home_id=home-1&mode=away" {
		t.Fatalf("unexpected thermmode form: %s", thermmodeBody)
	}

	if err := client.SwitchHomeSchedule(ctx, "home-1", "sched-2"); err != nil {
		t.Fatalf("SwitchHomeSchedule: %v", err)
	}
	if scheduleBody != "home_id=home-1&schedule_id=sched-2" {
		t.Fatalf("unexpected schedule form: %s", scheduleBody)
	}

	if err := client.AddWebhook(ctx, "https://example.com/webhook/netatmo"); err != nil {
		t.Fatalf("AddWebhook: %v", err)
	}
	if !strings.Contains(webhookBody, "url=https%3A%2F%2Fexample.com%2Fwebhook%2Fnetatmo") {
		t.Fatalf("unexpected webhook form: %s", webhookBody)
	}

	if err := client.DropWebhook(ctx); err != nil {
		t.Fatalf("DropWebhook: %v", err)
	}
	if webhookBody != "app_types=app_thermostat" {
		t.Fatalf("unexpected drop form: %s", webhookBody)
	}

	if tokenRequests != 1 {
		t.Fatalf("expected exactly 1 token refresh, got %d", tokenRequests)
	}
}

func TestClientNoToken(t *testing.T) {
	manager := newTestManager(t, "https://unused.invalid/token")

	client, err := NewClient(Config{BaseURL: "https://unused.invalid"}, manager)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.HomesData(context.Background())
	if !errors.Is(err, oauth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestClientErrorResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"test-token","expires_in":3600,"token_type":"Bearer"}`)
		case "/api/homesdata":
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":13,"message":"Access token scope is insufficient"}}`)
		case "/api/setthermmode":
			_, _ = io.WriteString(w, `{"status":"error"}`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := newTestManager(t, server.URL+"/oauth2/token")
	manager.StartWithInterval(ctx, time.Hour)

	client, err := NewClient(Config{BaseURL: server.URL}, manager)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.HomesData(ctx)
	var statusErr HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.Status != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", statusErr.Status)
	}

	err = client.SetThermMode(ctx, "home-1", "away")
	if err == nil || !strings.Contains(err.Error(), `unexpected response status "error"`) {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestParseWebhookEvent(t *testing.T) {
	payload := `{"user_id":"u1","data":{"home_id":"home-1","event_type":"set_point","home":{"id":"home-1","rooms":[{"id":"100","therm_setpoint_mode":"manual","therm_setpoint_temperature":22.5,"therm_setpoint_end_time":1700003600}]}}}`
	event, err := ParseWebhookEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Data.EventType != EventTypeSetPoint {
		t.Fatalf("unexpected event type: %s", event.Data.EventType)
	}
	if event.Data.Home == nil || len(event.Data.Home.Rooms) != 1 {
		t.Fatalf("unexpected home payload: %+v", event.Data.Home)
	}
	eventRoom := event.Data.Home.Rooms[0]
	if eventRoom.ThermSetpointTemperature == nil || *eventRoom.ThermSetpointTemperature != 22.5 {
		t.Fatalf("unexpected setpoint: %v", eventRoom.ThermSetpointTemperature)
	}

	// home_id may only be present inside the nested home object
	nested := `{"data":{"event_type":"therm_mode","home":{"id":"home-2","therm_mode":"away"}}}`
	event, err = ParseWebhookEvent([]byte(nested))
	if err != nil {
		t.Fatalf("ParseWebhookEvent nested: %v", err)
	}
	if event.Data.HomeID != "home-2" {
		t.Fatalf("expected home id from nested payload, got %q", event.Data.HomeID)
	}

	for name, payload := range map[string]string{
		"empty":        `{}`,
		"no home id":   `{"data":{"event_type":"set_point"}}`,
		"not json":     `topology changed`,
		"missing type": `{"data":{"home_id":"home-1"}}`,
	} {
		if _, err := ParseWebhookEvent([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func assertAuth(t *testing.T, r *http.Request) {
	t.Helper()
	auth := r.Header.Get("Authorization")
	if auth != "Bearer test-token" {
		t.Fatalf("unexpected auth header: %s", auth)
	}
}
