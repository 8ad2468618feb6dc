package history

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
)

// fakeInflux accepts pings and collects line-protocol write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeInflux) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(http.StatusNoContent)
		case strings.Contains(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.bodies = append(f.bodies, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func (f *fakeInflux) combined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeInflux) {
	t.Helper()
	influx := &fakeInflux{}
	srv := httptest.NewServer(influx.handler())
	t.Cleanup(srv.Close)

	recorder, err := NewRecorder(Config{URL: srv.URL, Token: "test-token", Org: "home", Bucket: "netatmo"})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	t.Cleanup(recorder.Close)
	return recorder, influx
}

func TestRecordRoomState(t *testing.T) {
	recorder, influx := newTestRecorder(t)

	current := 19.3
	recorder.RecordRoomState(climate.RoomState{
		HomeID:             "home-1",
		RoomID:             "100",
		RoomName:           "Living Room",
		Model:              "NATherm1",
		Available:          true,
		HVACMode:           climate.HVACModeAuto,
		HVACAction:         climate.HVACActionHeating,
		PresetMode:         climate.PresetSchedule,
		CurrentTemperature: &current,
		TargetTemperature:  19,
	})
	recorder.writeAPI.Flush()

	body := influx.combined()
	if !strings.Contains(body, "room_state,") {
		t.Fatalf("no room_state measurement in body:\n%s", body)
	}
	for _, want := range []string{
		"home_id=home-1",
		"room_id=100",
		"room_name=Living\\ Room",
		"current_temperature=19.3",
		"target_temperature=19",
		"heating=true",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestStartSubscribesToBus(t *testing.T) {
	recorder, influx := newTestRecorder(t)
	bus := events.NewBus()
	recorder.Start(bus)

	bus.Emit(events.Event{Type: events.EventRoomState, Data: climate.RoomState{
		HomeID: "home-1", RoomID: "200", RoomName: "Bedroom", Model: "NRV",
	}})
	bus.Emit(events.Event{Type: events.EventCommand, Data: map[string]string{
		"source": "api", "command": "preset", "target": "200-NRV", "value": "away",
	}})
	recorder.writeAPI.Flush()

	body := influx.combined()
	if !strings.Contains(body, "room_id=200") {
		t.Errorf("room state write missing:\n%s", body)
	}
	if !strings.Contains(body, "command,") || !strings.Contains(body, "value=\"away\"") {
		t.Errorf("command write missing:\n%s", body)
	}
}

func TestNewRecorderRejectsDeadServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewRecorder(Config{URL: srv.URL}); err == nil {
		t.Fatal("expected error for unhealthy server")
	}
}
