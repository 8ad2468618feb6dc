package bridge

import (
	"encoding/json"
	"testing"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
)

func testBridge() *Bridge {
	return &Bridge{prefix: "netatmo", discoveryPrefix: "homeassistant"}
}

func TestClimateDiscovery(t *testing.T) {
	b := testBridge()
	state := climate.RoomState{
		HomeID:      "home-1",
		RoomID:      "100",
		RoomName:    "Living Room",
		Model:       "NATherm1",
		UniqueID:    "100-NATherm1",
		Available:   true,
		HVACMode:    climate.HVACModeAuto,
		HVACModes:   []climate.HVACMode{climate.HVACModeAuto, climate.HVACModeHeat, climate.HVACModeOff},
		PresetMode:  climate.PresetSchedule,
		PresetModes: climate.PresetModes,
		MinTemp:     climate.DefaultMinTemp,
		MaxTemp:     climate.DefaultMaxTemp,
		TempStep:    climate.TempStep,
	}

	msg := b.buildClimateConfig(state)
	if msg.Topic != "homeassistant/climate/netatmo_100-natherm1/climate/config" {
		t.Fatalf("topic = %q", msg.Topic)
	}

	var payload haClimate
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Name != "Living Room" {
		t.Errorf("name = %q, want %q", payload.Name, "Living Room")
	}
	if payload.UniqueID != "netatmo_100-natherm1" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if len(payload.Modes) != 3 || payload.Modes[0] != "auto" || payload.Modes[2] != "off" {
		t.Errorf("modes = %v", payload.Modes)
	}
	if payload.ModeStateTopic != "netatmo/room/100-NATherm1" {
		t.Errorf("mode_state_topic = %q", payload.ModeStateTopic)
	}
	if payload.ModeCommandTopic != "netatmo/room/100-NATherm1/mode/set" {
		t.Errorf("mode_command_topic = %q", payload.ModeCommandTopic)
	}
	if payload.TemperatureCommandTopic != "netatmo/room/100-NATherm1/temperature/set" {
		t.Errorf("temperature_command_topic = %q", payload.TemperatureCommandTopic)
	}
	if payload.MinTemp != 7 || payload.MaxTemp != 30 || payload.TempStep != 0.5 {
		t.Errorf("temp range = %v..%v step %v", payload.MinTemp, payload.MaxTemp, payload.TempStep)
	}
	if payload.Device.Model != "Smart Thermostat" {
		t.Errorf("device.model = %q", payload.Device.Model)
	}
	if len(payload.Availability) != 2 {
		t.Fatalf("availability entries = %d, want 2", len(payload.Availability))
	}
	if payload.Availability[0].Topic != "netatmo/bridge/state" {
		t.Errorf("availability[0] = %q", payload.Availability[0].Topic)
	}
	if payload.Availability[1].Topic != "netatmo/room/100-NATherm1/availability" {
		t.Errorf("availability[1] = %q", payload.Availability[1].Topic)
	}
	if payload.AvailabilityMode != "all" {
		t.Errorf("availability_mode = %q", payload.AvailabilityMode)
	}
}

func TestModuleDiscovery(t *testing.T) {
	b := testBridge()
	on := true
	level := 3200

	valve := climate.ModuleState{
		ID:           "04:00:02",
		Name:         "Bedroom Valve",
		Type:         "NRV",
		BatteryState: "high",
		BatteryLevel: &level,
	}
	msgs := b.buildModuleConfigs(valve)
	if len(msgs) != 1 {
		t.Fatalf("valve discovery count = %d, want 1", len(msgs))
	}
	if msgs[0].Topic != "homeassistant/sensor/netatmo_04_00_02/battery/config" {
		t.Errorf("topic = %q", msgs[0].Topic)
	}
	var battery haDiscovery
	if err := json.Unmarshal(msgs[0].Payload, &battery); err != nil {
		t.Fatalf("unmarshal battery payload: %v", err)
	}
	if battery.Name != "Bedroom Valve Battery" {
		t.Errorf("name = %q", battery.Name)
	}
	if battery.DeviceClass != "battery" || battery.UnitOfMeasurement != "%" {
		t.Errorf("device_class = %q, unit = %q", battery.DeviceClass, battery.UnitOfMeasurement)
	}
	if battery.StateTopic != "netatmo/module/04_00_02" {
		t.Errorf("state_topic = %q", battery.StateTopic)
	}
	if battery.ValueTemplate != "{{ value_json.battery_percent }}" {
		t.Errorf("value_template = %q", battery.ValueTemplate)
	}
	if battery.Device.Model != "Smart Radiator Valve" {
		t.Errorf("device.model = %q", battery.Device.Model)
	}

	thermostat := climate.ModuleState{
		ID:           "04:00:01",
		Name:         "Living Room Thermostat",
		Type:         "NATherm1",
		BatteryState: "full",
		BoilerStatus: &on,
	}
	msgs = b.buildModuleConfigs(thermostat)
	if len(msgs) != 2 {
		t.Fatalf("thermostat discovery count = %d, want 2", len(msgs))
	}
	var boiler haDiscovery
	if err := json.Unmarshal(msgs[1].Payload, &boiler); err != nil {
		t.Fatalf("unmarshal boiler payload: %v", err)
	}
	if msgs[1].Topic != "homeassistant/binary_sensor/netatmo_04_00_01/boiler/config" {
		t.Errorf("boiler topic = %q", msgs[1].Topic)
	}
	if boiler.DeviceClass != "running" {
		t.Errorf("boiler device_class = %q", boiler.DeviceClass)
	}

	relay := climate.ModuleState{ID: "04:00:00", Type: "NAPlug"}
	if msgs = b.buildModuleConfigs(relay); len(msgs) != 0 {
		t.Errorf("relay discovery count = %d, want 0", len(msgs))
	}
}

func TestScheduleSelectDiscovery(t *testing.T) {
	b := testBridge()
	home := climate.HomeInfo{
		ID:               "home-1",
		Name:             "Main Home",
		SelectedSchedule: "Winter",
		Schedules: []climate.ScheduleInfo{
			{ID: "sched-1", Name: "Winter", Selected: true},
			{ID: "sched-2", Name: "Summer"},
		},
	}

	msg, ok := b.buildScheduleSelect(home)
	if !ok {
		t.Fatal("expected schedule select discovery")
	}
	if msg.Topic != "homeassistant/select/netatmo_home_home-1/schedule/config" {
		t.Errorf("topic = %q", msg.Topic)
	}
	var payload haDiscovery
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Options) != 2 || payload.Options[0] != "Winter" || payload.Options[1] != "Summer" {
		t.Errorf("options = %v", payload.Options)
	}
	if payload.CommandTopic != "netatmo/home/home-1/schedule/set" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.ValueTemplate != "{{ value_json.selected_schedule }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}

	if _, ok := b.buildScheduleSelect(climate.HomeInfo{ID: "home-2"}); ok {
		t.Error("expected no select for a home without schedules")
	}
}

func TestSanitizeTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"04:00:01", "04_00_01"},
		{"Living Room", "living_room"},
		{"100-NATherm1", "100-natherm1"},
		{"already_safe", "already_safe"},
	}
	for _, tt := range tests {
		if got := sanitizeTopic(tt.in); got != tt.want {
			t.Errorf("sanitizeTopic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		state string
		want  int
	}{
		{"max", 100},
		{"full", 90},
		{"high", 75},
		{"medium", 50},
		{"low", 25},
		{"very_low", 10},
		{"very low", 10},
	}
	for _, tt := range tests {
		got := batteryPercent(tt.state)
		if got == nil || *got != tt.want {
			t.Errorf("batteryPercent(%q) = %v, want %d", tt.state, got, tt.want)
		}
	}
	if got := batteryPercent(""); got != nil {
		t.Errorf("batteryPercent(\"\") = %v, want nil", *got)
	}
	if got := batteryPercent("charging"); got != nil {
		t.Errorf("batteryPercent(\"charging\") = %v, want nil", *got)
	}
}
