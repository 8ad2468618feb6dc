package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// haClimate is the HA MQTT climate discovery payload. All state topics
// point at the retained room state JSON.
type haClimate struct {
	Name                       string           `json:"name"`
	UniqueID                   string           `json:"unique_id"`
	Modes                      []string         `json:"modes"`
	PresetModes                []string         `json:"preset_modes"`
	ModeStateTopic             string           `json:"mode_state_topic"`
	ModeStateTemplate          string           `json:"mode_state_template"`
	ModeCommandTopic           string           `json:"mode_command_topic"`
	PresetModeStateTopic       string           `json:"preset_mode_state_topic"`
	PresetModeValueTemplate    string           `json:"preset_mode_value_template"`
	PresetModeCommandTopic     string           `json:"preset_mode_command_topic"`
	TemperatureStateTopic      string           `json:"temperature_state_topic"`
	TemperatureStateTemplate   string           `json:"temperature_state_template"`
	TemperatureCommandTopic    string           `json:"temperature_command_topic"`
	CurrentTemperatureTopic    string           `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string           `json:"current_temperature_template"`
	ActionTopic                string           `json:"action_topic"`
	ActionTemplate             string           `json:"action_template"`
	MinTemp                    float64          `json:"min_temp"`
	MaxTemp                    float64          `json:"max_temp"`
	TempStep                   float64          `json:"temp_step"`
	Availability               []haAvailability `json:"availability"`
	AvailabilityMode           string           `json:"availability_mode"`
	Device                     haDevice         `json:"device"`
}

// haDiscovery is a generic HA discovery payload for sensors and selects.
type haDiscovery struct {
	Name              string           `json:"name"`
	UniqueID          string           `json:"unique_id"`
	StateTopic        string           `json:"state_topic"`
	CommandTopic      string           `json:"command_topic,omitempty"`
	ValueTemplate     string           `json:"value_template,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	DeviceClass       string           `json:"device_class,omitempty"`
	StateClass        string           `json:"state_class,omitempty"`
	PayloadOn         string           `json:"payload_on,omitempty"`
	PayloadOff        string           `json:"payload_off,omitempty"`
	Options           []string         `json:"options,omitempty"`
	Availability      []haAvailability `json:"availability,omitempty"`
	Device            haDevice         `json:"device"`
}

// modelName maps vendor module types to the marketing names HA shows.
func modelName(moduleType string) string {
	switch moduleType {
	case netatmo.ModuleTypeThermostat:
		return "Smart Thermostat"
	case netatmo.ModuleTypeValve:
		return "Smart Radiator Valve"
	case netatmo.ModuleTypeRelay:
		return "Relay"
	case netatmo.ModuleTypeOpenThermThermostat:
		return "OpenTherm Modulating Thermostat"
	case netatmo.ModuleTypeSmarther:
		return "Smarther with Netatmo"
	default:
		return moduleType
	}
}

// sanitizeTopic keeps only MQTT- and HA-safe characters.
func sanitizeTopic(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// batteryPercent maps the vendor battery state to a percentage.
func batteryPercent(state string) *int {
	levels := map[string]int{
		"max":      100,
		"full":     90,
		"high":     75,
		"medium":   50,
		"low":      25,
		"very_low": 10,
		"very low": 10,
	}
	if pct, ok := levels[state]; ok {
		return &pct
	}
	return nil
}

func (b *Bridge) bridgeStateTopic() string {
	return b.prefix + "/bridge/state"
}

func (b *Bridge) roomTopic(uniqueID string) string {
	return b.prefix + "/room/" + uniqueID
}

func (b *Bridge) moduleTopic(moduleID string) string {
	return b.prefix + "/module/" + sanitizeTopic(moduleID)
}

func (b *Bridge) homeTopic(homeID string) string {
	return b.prefix + "/home/" + homeID
}

// buildClimateConfig builds the climate discovery payload for a room.
func (b *Bridge) buildClimateConfig(state climate.RoomState) discoveryMsg {
	nodeID := "netatmo_" + sanitizeTopic(state.UniqueID)
	stateTopic := b.roomTopic(state.UniqueID)

	modes := make([]string, 0, len(state.HVACModes))
	for _, mode := range state.HVACModes {
		modes = append(modes, string(mode))
	}

	payload := haClimate{
		Name:                       state.RoomName,
		UniqueID:                   nodeID,
		Modes:                      modes,
		PresetModes:                state.PresetModes,
		ModeStateTopic:             stateTopic,
		ModeStateTemplate:          "{{ value_json.hvac_mode }}",
		ModeCommandTopic:           stateTopic + "/mode/set",
		PresetModeStateTopic:       stateTopic,
		PresetModeValueTemplate:    "{{ value_json.preset_mode }}",
		PresetModeCommandTopic:     stateTopic + "/preset/set",
		TemperatureStateTopic:      stateTopic,
		TemperatureStateTemplate:   "{{ value_json.target_temperature }}",
		TemperatureCommandTopic:    stateTopic + "/temperature/set",
		CurrentTemperatureTopic:    stateTopic,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",
		ActionTopic:                stateTopic,
		ActionTemplate:             "{{ value_json.hvac_action }}",
		MinTemp:                    state.MinTemp,
		MaxTemp:                    state.MaxTemp,
		TempStep:                   state.TempStep,
		Availability: []haAvailability{
			{Topic: b.bridgeStateTopic()},
			{Topic: stateTopic + "/availability"},
		},
		AvailabilityMode: "all",
		Device: haDevice{
			Identifiers:  []string{nodeID},
			Manufacturer: "Netatmo",
			Model:        modelName(state.Model),
			Name:         state.RoomName,
		},
	}
	topic := fmt.Sprintf("%s/climate/%s/climate/config", b.discoveryPrefix, nodeID)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildModuleConfigs builds battery and boiler sensors for one module.
func (b *Bridge) buildModuleConfigs(module climate.ModuleState) []discoveryMsg {
	if module.BatteryState == "" && module.BoilerStatus == nil {
		return nil
	}

	nodeID := "netatmo_" + sanitizeTopic(module.ID)
	stateTopic := b.moduleTopic(module.ID)
	name := module.Name
	if name == "" {
		name = module.ID
	}
	device := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Netatmo",
		Model:        modelName(module.Type),
		Name:         name,
	}
	availability := []haAvailability{{Topic: b.bridgeStateTopic()}}

	var msgs []discoveryMsg
	if module.BatteryState != "" {
		payload := haDiscovery{
			Name:              name + " Battery",
			UniqueID:          nodeID + "_battery",
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json.battery_percent }}",
			UnitOfMeasurement: "%",
			DeviceClass:       "battery",
			StateClass:        "measurement",
			Availability:      availability,
			Device:            device,
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/sensor/%s/battery/config", b.discoveryPrefix, nodeID),
			Payload: mustJSON(payload),
		})
	}
	if module.BoilerStatus != nil {
		payload := haDiscovery{
			Name:          name + " Boiler",
			UniqueID:      nodeID + "_boiler",
			StateTopic:    stateTopic,
			ValueTemplate: "{{ 'ON' if value_json.boiler_status else 'OFF' }}",
			DeviceClass:   "running",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
			Availability:  availability,
			Device:        device,
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/binary_sensor/%s/boiler/config", b.discoveryPrefix, nodeID),
			Payload: mustJSON(payload),
		})
	}
	return msgs
}

// buildScheduleSelect builds the per-home schedule selector.
func (b *Bridge) buildScheduleSelect(home climate.HomeInfo) (discoveryMsg, bool) {
	if len(home.Schedules) == 0 {
		return discoveryMsg{}, false
	}
	options := make([]string, 0, len(home.Schedules))
	for _, schedule := range home.Schedules {
		options = append(options, schedule.Name)
	}

	nodeID := "netatmo_home_" + sanitizeTopic(home.ID)
	payload := haDiscovery{
		Name:          home.Name + " Schedule",
		UniqueID:      nodeID + "_schedule",
		StateTopic:    b.homeTopic(home.ID),
		CommandTopic:  b.homeTopic(home.ID) + "/schedule/set",
		ValueTemplate: "{{ value_json.selected_schedule }}",
		Options:       options,
		Availability:  []haAvailability{{Topic: b.bridgeStateTopic()}},
		Device: haDevice{
			Identifiers:  []string{nodeID},
			Manufacturer: "Netatmo",
			Model:        "Home",
			Name:         home.Name,
		},
	}
	topic := fmt.Sprintf("%s/select/%s/schedule/config", b.discoveryPrefix, nodeID)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}, true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
