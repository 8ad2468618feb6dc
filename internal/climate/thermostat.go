package climate

import (
	"context"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
)

// RoomState is a point-in-time snapshot of a thermostat, safe to hand
// to the API, the MQTT bridge and the event stream.
type RoomState struct {
	HomeID              string     `json:"home_id"`
	RoomID              string     `json:"room_id"`
	RoomName            string     `json:"room_name"`
	Model               string     `json:"model"`
	UniqueID            string     `json:"unique_id"`
	Available           bool       `json:"available"`
	HVACMode            HVACMode   `json:"hvac_mode"`
	HVACModes           []HVACMode `json:"hvac_modes"`
	HVACAction          HVACAction `json:"hvac_action"`
	PresetMode          string     `json:"preset_mode"`
	PresetModes         []string   `json:"preset_modes"`
	CurrentTemperature  *float64   `json:"current_temperature,omitempty"`
	TargetTemperature   float64    `json:"target_temperature"`
	MinTemp             float64    `json:"min_temp"`
	MaxTemp             float64    `json:"max_temp"`
	TempStep            float64    `json:"temp_step"`
	SelectedSchedule    string     `json:"selected_schedule,omitempty"`
	SetpointEndTime     *int64     `json:"setpoint_end_time,omitempty"`
	HeatingPowerRequest *int       `json:"heating_power_request,omitempty"`
	BoilerStatus        *bool      `json:"boiler_status,omitempty"`
}

// Thermostat is the climate entity for one room. Commands go straight
// to the vendor; cached attributes only change when the vendor confirms
// through a webhook event or a status poll.
type Thermostat struct {
	api    vendorAPI
	homeID string

	roomID    string
	roomName  string
	model     string
	uniqueID  string
	hvacModes []HVACMode

	mu                  sync.Mutex
	available           bool
	hvacMode            HVACMode
	presetMode          string
	targetTemp          float64
	currentTemp         *float64
	boilerStatus        *bool
	heatingPowerRequest *int
	setpointEndTime     *int64
	selectedSchedule    string
	awayTemp            *float64
	hgTemp              *float64
}

func newThermostat(api vendorAPI, homeID string, room netatmo.Room, module netatmo.Module) *Thermostat {
	modes := []HVACMode{HVACModeAuto, HVACModeHeat}
	if netatmo.IsThermostat(module.Type) {
		modes = append(modes, HVACModeOff)
	}
	return &Thermostat{
		api:        api,
		homeID:     homeID,
		roomID:     room.ID,
		roomName:   room.Name,
		model:      module.Type,
		uniqueID:   fmt.Sprintf("%s-%s", room.ID, module.Type),
		hvacModes:  modes,
		hvacMode:   HVACModeAuto,
		presetMode: PresetSchedule,
	}
}

func (t *Thermostat) HomeID() string   { return t.homeID }
func (t *Thermostat) RoomID() string   { return t.roomID }
func (t *Thermostat) RoomName() string { return t.roomName }
func (t *Thermostat) Model() string    { return t.model }
func (t *Thermostat) UniqueID() string { return t.uniqueID }

// HVACModes lists the modes this model supports. Only boiler-driven
// thermostats can be switched fully off.
func (t *Thermostat) HVACModes() []HVACMode {
	return t.hvacModes
}

func (t *Thermostat) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

func (t *Thermostat) HVACMode() HVACMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hvacMode
}

func (t *Thermostat) PresetMode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presetMode
}

func (t *Thermostat) TargetTemperature() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetTemp
}

// HVACAction reports heating demand: boiler relay state for
// thermostats, heating power request for valves.
func (t *Thermostat) HVACAction() HVACAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hvacActionLocked()
}

func (t *Thermostat) hvacActionLocked() HVACAction {
	if !netatmo.IsValve(t.model) && t.boilerStatus != nil {
		if *t.boilerStatus {
			return HVACActionHeating
		}
		return HVACActionIdle
	}
	if t.heatingPowerRequest != nil && *t.heatingPowerRequest > 0 {
		return HVACActionHeating
	}
	return HVACActionIdle
}

// State snapshots the entity.
func (t *Thermostat) State() RoomState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RoomState{
		HomeID:              t.homeID,
		RoomID:              t.roomID,
		RoomName:            t.roomName,
		Model:               t.model,
		UniqueID:            t.uniqueID,
		Available:           t.available,
		HVACMode:            t.hvacMode,
		HVACModes:           t.hvacModes,
		HVACAction:          t.hvacActionLocked(),
		PresetMode:          t.presetMode,
		PresetModes:         PresetModes,
		CurrentTemperature:  t.currentTemp,
		TargetTemperature:   t.targetTemp,
		MinTemp:             DefaultMinTemp,
		MaxTemp:             DefaultMaxTemp,
		TempStep:            TempStep,
		SelectedSchedule:    t.selectedSchedule,
		SetpointEndTime:     t.setpointEndTime,
		HeatingPowerRequest: t.heatingPowerRequest,
		BoilerStatus:        t.boilerStatus,
	}
}

// SetHVACMode maps the requested mode onto vendor commands.
func (t *Thermostat) SetHVACMode(ctx context.Context, mode HVACMode) error {
	switch mode {
	case HVACModeOff:
		return t.TurnOff(ctx)
	case HVACModeAuto:
		if t.HVACMode() == HVACModeOff {
			if err := t.TurnOn(ctx); err != nil {
				return err
			}
		}
		return t.SetPresetMode(ctx, PresetSchedule)
	case HVACModeHeat:
		return t.SetPresetMode(ctx, PresetBoost)
	}
	return fmt.Errorf("hvac mode %q: %w", mode, ErrUnsupportedMode)
}

// SetPresetMode applies a preset. Boost behaves differently per model:
// valves cannot hold a boiler, so they fall back to a manual max-temp
// setpoint, and an already-heating room returns to the schedule.
func (t *Thermostat) SetPresetMode(ctx context.Context, preset string) error {
	if t.HVACMode() == HVACModeOff {
		if err := t.TurnOn(ctx); err != nil {
			return err
		}
	}
	if t.TargetTemperature() == 0 {
		if err := t.setRoomMode(ctx, netatmo.SetpointModeHome); err != nil {
			return err
		}
	}

	boost := preset == PresetBoost || preset == netatmo.SetpointModeMax
	valve := netatmo.IsValve(t.model)
	heating := t.HVACMode() == HVACModeHeat

	switch {
	case boost && valve && heating:
		return t.setRoomMode(ctx, netatmo.SetpointModeHome)
	case boost && valve:
		return t.setRoomTemp(ctx, netatmo.SetpointModeManual, DefaultMaxTemp)
	case boost && heating:
		return t.setRoomMode(ctx, netatmo.SetpointModeHome)
	case boost:
		return t.setRoomMode(ctx, netatmo.SetpointModeMax)
	case preset == PresetSchedule || preset == PresetFrostGuard || preset == PresetAway:
		return t.api.SetThermMode(ctx, t.homeID, presetToVendorMode[preset])
	default:
		log.Errorf("Preset mode '%s' not available", preset)
		return nil
	}
}

// SetTemperature requests a manual setpoint, capped at the vendor max.
func (t *Thermostat) SetTemperature(ctx context.Context, temp float64) error {
	return t.setRoomTemp(ctx, netatmo.SetpointModeManual, math.Min(temp, DefaultMaxTemp))
}

// TurnOff shuts the room down. Valves have no off mode, so they get a
// frost-guard-level manual setpoint instead.
func (t *Thermostat) TurnOff(ctx context.Context) error {
	if netatmo.IsValve(t.model) {
		return t.setRoomTemp(ctx, netatmo.SetpointModeManual, DefaultMinTemp)
	}
	if t.HVACMode() != HVACModeOff {
		return t.setRoomMode(ctx, netatmo.SetpointModeOff)
	}
	return nil
}

// TurnOn hands the room back to the home schedule.
func (t *Thermostat) TurnOn(ctx context.Context) error {
	return t.setRoomMode(ctx, netatmo.SetpointModeHome)
}

func (t *Thermostat) setRoomMode(ctx context.Context, mode string) error {
	return t.api.SetRoomThermpoint(ctx, t.homeID, t.roomID, mode, nil, nil)
}

func (t *Thermostat) setRoomTemp(ctx context.Context, mode string, temp float64) error {
	return t.api.SetRoomThermpoint(ctx, t.homeID, t.roomID, mode, &temp, nil)
}

// applyRoomStatus re-renders the entity from polled vendor state. An
// unreachable room keeps its last attributes but goes unavailable.
func (t *Thermostat) applyRoomStatus(status netatmo.RoomStatus, modules []netatmo.ModuleStatus, selectedSchedule string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !status.ReachableOrDefault() {
		if t.available {
			log.WithField("room", t.roomName).Warn("room unreachable")
		}
		t.available = false
		return
	}
	t.available = true
	t.currentTemp = status.ThermMeasuredTemperature
	if status.ThermSetpointTemperature != nil {
		t.targetTemp = *status.ThermSetpointTemperature
	}
	t.setpointEndTime = status.ThermSetpointEndTime
	t.selectedSchedule = selectedSchedule

	if preset, ok := vendorModeToPreset[status.ThermSetpointMode]; ok {
		t.presetMode = preset
		if mode, ok := presetToHVACMode[preset]; ok {
			t.hvacMode = mode
		}
	} else if status.ThermSetpointMode != "" {
		log.WithField("room_id", t.roomID).Warnf("unknown setpoint mode %q", status.ThermSetpointMode)
	}

	if netatmo.IsValve(t.model) {
		t.heatingPowerRequest = status.HeatingPowerRequest
		return
	}
	for _, module := range modules {
		if module.BoilerStatus != nil {
			t.boilerStatus = module.BoilerStatus
			break
		}
	}
}

// applySetPointEvent applies a set_point webhook for this room.
func (t *Thermostat) applySetPointEvent(room netatmo.EventRoom) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch room.ThermSetpointMode {
	case netatmo.SetpointModeOff:
		t.hvacMode = HVACModeOff
		t.presetMode = PresetOff
		t.targetTemp = 0
	case netatmo.SetpointModeMax:
		t.hvacMode = HVACModeHeat
		// surfaces as "max", not "boost"
		t.presetMode = netatmo.SetpointModeMax
		t.targetTemp = DefaultMaxTemp
	case netatmo.SetpointModeManual:
		t.hvacMode = HVACModeHeat
		if room.ThermSetpointTemperature != nil {
			t.targetTemp = *room.ThermSetpointTemperature
		}
	default:
		if room.ThermSetpointTemperature != nil {
			t.targetTemp = *room.ThermSetpointTemperature
		}
		if t.targetTemp == DefaultMaxTemp {
			t.hvacMode = HVACModeHeat
		}
	}
	if room.ThermSetpointEndTime != nil {
		t.setpointEndTime = room.ThermSetpointEndTime
	}
}

// applyThermModeEvent applies a home-wide therm_mode webhook. The
// returned flag asks the caller to refresh from the vendor, which the
// schedule modes need because per-room targets are not in the event.
func (t *Thermostat) applyThermModeEvent(mode string) (refresh bool) {
	preset, ok := vendorModeToPreset[mode]
	if !ok {
		log.WithField("room_id", t.roomID).Warnf("unknown therm mode %q", mode)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.presetMode = preset
	if hvac, ok := presetToHVACMode[preset]; ok {
		t.hvacMode = hvac
	}
	switch preset {
	case PresetFrostGuard:
		if t.hgTemp != nil {
			t.targetTemp = *t.hgTemp
		}
	case PresetAway:
		if t.awayTemp != nil {
			t.targetTemp = *t.awayTemp
		}
	case PresetSchedule:
		return true
	}
	return false
}

// setScheduleTemps caches the away and frost-guard targets of the
// currently selected schedule.
func (t *Thermostat) setScheduleTemps(away, hg *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.awayTemp = away
	t.hgTemp = hg
}

func (t *Thermostat) setSelectedSchedule(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selectedSchedule = name
}

func (t *Thermostat) markUnavailable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available = false
}
