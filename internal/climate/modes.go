package climate

import "github.com/Invernomut0/netatmo-custom/internal/netatmo"

// Preset names mix title case and vendor-style lowercase on purpose:
// the lowercase ones surface the vendor mode string directly.
const (
	PresetSchedule   = "Schedule"
	PresetFrostGuard = "Frost Guard"
	PresetManual     = "Manual"
	PresetBoost      = "boost"
	PresetAway       = "away"
	PresetOff        = "off"
)

// HVACMode is the operating mode of a thermostat.
type HVACMode string

const (
	HVACModeAuto HVACMode = "auto"
	HVACModeHeat HVACMode = "heat"
	HVACModeOff  HVACMode = "off"
)

// HVACAction reports whether a room is actively heating.
type HVACAction string

const (
	HVACActionHeating HVACAction = "heating"
	HVACActionIdle    HVACAction = "idle"
)

const (
	DefaultMaxTemp = 30.0
	DefaultMinTemp = 7.0
	TempStep       = 0.5
)

// PresetModes lists the user-selectable presets.
var PresetModes = []string{PresetAway, PresetBoost, PresetFrostGuard, PresetSchedule}

var presetToVendorMode = map[string]string{
	PresetFrostGuard: netatmo.SetpointModeFrostGuard,
	PresetBoost:      netatmo.SetpointModeMax,
	PresetSchedule:   netatmo.SetpointModeSchedule,
	PresetAway:       netatmo.SetpointModeAway,
	PresetOff:        netatmo.SetpointModeOff,
}

var vendorModeToPreset = map[string]string{
	netatmo.SetpointModeFrostGuard: PresetFrostGuard,
	netatmo.SetpointModeMax:        PresetBoost,
	netatmo.SetpointModeSchedule:   PresetSchedule,
	netatmo.SetpointModeAway:       PresetAway,
	netatmo.SetpointModeOff:        PresetOff,
	netatmo.SetpointModeManual:     PresetManual,
	netatmo.SetpointModeHome:       PresetSchedule,
}

// Keys cover both preset names and raw vendor modes, so lookups work on
// whichever string is currently cached as the preset.
var presetToHVACMode = map[string]HVACMode{
	PresetSchedule:   HVACModeAuto,
	PresetFrostGuard: HVACModeAuto,
	PresetManual:     HVACModeAuto,
	PresetBoost:      HVACModeHeat,
	PresetAway:       HVACModeAuto,
	PresetOff:        HVACModeOff,
	netatmo.SetpointModeFrostGuard: HVACModeAuto,
	netatmo.SetpointModeManual:     HVACModeAuto,
}

// VendorModeForPreset returns the vendor therm mode for a preset.
func VendorModeForPreset(preset string) (string, bool) {
	mode, ok := presetToVendorMode[preset]
	return mode, ok
}

// PresetForVendorMode returns the preset shown for a vendor setpoint mode.
func PresetForVendorMode(mode string) (string, bool) {
	preset, ok := vendorModeToPreset[mode]
	return preset, ok
}

// HVACModeForPreset returns the hvac mode implied by a preset.
func HVACModeForPreset(preset string) (HVACMode, bool) {
	mode, ok := presetToHVACMode[preset]
	return mode, ok
}
