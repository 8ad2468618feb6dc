package netatmo

// Setpoint modes a room can be in, and the therm modes a home can be
// switched to. The home-level modes are the subset schedule/away/hg.
const (
	SetpointModeSchedule   = "schedule"
	SetpointModeManual     = "manual"
	SetpointModeMax        = "max"
	SetpointModeOff        = "off"
	SetpointModeHome       = "home"
	SetpointModeAway       = "away"
	SetpointModeFrostGuard = "hg"
)

// Home is one entry of the /homesdata topology.
type Home struct {
	ID                           string     `json:"id"`
	Name                         string     `json:"name"`
	ThermMode                    string     `json:"therm_mode"`
	ThermSetpointDefaultDuration int        `json:"therm_setpoint_default_duration"`
	Rooms                        []Room     `json:"rooms"`
	Modules                      []Module   `json:"modules"`
	Schedules                    []Schedule `json:"schedules"`
}

// Room is a topology room. ModuleIDs lists the modules mounted in it.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	ModuleIDs []string `json:"module_ids"`
}

// Module is a topology module (relay, thermostat, valve, ...).
type Module struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	RoomID string `json:"room_id"`
	Bridge string `json:"bridge"`
}

// Schedule is a heating timetable attached to a home. AwayTemp and
// HgTemp are the home-wide targets used by the away and frost-guard
// therm modes while this schedule is selected.
type Schedule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Default  bool     `json:"default"`
	Selected bool     `json:"selected"`
	AwayTemp *float64 `json:"away_temp"`
	HgTemp   *float64 `json:"hg_temp"`
}

// HomeStatus is the live state of a home from /homestatus.
type HomeStatus struct {
	ID      string         `json:"id"`
	Rooms   []RoomStatus   `json:"rooms"`
	Modules []ModuleStatus `json:"modules"`
}

// RoomStatus carries the measured and requested state of one room.
// Pointer fields are absent when the vendor omits them, which happens
// for unreachable rooms.
type RoomStatus struct {
	ID                       string   `json:"id"`
	Reachable                *bool    `json:"reachable"`
	ThermMeasuredTemperature *float64 `json:"therm_measured_temperature"`
	ThermSetpointTemperature *float64 `json:"therm_setpoint_temperature"`
	ThermSetpointMode        string   `json:"therm_setpoint_mode"`
	ThermSetpointStartTime   *int64   `json:"therm_setpoint_start_time"`
	ThermSetpointEndTime     *int64   `json:"therm_setpoint_end_time"`
	HeatingPowerRequest      *int     `json:"heating_power_request"`
	OpenWindow               *bool    `json:"open_window"`
	Anticipating             *bool    `json:"anticipating"`
}

// ModuleStatus carries the live state of one module.
type ModuleStatus struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Reachable        *bool  `json:"reachable"`
	BatteryState     string `json:"battery_state"`
	BatteryLevel     *int   `json:"battery_level"`
	FirmwareRevision *int   `json:"firmware_revision"`
	RFStrength       *int   `json:"rf_strength"`
	WifiStrength     *int   `json:"wifi_strength"`
	BoilerStatus     *bool  `json:"boiler_status"`
}

// ReachableOrDefault reports room reachability, treating an absent flag
// as unreachable.
func (r RoomStatus) ReachableOrDefault() bool {
	return r.Reachable != nil && *r.Reachable
}
