package netatmo

// Energy-range module types reported by /homesdata.
const (
	ModuleTypeRelay      = "NAPlug"
	ModuleTypeThermostat = "NATherm1"
	ModuleTypeValve      = "NRV"

	// OpenTherm line.
	ModuleTypeOpenThermBridge     = "OTH"
	ModuleTypeOpenThermThermostat = "OTM"

	// Smarther and BTicino lines share the Energy API.
	ModuleTypeSmarther          = "BNS"
	ModuleTypeBticinoThermostat = "BNTH"
	ModuleTypeBticinoFanCoil    = "BNFC"
	ModuleTypeBticinoRadiator   = "BNTR"
	ModuleTypeBticinoGateway    = "BNMH"
	ModuleTypeBticinoDimmer     = "BNLD"
	ModuleTypeBticinoShutter    = "BNAS"
	ModuleTypeBticinoAwning     = "BNAB"
	ModuleTypeBticinoSwitch     = "BNSL"
	ModuleTypeBticinoSocket     = "BNCS"
)

// IsThermostat reports whether the module type is a wall thermostat
// that controls a boiler.
func IsThermostat(moduleType string) bool {
	switch moduleType {
	case ModuleTypeThermostat, ModuleTypeOpenThermThermostat, ModuleTypeSmarther, ModuleTypeBticinoThermostat:
		return true
	default:
		return false
	}
}

// IsValve reports whether the module type is a radiator valve.
func IsValve(moduleType string) bool {
	switch moduleType {
	case ModuleTypeValve, ModuleTypeBticinoRadiator:
		return true
	default:
		return false
	}
}

// IsClimateModule reports whether a room containing this module type
// should be exposed as a climate entity.
func IsClimateModule(moduleType string) bool {
	return IsThermostat(moduleType) || IsValve(moduleType)
}
