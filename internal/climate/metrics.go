package climate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports room and module state from the controller
// cache. Scrapes never touch the vendor API; the poll loop and webhook
// events keep the cache current.
type MetricsCollector struct {
	controller *Controller

	temp            *prometheus.GaugeVec
	setpoint        *prometheus.GaugeVec
	heatingPower    *prometheus.GaugeVec
	boilerOn        *prometheus.GaugeVec
	heatingActive   *prometheus.GaugeVec
	available       *prometheus.GaugeVec
	batteryLevel    *prometheus.GaugeVec
	moduleReachable *prometheus.GaugeVec
	rooms           prometheus.Gauge
}

func NewMetricsCollector(controller *Controller) *MetricsCollector {
	roomLabels := []string{"home_id", "room_id", "room_name"}
	moduleLabels := []string{"home_id", "module_id", "module_name", "module_type"}
	return &MetricsCollector{
		controller: controller,
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_room_temperature_celsius",
			Help: "Measured temperature per room",
		}, roomLabels),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_setpoint_celsius",
			Help: "Target temperature per room",
		}, roomLabels),
		heatingPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_heating_power_percent",
			Help: "Valve heating power request per room",
		}, roomLabels),
		boilerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_boiler_on_bool",
			Help: "Boiler relay state per thermostat room (1=on, 0=off)",
		}, roomLabels),
		heatingActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_heating_active_bool",
			Help: "Heating demand per room (1=heating, 0=idle)",
		}, roomLabels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_room_available_bool",
			Help: "Room reachability (1=reachable, 0=unreachable)",
		}, roomLabels),
		batteryLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_battery_level",
			Help: "Battery level per module as reported by the vendor",
		}, moduleLabels),
		moduleReachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netatmod_climate_module_reachable_bool",
			Help: "Module reachability (1=reachable, 0=unreachable)",
		}, moduleLabels),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netatmod_climate_rooms",
			Help: "Number of climate rooms known to the controller",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.temp.Describe(ch)
	c.setpoint.Describe(ch)
	c.heatingPower.Describe(ch)
	c.boilerOn.Describe(ch)
	c.heatingActive.Describe(ch)
	c.available.Describe(ch)
	c.batteryLevel.Describe(ch)
	c.moduleReachable.Describe(ch)
	c.rooms.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.temp.Reset()
	c.setpoint.Reset()
	c.heatingPower.Reset()
	c.boilerOn.Reset()
	c.heatingActive.Reset()
	c.available.Reset()
	c.batteryLevel.Reset()
	c.moduleReachable.Reset()

	states := c.controller.RoomStates()
	c.rooms.Set(float64(len(states)))

	for _, state := range states {
		labels := prometheus.Labels{
			"home_id":   state.HomeID,
			"room_id":   state.RoomID,
			"room_name": state.RoomName,
		}
		c.available.With(labels).Set(boolToFloat(state.Available))
		c.heatingActive.With(labels).Set(boolToFloat(state.HVACAction == HVACActionHeating))
		if state.CurrentTemperature != nil {
			c.temp.With(labels).Set(*state.CurrentTemperature)
		}
		if state.Available {
			c.setpoint.With(labels).Set(state.TargetTemperature)
		}
		if state.HeatingPowerRequest != nil {
			c.heatingPower.With(labels).Set(float64(*state.HeatingPowerRequest))
		}
		if state.BoilerStatus != nil {
			c.boilerOn.With(labels).Set(boolToFloat(*state.BoilerStatus))
		}
	}

	for _, home := range c.controller.Homes() {
		for _, module := range c.controller.Modules(home.ID) {
			labels := prometheus.Labels{
				"home_id":     home.ID,
				"module_id":   module.ID,
				"module_name": module.Name,
				"module_type": module.Type,
			}
			c.moduleReachable.With(labels).Set(boolToFloat(module.Reachable))
			if module.BatteryLevel != nil {
				c.batteryLevel.With(labels).Set(float64(*module.BatteryLevel))
			}
		}
	}

	c.collectAll(ch)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.temp.Collect(ch)
	c.setpoint.Collect(ch)
	c.heatingPower.Collect(ch)
	c.boilerOn.Collect(ch)
	c.heatingActive.Collect(ch)
	c.available.Collect(ch)
	c.batteryLevel.Collect(ch)
	c.moduleReachable.Collect(ch)
	c.rooms.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
