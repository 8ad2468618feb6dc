package climate

import _ "embed"

//go:embed dashboard.json
var dashboardJSON []byte

// Dashboards returns the embedded Grafana dashboards keyed by serving
// path.
func Dashboards() map[string][]byte {
	return map[string][]byte{
		"/dashboards/netatmo/climate.json": dashboardJSON,
	}
}
