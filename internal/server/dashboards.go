package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DashboardsHandler serves dashboard JSON from an in-memory map.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if data, ok := dashboards[path]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}

		http.NotFound(w, r)
	})
}

// WriteDashboards materializes dashboards to disk for Grafana
// provisioning. Keys are serving paths; the path below /dashboards/
// becomes the file path under dir.
func WriteDashboards(dir string, dashboards map[string][]byte) error {
	if dir == "" {
		return nil
	}

	for servePath, data := range dashboards {
		rel := strings.TrimPrefix(servePath, "/dashboards/")
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write dashboard %s: %w", path, err)
		}
	}

	return nil
}
