package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
schema_version: 1
oauth:
  bootstrap_file: /etc/netatmod/bootstrap.json
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("http_addr = %q", cfg.Core.HTTPAddr)
	}
	if cfg.PollInterval() != time.Minute {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.OAuth.StatePath != DefaultOAuthStatePath {
		t.Errorf("state_path = %q", cfg.OAuth.StatePath)
	}
	if cfg.Store.Path != DefaultStorePath {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.OAuthRefreshInterval() != 600*time.Second {
		t.Errorf("refresh interval = %v", cfg.OAuthRefreshInterval())
	}
	if cfg.MQTT != nil || cfg.Influx != nil {
		t.Error("optional sections should stay nil when absent")
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
schema_version: 1
core:
  http_addr: 127.0.0.1:9090
  poll_interval: 2m
  log_level: debug
oauth:
  bootstrap_file: /etc/netatmod/bootstrap.json
  refresh_enabled: false
netatmo:
  webhook_url: https://example.org/webhook/netatmo
  home_ids: [home-1, home-2]
mqtt:
  broker: tcp://broker:1883
influx:
  url: http://influx:8086
  token: secret
  org: home
  bucket: netatmo
  flush_interval: 5s
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Core.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("http_addr = %q", cfg.Core.HTTPAddr)
	}
	if cfg.PollInterval() != 2*time.Minute {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.OAuthRefreshInterval() != 0 {
		t.Errorf("refresh interval = %v, want disabled", cfg.OAuthRefreshInterval())
	}
	if len(cfg.Netatmo.HomeIDs) != 2 || cfg.Netatmo.HomeIDs[0] != "home-1" {
		t.Errorf("home_ids = %v", cfg.Netatmo.HomeIDs)
	}
	if cfg.MQTT == nil || cfg.MQTT.TopicPrefix != DefaultMQTTTopicPrefix {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.MQTT.ClientID != DefaultMQTTClientID {
		t.Errorf("mqtt client_id = %q", cfg.MQTT.ClientID)
	}
	if cfg.Influx == nil || cfg.Influx.FlushIntervalDuration() != 5*time.Second {
		t.Errorf("influx = %+v", cfg.Influx)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "wrong schema version",
			content: "schema_version: 2\noauth:\n  bootstrap_file: /x\n",
			want:    "schema_version",
		},
		{
			name:    "missing bootstrap",
			content: "schema_version: 1\n",
			want:    "oauth.bootstrap_file",
		},
		{
			name:    "bad poll interval",
			content: "schema_version: 1\ncore:\n  poll_interval: soon\noauth:\n  bootstrap_file: /x\n",
			want:    "core.poll_interval",
		},
		{
			name:    "blob without bucket",
			content: "schema_version: 1\noauth:\n  bootstrap_file: /x\n  blob_endpoint: https://s3.example.org\n",
			want:    "oauth.blob_bucket",
		},
		{
			name:    "mqtt without broker",
			content: "schema_version: 1\noauth:\n  bootstrap_file: /x\nmqtt:\n  client_id: test\n",
			want:    "mqtt.broker",
		},
		{
			name:    "influx without token",
			content: "schema_version: 1\noauth:\n  bootstrap_file: /x\ninflux:\n  url: http://influx:8086\n",
			want:    "influx.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
