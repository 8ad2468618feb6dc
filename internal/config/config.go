package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion                      = 1
	DefaultPath                        = "/etc/netatmod/config.yaml"
	DefaultHTTPAddr                    = "0.0.0.0:8080"
	DefaultPollInterval                = "1m"
	DefaultLogLevel                    = "info"
	DefaultStorePath                   = "/var/lib/netatmod/netatmod.db"
	DefaultOAuthStatePath              = "/var/lib/netatmod/oauth/netatmo.json"
	DefaultOAuthPrefix                 = "netatmod/oauth"
	DefaultOAuthRefreshIntervalSeconds = 600
	DefaultMQTTClientID                = "netatmod"
	DefaultMQTTTopicPrefix             = "netatmo"
	DefaultMQTTDiscoveryPrefix         = "homeassistant"
)

// Config is the full daemon configuration. The mqtt and influx
// sections are optional; leaving one out disables that integration.
type Config struct {
	SchemaVersion int           `yaml:"schema_version"`
	Core          CoreConfig    `yaml:"core"`
	OAuth         OAuthConfig   `yaml:"oauth"`
	Netatmo       NetatmoConfig `yaml:"netatmo"`
	Store         StoreConfig   `yaml:"store"`
	MQTT          *MQTTConfig   `yaml:"mqtt"`
	Influx        *InfluxConfig `yaml:"influx"`
}

type CoreConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	PollInterval string `yaml:"poll_interval"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// OAuthConfig points at the bootstrap client credentials and where the
// rotated refresh state lives. The blob section mirrors the state to
// S3-compatible storage and is optional; credentials come from files
// so the config itself stays free of secrets.
type OAuthConfig struct {
	BootstrapFile          string `yaml:"bootstrap_file"`
	StatePath              string `yaml:"state_path"`
	RefreshEnabled         *bool  `yaml:"refresh_enabled"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	BlobEndpoint           string `yaml:"blob_endpoint"`
	BlobBucket             string `yaml:"blob_bucket"`
	BlobPrefix             string `yaml:"blob_prefix"`
	BlobRegion             string `yaml:"blob_region"`
	BlobAccessKeyFile      string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile      string `yaml:"blob_secret_key_file"`
}

// NetatmoConfig tunes the vendor API client. WebhookURL is the public
// callback to register with the vendor; empty skips registration.
// HomeIDs limits syncing to the listed homes; empty syncs all of them.
type NetatmoConfig struct {
	BaseURL    string   `yaml:"base_url"`
	WebhookURL string   `yaml:"webhook_url"`
	HomeIDs    []string `yaml:"home_ids"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type InfluxConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err = Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.PollInterval == "" {
		cfg.Core.PollInterval = DefaultPollInterval
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.OAuth.StatePath == "" {
		cfg.OAuth.StatePath = DefaultOAuthStatePath
	}
	if cfg.OAuth.BlobPrefix == "" {
		cfg.OAuth.BlobPrefix = DefaultOAuthPrefix
	}
	if cfg.OAuth.RefreshEnabled == nil {
		enabled := true
		cfg.OAuth.RefreshEnabled = &enabled
	}
	if cfg.OAuth.RefreshIntervalSeconds == 0 {
		cfg.OAuth.RefreshIntervalSeconds = DefaultOAuthRefreshIntervalSeconds
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultMQTTClientID
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
		}
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultMQTTDiscoveryPrefix
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	if _, err := time.ParseDuration(cfg.Core.PollInterval); err != nil {
		return fmt.Errorf("core.poll_interval: %w", err)
	}

	if cfg.OAuth.BootstrapFile == "" {
		return fmt.Errorf("oauth.bootstrap_file is required")
	}
	if cfg.OAuth.BlobEndpoint != "" {
		if cfg.OAuth.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required")
		}
		if cfg.OAuth.BlobAccessKeyFile == "" {
			return fmt.Errorf("oauth.blob_access_key_file is required")
		}
		if cfg.OAuth.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth.blob_secret_key_file is required")
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if cfg.Influx != nil {
		if cfg.Influx.URL == "" {
			return fmt.Errorf("influx.url is required")
		}
		if cfg.Influx.Token == "" {
			return fmt.Errorf("influx.token is required")
		}
		if cfg.Influx.Org == "" {
			return fmt.Errorf("influx.org is required")
		}
		if cfg.Influx.Bucket == "" {
			return fmt.Errorf("influx.bucket is required")
		}
		if cfg.Influx.FlushInterval != "" {
			if _, err := time.ParseDuration(cfg.Influx.FlushInterval); err != nil {
				return fmt.Errorf("influx.flush_interval: %w", err)
			}
		}
	}

	return nil
}

// PollInterval returns the parsed poll interval. Validate already
// checked the string parses.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Core.PollInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// OAuthRefreshInterval returns the refresh loop interval, or zero when
// background refresh is disabled.
func (c *Config) OAuthRefreshInterval() time.Duration {
	if c.OAuth.RefreshEnabled != nil && !*c.OAuth.RefreshEnabled {
		return 0
	}
	return time.Duration(c.OAuth.RefreshIntervalSeconds) * time.Second
}

// FlushIntervalDuration returns the parsed flush interval, or zero to
// let the recorder pick its default.
func (c *InfluxConfig) FlushIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.FlushInterval)
	if err != nil {
		return 0
	}
	return d
}
