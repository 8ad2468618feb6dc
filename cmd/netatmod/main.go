package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/bridge"
	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/config"
	"github.com/Invernomut0/netatmo-custom/internal/events"
	"github.com/Invernomut0/netatmo-custom/internal/history"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
	"github.com/Invernomut0/netatmo-custom/internal/oauth"
	"github.com/Invernomut0/netatmo-custom/internal/rate"
	"github.com/Invernomut0/netatmo-custom/internal/server"
	"github.com/Invernomut0/netatmo-custom/internal/store"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		serveMain(args)
		return
	}

	switch args[0] {
	case "serve":
		serveMain(args[1:])
	case "oauth":
		oauthMain(args[1:])
	case "webhook":
		webhookMain(args[1:])
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("netatmod <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve [--config <path>] [--dashboards-dir <dir>]")
	fmt.Println("  oauth <login|persist> [args]")
	fmt.Println("  webhook <add|drop> [args]")
	fmt.Println("")
	fmt.Println("Running without a command starts the daemon.")
}

func serveMain(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	dashboardsDir := flags.String("dashboards-dir", "", "Export dashboards to this directory for Grafana provisioning")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("serve", err)
	}
	setupLogging(cfg.Core.LogLevel, cfg.Core.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := newOAuthManager(cfg)
	if err != nil {
		fatal("serve", err)
	}
	manager.StartWithInterval(ctx, cfg.OAuthRefreshInterval())

	client, err := newVendorClient(cfg, manager)
	if err != nil {
		fatal("serve", err)
	}

	boltStore, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		fatal("serve", err)
	}
	defer boltStore.Close()

	bus := events.NewBus()
	controller := climate.NewController(client, boltStore, bus)
	controller.LimitHomes(cfg.Netatmo.HomeIDs)
	if err := controller.Bootstrap(ctx); err != nil {
		// The poll loop keeps retrying, so a vendor outage at boot is
		// not fatal. The API serves whatever topology is known.
		log.WithError(err).Warn("no climate rooms known yet, serving anyway")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(climate.NewMetricsCollector(controller))
	for _, collector := range oauth.MetricsCollectors() {
		registry.MustRegister(collector)
	}
	for _, collector := range rate.MetricsCollectors() {
		registry.MustRegister(collector)
	}
	for _, collector := range server.MetricsCollectors() {
		registry.MustRegister(collector)
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "netatmod_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	dashboards := climate.Dashboards()
	if err := server.WriteDashboards(*dashboardsDir, dashboards); err != nil {
		log.WithError(err).Warn("dashboard export failed")
	}

	var mqttBridge *bridge.Bridge
	if cfg.MQTT != nil {
		mqttBridge, err = bridge.NewBridge(controller, bus, bridge.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		})
		if err != nil {
			fatal("serve", err)
		}
		mqttBridge.Start()
	}

	var recorder *history.Recorder
	if cfg.Influx != nil {
		recorder, err = history.NewRecorder(history.Config{
			URL:           cfg.Influx.URL,
			Token:         cfg.Influx.Token,
			Org:           cfg.Influx.Org,
			Bucket:        cfg.Influx.Bucket,
			BatchSize:     cfg.Influx.BatchSize,
			FlushInterval: cfg.Influx.FlushIntervalDuration(),
		})
		if err != nil {
			// History is best-effort; heating control works without it.
			log.WithError(err).Warn("influxdb recorder disabled")
			recorder = nil
		} else {
			recorder.Start(bus)
		}
	}

	if cfg.Netatmo.WebhookURL != "" {
		if err := client.AddWebhook(ctx, cfg.Netatmo.WebhookURL); err != nil {
			log.WithError(err).Warn("webhook registration failed, relying on polling")
		} else {
			log.WithField("url", cfg.Netatmo.WebhookURL).Info("registered vendor webhook")
		}
	}

	api := server.NewAPI(controller, bus, registry, dashboards)
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, api.Router())

	go controller.Run(ctx, cfg.PollInterval())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	log.WithField("addr", cfg.Core.HTTPAddr).Info("netatmod serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		signal.Stop(sigCh)
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("serve", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if mqttBridge != nil {
		mqttBridge.Stop()
	}
	if recorder != nil {
		recorder.Close()
	}
	if cfg.Netatmo.WebhookURL != "" {
		if err := client.DropWebhook(shutdownCtx); err != nil {
			log.WithError(err).Warn("webhook removal failed")
		}
	}
}

func setupLogging(level, format string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func newOAuthManager(cfg *config.Config) (*oauth.Manager, error) {
	blobStore, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}
	return oauth.NewManager(oauth.Netatmo(cfg.OAuth.StatePath), cfg.OAuth.BootstrapFile, blobStore)
}

func newBlobStore(cfg *config.Config) (oauth.BlobStore, error) {
	if cfg.OAuth.BlobEndpoint == "" {
		return oauth.NoopStore{}, nil
	}
	return oauth.NewS3Store(oauth.BlobConfig{
		Endpoint:      cfg.OAuth.BlobEndpoint,
		Bucket:        cfg.OAuth.BlobBucket,
		Prefix:        cfg.OAuth.BlobPrefix,
		Region:        cfg.OAuth.BlobRegion,
		AccessKeyFile: cfg.OAuth.BlobAccessKeyFile,
		SecretKeyFile: cfg.OAuth.BlobSecretKeyFile,
	})
}

func newVendorClient(cfg *config.Config, manager *oauth.Manager) (*netatmo.Client, error) {
	httpClient := rate.WrapHTTP(rate.Netatmo(), &http.Client{Timeout: 15 * time.Second})
	return netatmo.NewClient(netatmo.Config{
		BaseURL:    cfg.Netatmo.BaseURL,
		HTTPClient: httpClient,
	}, manager)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
