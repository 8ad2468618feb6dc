// Package history archives room state changes into an InfluxDB bucket
// for long-term graphing, next to the live Prometheus metrics.
package history

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
)

// Config holds the InfluxDB v2 connection settings.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// Recorder mirrors bus events into InfluxDB. Writes are batched and
// non-blocking, so a slow or absent database never stalls the poll
// loop or a webhook.
type Recorder struct {
	client        influxdb2.Client
	writeAPI      api.WriteAPI
	unsubscribers []func()
}

// NewRecorder connects and verifies the server responds to a ping.
func NewRecorder(cfg Config) (*Recorder, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: server not healthy")
	}

	r := &Recorder{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go r.drainErrors(r.writeAPI.Errors())
	return r, nil
}

func (r *Recorder) drainErrors(errs <-chan error) {
	for err := range errs {
		log.WithError(err).Warn("influxdb write failed")
	}
}

// Start subscribes to room state changes and commands.
func (r *Recorder) Start(bus *events.Bus) {
	r.unsubscribers = append(r.unsubscribers,
		bus.On(events.EventRoomState, func(event events.Event) {
			if state, ok := event.Data.(climate.RoomState); ok {
				r.RecordRoomState(state)
			}
		}),
		bus.On(events.EventCommand, func(event events.Event) {
			if command, ok := event.Data.(map[string]string); ok {
				r.RecordCommand(command)
			}
		}),
	)
}

// RecordRoomState writes one room snapshot.
func (r *Recorder) RecordRoomState(state climate.RoomState) {
	fields := map[string]interface{}{
		"available":          state.Available,
		"target_temperature": state.TargetTemperature,
		"heating":            state.HVACAction == climate.HVACActionHeating,
		"hvac_mode":          string(state.HVACMode),
		"preset_mode":        state.PresetMode,
	}
	if state.CurrentTemperature != nil {
		fields["current_temperature"] = *state.CurrentTemperature
	}
	if state.HeatingPowerRequest != nil {
		fields["heating_power_request"] = *state.HeatingPowerRequest
	}
	if state.BoilerStatus != nil {
		fields["boiler_status"] = *state.BoilerStatus
	}
	if state.SelectedSchedule != "" {
		fields["selected_schedule"] = state.SelectedSchedule
	}

	r.writeAPI.WritePoint(write.NewPoint("room_state", map[string]string{
		"home_id":   state.HomeID,
		"room_id":   state.RoomID,
		"room_name": state.RoomName,
		"module":    state.Model,
	}, fields, time.Now()))
}

// RecordCommand writes one accepted command for auditing.
func (r *Recorder) RecordCommand(command map[string]string) {
	r.writeAPI.WritePoint(write.NewPoint("command", map[string]string{
		"source":  command["source"],
		"command": command["command"],
		"target":  command["target"],
	}, map[string]interface{}{
		"value": command["value"],
	}, time.Now()))
}

// Close flushes pending writes and shuts the client down.
func (r *Recorder) Close() {
	for _, unsubscribe := range r.unsubscribers {
		unsubscribe()
	}
	r.writeAPI.Flush()
	r.client.Close()
}
