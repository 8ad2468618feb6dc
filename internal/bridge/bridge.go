// Package bridge mirrors climate state onto an MQTT broker and accepts
// commands back, speaking the Home Assistant discovery convention so
// rooms show up as climate entities without manual configuration.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/events"
)

// Config holds the MQTT connection settings.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Bridge connects the climate controller to an MQTT broker.
//
// Retained topics under the configured prefix:
//
//	<prefix>/bridge/state              online/offline (LWT)
//	<prefix>/room/<id>                 room state JSON
//	<prefix>/room/<id>/availability    room reachability
//	<prefix>/module/<id>               module state JSON
//	<prefix>/home/<id>                 home state JSON
//
// Commands arrive on <prefix>/room/<id>/{mode,preset,temperature}/set
// and <prefix>/home/<id>/schedule/set.
type Bridge struct {
	client          pahomqtt.Client
	controller      *climate.Controller
	bus             *events.Bus
	prefix          string
	discoveryPrefix string
	unsubscribe     func()
	ctx             context.Context
	cancel          context.CancelFunc

	mu        sync.Mutex
	discovery map[string]bool
}

// NewBridge connects to the broker and returns a ready bridge.
func NewBridge(controller *climate.Controller, bus *events.Bus, cfg Config) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		controller:      controller,
		bus:             bus,
		prefix:          cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		ctx:             ctx,
		cancel:          cancel,
		discovery:       make(map[string]bool),
	}
	if b.prefix == "" {
		b.prefix = "netatmo"
	}
	if b.discoveryPrefix == "" {
		b.discoveryPrefix = "homeassistant"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.bridgeStateTopic(), "offline", 1, true).
		SetOnConnectHandler(func(pahomqtt.Client) {
			log.WithField("broker", cfg.Broker).Info("connected to MQTT broker")
			b.publish(b.bridgeStateTopic(), []byte("online"), true)
			b.publishAllDiscovery()
			b.publishAllStates()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("MQTT connect timeout to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("MQTT connect: %w", err)
	}
	return b, nil
}

// Start begins mirroring controller events onto the broker.
func (b *Bridge) Start() {
	b.unsubscribe = b.bus.OnAll(b.handleEvent)
}

// Stop announces offline and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	token := b.client.Publish(b.bridgeStateTopic(), 1, true, "offline")
	token.WaitTimeout(2 * time.Second)
	b.client.Disconnect(1000)
}

func (b *Bridge) handleEvent(event events.Event) {
	switch event.Type {
	case events.EventRoomState:
		state, ok := event.Data.(climate.RoomState)
		if !ok {
			return
		}
		b.publishRoomState(state)
		b.publishModuleStates(state.HomeID)
	case events.EventTopology:
		b.publishAllDiscovery()
		b.publishAllStates()
		b.subscribeCommands()
	case events.EventScheduleSwitch:
		b.publishHomeStates()
	}
}

func (b *Bridge) publishAllDiscovery() {
	var msgs []discoveryMsg
	for _, state := range b.controller.RoomStates() {
		msgs = append(msgs, b.buildClimateConfig(state))
	}
	for _, home := range b.controller.Homes() {
		for _, module := range b.controller.Modules(home.ID) {
			msgs = append(msgs, b.buildModuleConfigs(module)...)
		}
		if msg, ok := b.buildScheduleSelect(home); ok {
			msgs = append(msgs, msg)
		}
	}

	current := make(map[string]bool, len(msgs))
	for _, msg := range msgs {
		current[msg.Topic] = true
		b.publish(msg.Topic, msg.Payload, true)
	}

	// entities gone from the topology get their retained config cleared
	b.mu.Lock()
	for topic := range b.discovery {
		if !current[topic] {
			b.publish(topic, nil, true)
		}
	}
	b.discovery = current
	b.mu.Unlock()
}

func (b *Bridge) publishAllStates() {
	for _, state := range b.controller.RoomStates() {
		b.publishRoomState(state)
	}
	for _, home := range b.controller.Homes() {
		b.publishModuleStates(home.ID)
	}
	b.publishHomeStates()
}

func (b *Bridge) publishRoomState(state climate.RoomState) {
	topic := b.roomTopic(state.UniqueID)
	b.publish(topic, mustJSON(state), true)
	availability := "offline"
	if state.Available {
		availability = "online"
	}
	b.publish(topic+"/availability", []byte(availability), true)
}

// modulePayload adds the derived battery percentage next to the raw
// vendor battery state so HA sensors have a numeric value to graph.
type modulePayload struct {
	climate.ModuleState
	BatteryPercent *int `json:"battery_percent,omitempty"`
}

func (b *Bridge) publishModuleStates(homeID string) {
	for _, module := range b.controller.Modules(homeID) {
		payload := modulePayload{
			ModuleState:    module,
			BatteryPercent: batteryPercent(module.BatteryState),
		}
		b.publish(b.moduleTopic(module.ID), mustJSON(payload), true)
	}
}

func (b *Bridge) publishHomeStates() {
	for _, home := range b.controller.Homes() {
		b.publish(b.homeTopic(home.ID), mustJSON(home), true)
	}
}

func (b *Bridge) subscribeCommands() {
	filters := map[string]byte{
		b.prefix + "/room/+/mode/set":        1,
		b.prefix + "/room/+/preset/set":      1,
		b.prefix + "/room/+/temperature/set": 1,
		b.prefix + "/home/+/schedule/set":    1,
	}
	token := b.client.SubscribeMultiple(filters, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		log.Warn("MQTT command subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.WithError(err).Warn("MQTT command subscribe failed")
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	rel := strings.TrimPrefix(topic, b.prefix+"/")
	parts := strings.Split(rel, "/")
	value := strings.TrimSpace(string(payload))

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	switch {
	case len(parts) == 4 && parts[0] == "room" && parts[3] == "set":
		b.handleRoomCommand(ctx, topic, parts[1], parts[2], value)
	case len(parts) == 4 && parts[0] == "home" && parts[2] == "schedule" && parts[3] == "set":
		if err := b.controller.SetScheduleByName(ctx, parts[1], value); err != nil {
			log.WithError(err).WithField("home", parts[1]).Warn("MQTT schedule command failed")
			return
		}
		b.emitCommand("schedule", parts[1], value)
	default:
		log.WithField("topic", topic).Debug("ignoring MQTT message")
	}
}

func (b *Bridge) handleRoomCommand(ctx context.Context, topic, uniqueID, command, value string) {
	thermostat, ok := b.controller.ThermostatByUniqueID(uniqueID)
	if !ok {
		log.WithField("topic", topic).Warn("MQTT command for unknown room")
		return
	}

	var err error
	switch command {
	case "mode":
		err = thermostat.SetHVACMode(ctx, climate.HVACMode(value))
	case "preset":
		err = thermostat.SetPresetMode(ctx, value)
	case "temperature":
		var temp float64
		temp, err = strconv.ParseFloat(value, 64)
		if err == nil {
			err = thermostat.SetTemperature(ctx, temp)
		}
	default:
		return
	}
	if err != nil {
		log.WithError(err).WithField("topic", topic).Warn("MQTT command failed")
		return
	}
	b.emitCommand(command, uniqueID, value)
	b.controller.RequestRefresh()
}

func (b *Bridge) emitCommand(command, target, value string) {
	b.bus.Emit(events.Event{Type: events.EventCommand, Data: map[string]string{
		"source":  "mqtt",
		"command": command,
		"target":  target,
		"value":   value,
	}})
}

// publish fires and forgets; a slow broker must not stall the caller.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.WithField("topic", topic).Warn("MQTT publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("MQTT publish failed")
		}
	}()
}
