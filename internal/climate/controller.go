package climate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Invernomut0/netatmo-custom/internal/events"
	"github.com/Invernomut0/netatmo-custom/internal/netatmo"
	"github.com/Invernomut0/netatmo-custom/internal/store"
)

// ErrNotReady is returned while no climate topology is known.
var ErrNotReady = errors.New("climate topology not ready")

// ErrRoomNotFound is returned for lookups of rooms or homes that are
// not in the topology.
var ErrRoomNotFound = errors.New("room not found")

// ErrUnsupportedMode is returned for hvac modes an entity cannot take.
var ErrUnsupportedMode = errors.New("hvac mode not supported")

// DefaultPollInterval is used when the config does not set one.
const DefaultPollInterval = time.Minute

// Topology changes rarely; re-fetch it on every tenth poll and on
// forced refreshes.
const topologyEvery = 10

// vendorAPI is the slice of the vendor client the controller needs.
type vendorAPI interface {
	HomesData(ctx context.Context) ([]netatmo.Home, error)
	HomeStatus(ctx context.Context, homeID string) (netatmo.HomeStatus, error)
	SetRoomThermpoint(ctx context.Context, homeID, roomID, mode string, temp *float64, endTime *int64) error
	SetThermMode(ctx context.Context, homeID, mode string) error
	SwitchHomeSchedule(ctx context.Context, homeID, scheduleID string) error
}

// HomeInfo summarizes one home for the control surfaces.
type HomeInfo struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	ThermMode        string         `json:"therm_mode,omitempty"`
	SelectedSchedule string         `json:"selected_schedule,omitempty"`
	Schedules        []ScheduleInfo `json:"schedules,omitempty"`
	Rooms            int            `json:"rooms"`
}

// ScheduleInfo is one heating timetable of a home.
type ScheduleInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Selected bool     `json:"selected"`
	Default  bool     `json:"default"`
	AwayTemp *float64 `json:"away_temp,omitempty"`
	HgTemp   *float64 `json:"hg_temp,omitempty"`
}

// ModuleState is the live state of one vendor module.
type ModuleState struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	Type             string `json:"type,omitempty"`
	RoomID           string `json:"room_id,omitempty"`
	Bridge           string `json:"bridge,omitempty"`
	Reachable        bool   `json:"reachable"`
	BatteryState     string `json:"battery_state,omitempty"`
	BatteryLevel     *int   `json:"battery_level,omitempty"`
	FirmwareRevision *int   `json:"firmware_revision,omitempty"`
	RFStrength       *int   `json:"rf_strength,omitempty"`
	WifiStrength     *int   `json:"wifi_strength,omitempty"`
	BoilerStatus     *bool  `json:"boiler_status,omitempty"`
}

type homeState struct {
	home        netatmo.Home
	thermMode   string
	thermostats map[string]*Thermostat
	lastStatus  map[string]netatmo.RoomStatus
	lastModules map[string][]netatmo.ModuleStatus
	modules     map[string]*ModuleState
}

func (h *homeState) selectedScheduleName() string {
	if s := selectedSchedule(h.home); s != nil {
		return s.Name
	}
	return ""
}

// Controller owns the cached climate topology and room state, routes
// webhook events into it and drives the vendor poll loop.
type Controller struct {
	api   vendorAPI
	store store.Store
	bus   *events.Bus

	mu     sync.RWMutex
	homes  map[string]*homeState
	filter map[string]bool

	refreshCh chan struct{}
}

// NewController wires the controller. The store may be nil, in which
// case restarts begin with an empty topology.
func NewController(api vendorAPI, st store.Store, bus *events.Bus) *Controller {
	return &Controller{
		api:       api,
		store:     st,
		bus:       bus,
		homes:     make(map[string]*homeState),
		refreshCh: make(chan struct{}, 1),
	}
}

// LimitHomes restricts syncing to the given home ids. Call before
// Bootstrap; an empty list syncs every home the account can see.
func (c *Controller) LimitHomes(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		c.filter = nil
		return
	}
	c.filter = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.filter[id] = true
	}
}

func (c *Controller) syncsHomeLocked(id string) bool {
	return c.filter == nil || c.filter[id]
}

// Bootstrap loads stored state, then pulls topology and status from the
// vendor. It returns ErrNotReady when no climate rooms are known after
// that, so callers can retry.
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.warmStart()
	if err := c.RefreshTopology(ctx); err != nil {
		log.WithError(err).Warn("initial topology fetch failed; serving stored topology")
	}
	if err := c.RefreshStatus(ctx); err != nil {
		log.WithError(err).Warn("initial status fetch failed")
	}
	if !c.Ready() {
		return ErrNotReady
	}
	return nil
}

// Ready reports whether at least one climate room is known.
func (c *Controller) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, hs := range c.homes {
		if len(hs.thermostats) > 0 {
			return true
		}
	}
	return false
}

// Run polls the vendor until the context ends.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 1
	for {
		force := false
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.refreshCh:
			force = true
		}
		if force || polls%topologyEvery == 0 {
			if err := c.RefreshTopology(ctx); err != nil {
				log.WithError(err).Warn("topology refresh failed")
			}
		}
		if err := c.RefreshStatus(ctx); err != nil {
			log.WithError(err).Warn("status refresh failed")
		}
		polls++
	}
}

// RequestRefresh schedules an immediate poll without blocking.
func (c *Controller) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// RefreshTopology pulls /homesdata and rebuilds the entity set.
func (c *Controller) RefreshTopology(ctx context.Context) error {
	homes, err := c.api.HomesData(ctx)
	if err != nil {
		return fmt.Errorf("fetch topology: %w", err)
	}

	c.mu.Lock()
	synced := homes[:0]
	for _, home := range homes {
		if !c.syncsHomeLocked(home.ID) {
			continue
		}
		c.applyHomeLocked(home)
		synced = append(synced, home)
	}
	c.mu.Unlock()

	if c.store != nil {
		for i := range synced {
			if err := c.store.SaveHome(&synced[i]); err != nil {
				log.WithError(err).WithField("home_id", synced[i].ID).Warn("persist topology failed")
			}
		}
	}

	c.bus.Emit(events.Event{Type: events.EventTopology, Data: c.Homes()})
	return nil
}

// RefreshStatus pulls /homestatus for each known home.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.homes))
	for id := range c.homes {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := c.refreshHomeStatus(ctx, id); err != nil {
			log.WithError(err).WithField("home_id", id).Warn("status refresh failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Controller) refreshHomeStatus(ctx context.Context, homeID string) error {
	status, err := c.api.HomeStatus(ctx, homeID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	hs := c.homes[homeID]
	if hs == nil {
		c.mu.Unlock()
		return nil
	}

	moduleByID := make(map[string]netatmo.Module, len(hs.home.Modules))
	for _, m := range hs.home.Modules {
		moduleByID[m.ID] = m
	}
	roomModules := make(map[string][]netatmo.ModuleStatus)
	for _, m := range status.Modules {
		topo, ok := moduleByID[m.ID]
		if !ok || topo.RoomID == "" {
			continue
		}
		roomModules[topo.RoomID] = append(roomModules[topo.RoomID], m)
	}
	for _, m := range status.Modules {
		ms := hs.modules[m.ID]
		if ms == nil {
			ms = &ModuleState{ID: m.ID}
			hs.modules[m.ID] = ms
		}
		if m.Type != "" {
			ms.Type = m.Type
		}
		ms.Reachable = m.Reachable != nil && *m.Reachable
		ms.BatteryState = m.BatteryState
		ms.BatteryLevel = m.BatteryLevel
		ms.FirmwareRevision = m.FirmwareRevision
		ms.RFStrength = m.RFStrength
		ms.WifiStrength = m.WifiStrength
		ms.BoilerStatus = m.BoilerStatus
	}

	scheduleName := hs.selectedScheduleName()
	type roomUpdate struct {
		t    *Thermostat
		prev RoomState
	}
	updates := make([]roomUpdate, 0, len(status.Rooms))
	for _, rs := range status.Rooms {
		t := hs.thermostats[rs.ID]
		if t == nil {
			continue
		}
		updates = append(updates, roomUpdate{t: t, prev: t.State()})
		t.applyRoomStatus(rs, roomModules[rs.ID], scheduleName)
		hs.lastStatus[rs.ID] = rs
		hs.lastModules[rs.ID] = roomModules[rs.ID]
	}
	c.mu.Unlock()

	if c.store != nil {
		now := time.Now()
		for _, rs := range status.Rooms {
			snap := store.RoomSnapshot{RoomID: rs.ID, Status: rs, UpdatedAt: now}
			if err := c.store.SaveRoomSnapshot(homeID, &snap); err != nil {
				log.WithError(err).WithField("room_id", rs.ID).Warn("persist room snapshot failed")
			}
		}
	}

	for _, u := range updates {
		if state := u.t.State(); !reflect.DeepEqual(u.prev, state) {
			c.bus.Emit(events.Event{Type: events.EventRoomState, Data: state})
		}
	}
	return nil
}

// HandleWebhook routes a vendor push event into the cached state.
// Unknown homes, rooms and event types are logged and dropped.
func (c *Controller) HandleWebhook(event netatmo.WebhookEvent) {
	data := event.Data
	c.bus.Emit(events.Event{Type: events.EventWebhook, Data: data})

	c.mu.Lock()
	hs := c.homes[data.HomeID]
	if hs == nil {
		c.mu.Unlock()
		log.WithField("home_id", data.HomeID).Debug("webhook for unknown home")
		return
	}

	type pending struct {
		t    *Thermostat
		prev RoomState
	}
	var touched []pending
	refresh := false

	touch := func(t *Thermostat) *Thermostat {
		touched = append(touched, pending{t: t, prev: t.State()})
		return t
	}

	switch data.EventType {
	case netatmo.EventTypeSetPoint:
		if data.Home == nil {
			break
		}
		for _, room := range data.Home.Rooms {
			t := hs.thermostats[room.ID]
			if t == nil {
				continue
			}
			touch(t).applySetPointEvent(room)
		}

	case netatmo.EventTypeCancelSetPoint:
		if data.Home == nil {
			break
		}
		scheduleName := hs.selectedScheduleName()
		for _, room := range data.Home.Rooms {
			t := hs.thermostats[room.ID]
			if t == nil {
				continue
			}
			if status, ok := hs.lastStatus[room.ID]; ok {
				touch(t).applyRoomStatus(status, hs.lastModules[room.ID], scheduleName)
			}
		}

	case netatmo.EventTypeThermMode:
		if data.Home == nil || data.Home.ThermMode == "" {
			break
		}
		hs.thermMode = data.Home.ThermMode
		for _, t := range hs.thermostats {
			if touch(t).applyThermModeEvent(data.Home.ThermMode) {
				refresh = true
			}
		}

	case netatmo.EventTypeSchedule:
		if data.ScheduleID == "" {
			break
		}
		name := ""
		for _, s := range hs.home.Schedules {
			if s.ID == data.ScheduleID {
				name = s.Name
				break
			}
		}
		for _, t := range hs.thermostats {
			touch(t).setSelectedSchedule(name)
		}
		refresh = true

	default:
		log.WithField("event_type", data.EventType).Debug("ignoring webhook event")
	}
	c.mu.Unlock()

	for _, p := range touched {
		if state := p.t.State(); !reflect.DeepEqual(p.prev, state) {
			c.bus.Emit(events.Event{Type: events.EventRoomState, Data: state})
		}
	}
	if refresh {
		c.RequestRefresh()
	}
}

// SetScheduleByName switches the home to the named timetable. An
// unknown name is logged and ignored.
func (c *Controller) SetScheduleByName(ctx context.Context, homeID, name string) error {
	c.mu.RLock()
	hs := c.homes[homeID]
	scheduleID := ""
	if hs != nil {
		for _, s := range hs.home.Schedules {
			if s.Name == name {
				scheduleID = s.ID
			}
		}
	}
	c.mu.RUnlock()

	if scheduleID == "" {
		log.Errorf("%s is not a valid schedule", name)
		return nil
	}
	if err := c.api.SwitchHomeSchedule(ctx, homeID, scheduleID); err != nil {
		return err
	}
	c.bus.Emit(events.Event{Type: events.EventScheduleSwitch, Data: map[string]string{
		"home_id":     homeID,
		"schedule_id": scheduleID,
		"schedule":    name,
	}})
	c.RequestRefresh()
	return nil
}

// Thermostat returns the entity for a room.
func (c *Controller) Thermostat(homeID, roomID string) (*Thermostat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hs := c.homes[homeID]
	if hs == nil {
		return nil, fmt.Errorf("home %s: %w", homeID, ErrRoomNotFound)
	}
	t := hs.thermostats[roomID]
	if t == nil {
		return nil, fmt.Errorf("room %s/%s: %w", homeID, roomID, ErrRoomNotFound)
	}
	return t, nil
}

// ThermostatByUniqueID resolves an entity by its unique id.
func (c *Controller) ThermostatByUniqueID(id string) (*Thermostat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, hs := range c.homes {
		for _, t := range hs.thermostats {
			if t.uniqueID == id {
				return t, true
			}
		}
	}
	return nil, false
}

// Thermostats lists all entities, ordered by home then room.
func (c *Controller) Thermostats() []*Thermostat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Thermostat
	for _, hs := range c.homes {
		for _, t := range hs.thermostats {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].homeID != out[j].homeID {
			return out[i].homeID < out[j].homeID
		}
		return out[i].roomID < out[j].roomID
	})
	return out
}

// RoomStates snapshots every entity.
func (c *Controller) RoomStates() []RoomState {
	thermostats := c.Thermostats()
	out := make([]RoomState, 0, len(thermostats))
	for _, t := range thermostats {
		out = append(out, t.State())
	}
	return out
}

// Homes summarizes the known topology, ordered by home id.
func (c *Controller) Homes() []HomeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HomeInfo, 0, len(c.homes))
	for _, hs := range c.homes {
		info := HomeInfo{
			ID:               hs.home.ID,
			Name:             hs.home.Name,
			ThermMode:        hs.thermMode,
			SelectedSchedule: hs.selectedScheduleName(),
			Rooms:            len(hs.thermostats),
		}
		for _, s := range hs.home.Schedules {
			info.Schedules = append(info.Schedules, ScheduleInfo{
				ID:       s.ID,
				Name:     s.Name,
				Selected: s.Selected,
				Default:  s.Default,
				AwayTemp: s.AwayTemp,
				HgTemp:   s.HgTemp,
			})
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Modules lists the module states of a home, ordered by module id.
func (c *Controller) Modules(homeID string) []ModuleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hs := c.homes[homeID]
	if hs == nil {
		return nil
	}
	out := make([]ModuleState, 0, len(hs.modules))
	for _, ms := range hs.modules {
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Controller) warmStart() {
	if c.store == nil {
		return
	}
	homes, err := c.store.ListHomes()
	if err != nil {
		log.WithError(err).Warn("load stored topology failed")
		return
	}

	c.mu.Lock()
	for _, home := range homes {
		if !c.syncsHomeLocked(home.ID) {
			continue
		}
		c.applyHomeLocked(*home)
	}
	c.mu.Unlock()

	for _, home := range homes {
		snaps, err := c.store.ListRoomSnapshots(home.ID)
		if err != nil {
			log.WithError(err).WithField("home_id", home.ID).Warn("load stored room state failed")
			continue
		}
		c.mu.Lock()
		hs := c.homes[home.ID]
		if hs == nil {
			c.mu.Unlock()
			continue
		}
		scheduleName := hs.selectedScheduleName()
		for _, snap := range snaps {
			hs.lastStatus[snap.RoomID] = snap.Status
			if t := hs.thermostats[snap.RoomID]; t != nil {
				t.applyRoomStatus(snap.Status, nil, scheduleName)
				// stored state is stale until the first poll confirms it
				t.markUnavailable()
			}
		}
		c.mu.Unlock()
	}
}

// applyHomeLocked merges one topology home into the cache. Entities are
// kept across refreshes so cached room state survives; they are rebuilt
// when the room identity changes.
func (c *Controller) applyHomeLocked(home netatmo.Home) {
	hs := c.homes[home.ID]
	if hs == nil {
		hs = &homeState{
			thermostats: make(map[string]*Thermostat),
			lastStatus:  make(map[string]netatmo.RoomStatus),
			lastModules: make(map[string][]netatmo.ModuleStatus),
			modules:     make(map[string]*ModuleState),
		}
		c.homes[home.ID] = hs
	}
	hs.home = home
	if home.ThermMode != "" {
		hs.thermMode = home.ThermMode
	}

	moduleByID := make(map[string]netatmo.Module, len(home.Modules))
	for _, m := range home.Modules {
		moduleByID[m.ID] = m
	}

	scheduleName := ""
	var awayTemp, hgTemp *float64
	if s := selectedSchedule(home); s != nil {
		scheduleName = s.Name
		awayTemp = s.AwayTemp
		hgTemp = s.HgTemp
	}

	seen := make(map[string]bool, len(home.Rooms))
	for _, room := range home.Rooms {
		module, ok := climateModuleFor(room, moduleByID)
		if !ok {
			continue
		}
		seen[room.ID] = true
		t := hs.thermostats[room.ID]
		if t == nil || t.model != module.Type || t.roomName != room.Name {
			t = newThermostat(c.api, home.ID, room, module)
			hs.thermostats[room.ID] = t
		}
		t.setScheduleTemps(awayTemp, hgTemp)
		t.setSelectedSchedule(scheduleName)
	}
	for id := range hs.thermostats {
		if !seen[id] {
			delete(hs.thermostats, id)
			delete(hs.lastStatus, id)
			delete(hs.lastModules, id)
		}
	}

	seenModules := make(map[string]bool, len(home.Modules))
	for _, m := range home.Modules {
		seenModules[m.ID] = true
		ms := hs.modules[m.ID]
		if ms == nil {
			ms = &ModuleState{ID: m.ID}
			hs.modules[m.ID] = ms
		}
		ms.Name = m.Name
		ms.Type = m.Type
		ms.RoomID = m.RoomID
		ms.Bridge = m.Bridge
	}
	for id := range hs.modules {
		if !seenModules[id] {
			delete(hs.modules, id)
		}
	}
}

// climateModuleFor returns the thermostat or valve mounted in a room.
func climateModuleFor(room netatmo.Room, moduleByID map[string]netatmo.Module) (netatmo.Module, bool) {
	for _, id := range room.ModuleIDs {
		if m, ok := moduleByID[id]; ok && netatmo.IsClimateModule(m.Type) {
			return m, true
		}
	}
	return netatmo.Module{}, false
}

func selectedSchedule(home netatmo.Home) *netatmo.Schedule {
	for i := range home.Schedules {
		if home.Schedules[i].Selected {
			return &home.Schedules[i]
		}
	}
	for i := range home.Schedules {
		if home.Schedules[i].Default {
			return &home.Schedules[i]
		}
	}
	return nil
}
