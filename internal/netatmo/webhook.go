package netatmo

import (
	"encoding/json"
	"fmt"
)

// Event types delivered on the webhook for the thermostat app.
const (
	EventTypeSetPoint       = "set_point"
	EventTypeCancelSetPoint = "cancel_set_point"
	EventTypeThermMode      = "therm_mode"
	EventTypeSchedule       = "schedule"
)

// WebhookEvent is the push payload delivered to the registered
// webhook. All consumed fields live under "data".
type WebhookEvent struct {
	Data EventData `json:"data"`
}

// EventData is the event envelope: the event type, the home it applies
// to, and a partial home snapshot carrying the changed fields.
type EventData struct {
	HomeID     string     `json:"home_id"`
	EventType  string     `json:"event_type"`
	Home       *EventHome `json:"home"`
	ScheduleID string     `json:"schedule_id,omitempty"`
}

// EventHome is the partial home state attached to an event. ThermMode
// is set on therm_mode events; Rooms carries the affected rooms on
// set_point events.
type EventHome struct {
	ID        string      `json:"id"`
	ThermMode string      `json:"therm_mode,omitempty"`
	Rooms     []EventRoom `json:"rooms,omitempty"`
}

// EventRoom is the per-room payload of a set_point event.
type EventRoom struct {
	ID                       string   `json:"id"`
	ThermSetpointMode        string   `json:"therm_setpoint_mode"`
	ThermSetpointTemperature *float64 `json:"therm_setpoint_temperature"`
	ThermSetpointEndTime     *int64   `json:"therm_setpoint_end_time"`
}

// ParseWebhookEvent decodes a webhook body and checks the envelope
// carries enough to route on.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if event.Data.EventType == "" {
		return WebhookEvent{}, fmt.Errorf("webhook payload missing event_type")
	}
	if event.Data.HomeID == "" && event.Data.Home != nil {
		event.Data.HomeID = event.Data.Home.ID
	}
	if event.Data.HomeID == "" {
		return WebhookEvent{}, fmt.Errorf("webhook payload missing home_id")
	}
	return event, nil
}
