package server

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"github.com/Invernomut0/netatmo-custom/internal/events"
)

// attachStream upgrades the request to a websocket, replays the room
// cache, then forwards live events until the client goes away.
func (a *API) attachStream(c *gin.Context) {
	h := websocket.Handler(a.streamEvents)
	h.ServeHTTP(c.Writer, c.Request)
}

func (a *API) streamEvents(ws *websocket.Conn) {
	ch := make(chan []byte, 32)
	unsubscribe := a.bus.OnAll(func(event events.Event) {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		select {
		case ch <- data:
		default: // slow consumer, drop
		}
	})

	defer func() {
		unsubscribe()
		log.Debug("closing websocket")
		if err := ws.Close(); err != nil {
			log.WithError(err).Debug("websocket close")
		}
	}()

	// Replay cached room states so a new consumer starts with the
	// full picture instead of waiting for the next change.
	for _, state := range a.controller.RoomStates() {
		data, err := json.Marshal(events.Event{Type: events.EventRoomState, Data: state})
		if err != nil {
			continue
		}
		if _, err := ws.Write(data); err != nil {
			return
		}
	}

	// Inbound frames are ignored; the read pump only detects close.
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, ws)
		close(done)
	}()

	for {
		select {
		case message := <-ch:
			if _, err := ws.Write(message); err != nil {
				log.WithError(err).Debug("websocket write")
				return
			}
		case <-done:
			return
		}
	}
}
