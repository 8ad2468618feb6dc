package main

import (
	"fmt"
	"strings"

	"golang.org/x/net/websocket"
)

// watchCmd streams daemon events as JSON lines until interrupted. The
// server replays the current room states on attach, so the first lines
// are a full snapshot.
func watchCmd(client *apiClient) {
	wsURL := strings.Replace(client.base, "http", "ws", 1) + "/api/v1/events"

	ws, err := websocket.Dial(wsURL, "", client.base)
	if err != nil {
		fatal("watch", err)
	}
	defer ws.Close()

	for {
		var message string
		if err := websocket.Message.Receive(ws, &message); err != nil {
			fatal("watch", fmt.Errorf("stream closed: %w", err))
		}
		fmt.Println(message)
	}
}
