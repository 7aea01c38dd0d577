// internal/hub/websocket.go
package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cardroom/switchboard/internal/message"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
	webSocketMaxFrameSize  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the platform's web origins in production
		return true
	},
}

// ServeWs upgrades an authenticated HTTP connection to a WebSocket, registers
// the client and starts its pumps. The caller has already resolved the
// username; the hub never authenticates.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, username string) {
	select {
	case <-h.done:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error for %s: %v", username, err)
		return
	}

	client := &Client{
		ID:         uuid.NewString(),
		Username:   username,
		Conn:       conn,
		Send:       make(chan []byte, h.queueSize),
		LastActive: time.Now(),
	}
	if !h.Register(client) {
		// Stop landed between the check above and the upgrade.
		conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return
	}
	go h.ReadPump(client)
	go h.WritePump(client)
}

// ReadPump reads frames from the WebSocket connection and dispatches them to
// the hub until the socket fails or closes.
func (h *Hub) ReadPump(client *Client) {
	defer func() {
		h.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(webSocketMaxFrameSize)
	client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Errorf("WebSocket error for %s: %v", client.Username, err)
			}
			break
		}

		client.LastActive = time.Now()
		h.dispatch(client, data)
	}
}

// dispatch decodes one inbound frame, stamps it and routes it by addressing.
// A malformed frame is discarded; the connection continues.
func (h *Hub) dispatch(client *Client, data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		h.logger.Debugf("Discarding malformed frame from %s: %v", client.Username, err)
		return
	}
	msg.Stamp(client.Username, time.Now())

	switch {
	case msg.Receiver != "":
		h.RouteDirect(msg)
	case msg.Room != "":
		h.RouteToRoom(msg)
	default:
		h.logger.Debugf("Unroutable message from %s dropped: no receiver or room", client.Username)
	}
}

// WritePump drains the client's outbound queue onto the WebSocket, one JSON
// object per frame, and keeps the connection alive with pings. It exits when
// the hub closes the queue or a write fails.
func (h *Hub) WritePump(client *Client) {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer func() {
		ticker.Stop()
		h.Unregister(client)
		client.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if !ok {
				// The hub closed the queue.
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Client connection is likely broken
			}
		}
	}
}
