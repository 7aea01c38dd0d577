// internal/hub/client.go
package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// Client is the hub's handle to one connected, authenticated user. The
// registry-visible fields (online, retired, room memberships) are owned by
// the hub loop; the pumps only touch Conn, Send and LastActive.
type Client struct {
	ID         string // per-connection id, distinguishes reconnects in logs
	Username   string
	Conn       *websocket.Conn
	Send       chan []byte
	LastActive time.Time

	online  bool
	retired bool // Send has been closed; the record can never be reinstalled
}
