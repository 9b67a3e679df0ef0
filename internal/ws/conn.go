// ABOUTME: Hub connection adapter over a gorilla websocket
// ABOUTME: Serializes writes; reads stay on the handler's single reader loop

package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn adapts a websocket connection to the hub's Conn interface. Gorilla
// connections support one concurrent writer, so all sends (handler
// replies, hub broadcasts, pipeline notices) funnel through one mutex.
// Reads are not locked: only the handler loop reads.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes one JSON payload to the client.
func (c *Conn) Send(msg map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Close closes the underlying websocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// readMessage blocks for the next client frame. Only the handler loop
// calls this.
func (c *Conn) readMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}
