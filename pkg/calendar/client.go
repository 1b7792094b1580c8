package calendar

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client is one websocket connection to a calendar view.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
}

// Handler upgrades requests to websocket connections served by the hub.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		c := &Client{hub: h, conn: conn, send: make(chan []byte, 64), closed: make(chan struct{})}
		c.Run()
	})
}

// RequireUpgrade rejects plain HTTP requests on websocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Run registers the client and pumps messages until the connection closes.
// It returns only after both pumps are done with the connection, which the
// websocket middleware recycles once the handler returns.
func (c *Client) Run() {
	c.hub.conns.Add(1)
	defer c.hub.conns.Done()

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		_ = c.conn.Close()
		return
	}
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()
	c.readPump()
	close(c.closed)
	<-written
}

// readPump only detects disconnects and pongs; clients send nothing.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	c.hub.writers.Add(1)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.writers.Add(-1)
	}()

	for {
		select {
		case <-c.closed:
			return

		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
