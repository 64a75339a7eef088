package ws

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

const (
	pingInterval = 15 * time.Second
	sendQueue    = 64
)

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{id: id, conn: conn, send: make(chan []byte, sendQueue)}
}

// writePump drains send until it is closed, pinging while idle.
func (c *Client) writePump(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer func() { ping.Stop(); _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.Ping(ctx)
		}
	}
}
