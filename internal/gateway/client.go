package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"relay-chat/internal/events"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents one live WebSocket connection bound to a user.
type Client struct {
	ID     string          // Socket id, server generated
	UserID string          // Authenticated user id
	Conn   *websocket.Conn // WebSocket connection
	Send   chan []byte     // Outbound message channel
	mu     sync.Mutex      // Protects conn writes
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
}

// WriteLoop drains the Send channel onto the wire and keeps the connection
// alive with pings.
func (c *Client) WriteLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.close()
			return
		case msg, ok := <-c.Send:
			if !ok {
				c.close()
				return
			}
			c.mu.Lock()
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
		}
	}
}

// ReadLoop pulls inbound frames and hands them to route until the connection
// drops. Each connection is one task; inbound events are values pulled here,
// not callbacks.
func (c *Client) ReadLoop(ctx context.Context, route func(ctx context.Context, client *Client, frame events.Frame)) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame events.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.SendEvent(events.EventError, map[string]string{"error": "malformed frame"})
			continue
		}
		route(ctx, c, frame)
	}
}

// SendMessage queues a payload without blocking; a full buffer drops the
// message (retransmission is the client's responsibility).
func (c *Client) SendMessage(msg []byte) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// SendEvent marshals and queues a protocol frame.
func (c *Client) SendEvent(event string, payload interface{}) {
	raw, err := events.NewFrame(event, payload)
	if err != nil {
		return
	}
	c.SendMessage(raw)
}

func (c *Client) close() {
	c.mu.Lock()
	_ = c.Conn.Close()
	c.mu.Unlock()
}
