package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/ids"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8192
	sendBuffer     = 64
)

// Client is one authenticated WebSocket connection. It implements Session.
type Client struct {
	id        string
	principal auth.Principal
	hub       *Hub
	conn      *websocket.Conn
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[int64]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, principal auth.Principal) *Client {
	return &Client{
		id:        ids.New(),
		principal: principal,
		hub:       hub,
		conn:      conn,
		send:      make(chan Frame, sendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[int64]struct{}),
	}
}

func (c *Client) ID() string    { return c.id }
func (c *Client) UserID() int64 { return c.principal.UserID }

// Send queues f for delivery. It reports false when the client is gone or
// its buffer is full.
func (c *Client) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		c.hub.logger.Warn("chat send buffer full, dropping frame",
			zap.String("session_id", c.id), zap.String("type", f.Type))
		return false
	}
}

// Close stops the write pump, which sends a close frame to the peer.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) track(roomID int64) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) forget(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	return ok
}

func (c *Client) joined() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("chat read failed", zap.String("session_id", c.id), zap.Error(err))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.Send(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		c.hub.handle(c, f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.hub.logger.Debug("chat write failed", zap.String("session_id", c.id), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
