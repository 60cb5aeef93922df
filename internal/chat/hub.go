package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/audit"
	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/obs"
)

const maxContentLength = 2000

// ErrHubClosed is returned by Serve once Close has been called.
var ErrHubClosed = errors.New("chat: hub closed")

// Hub binds WebSocket connections to the registry and relays room frames to
// members that are connected right now.
type Hub struct {
	registry *Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	live    sync.WaitGroup
}

// HubOption configures Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithAllowedOrigins restricts browser upgrades to the listed origins. An
// empty list or "*" accepts any origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o == "*" {
				return
			}
			if o != "" {
				allowed[o] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// NewHub returns a hub over registry.
func NewHub(registry *Registry, opts ...HubOption) *Hub {
	h := &Hub{
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
		clients:  make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the underlying membership registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Serve upgrades the request and runs the connection until the peer leaves.
// It returns once the pumps are started.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, principal auth.Principal) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "chat is shutting down", http.StatusServiceUnavailable)
		return ErrHubClosed
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade chat connection: %w", err)
	}
	c := newClient(h, conn, principal)
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return ErrHubClosed
	}
	h.logger.Debug("chat session opened",
		zap.String("session_id", c.id), zap.Int64("user_id", principal.UserID))
	go c.writePump()
	go c.readPump()
	return nil
}

// Close stops accepting connections, closes every live client and waits
// until their read pumps have left all rooms or ctx is done.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		h.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("chat hub closed", zap.Int("sessions", len(clients)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.live.Add(1)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.live.Done()
	}
}

// Kick removes every session of userID from roomID, notifies them and
// returns how many were removed.
func (h *Hub) Kick(ctx context.Context, roomID, userID int64) int {
	kicked := h.registry.Kick(roomID, userID)
	for _, s := range kicked {
		h.evict(roomID, s)
	}
	if len(kicked) > 0 {
		h.announceExit(roomID, userID)
		obs.AddKicked(len(kicked))
		_ = audit.LogEvent(ctx, "chat.kick", map[string]any{
			"room_id":  roomID,
			"target":   userID,
			"sessions": len(kicked),
		})
	}
	h.updateOccupancy()
	return len(kicked)
}

func (h *Hub) handle(c *Client, f Frame) {
	switch f.Type {
	case FrameJoin:
		h.join(c, f.RoomID)
	case FrameLeave:
		h.leave(c, f.RoomID)
	case FrameMessage:
		h.message(c, f)
	default:
		c.Send(Frame{Type: FrameError, Error: "unknown frame type"})
	}
}

func (h *Hub) join(c *Client, roomID int64) {
	if roomID <= 0 {
		c.Send(Frame{Type: FrameError, Error: "roomId is required"})
		return
	}
	uid := c.UserID()
	evicted, entered := h.registry.Join(roomID, c)
	c.track(roomID)
	for _, s := range evicted {
		h.evict(roomID, s)
	}
	c.Send(Frame{Type: FrameJoined, RoomID: roomID, UserID: uid})
	if entered {
		h.broadcastExcept(roomID, c, Frame{
			Type:   FramePresence,
			RoomID: roomID,
			UserID: uid,
			Name:   c.principal.Name,
			Event:  PresenceEntered,
		})
	}
	h.updateOccupancy()
}

func (h *Hub) leave(c *Client, roomID int64) {
	removed, exited := h.registry.Leave(roomID, c)
	c.forget(roomID)
	if !removed {
		c.Send(Frame{Type: FrameError, RoomID: roomID, Error: "not in room"})
		return
	}
	c.Send(Frame{Type: FrameLeft, RoomID: roomID, UserID: c.UserID()})
	if exited {
		h.announceExit(roomID, c.UserID())
	}
	h.updateOccupancy()
}

func (h *Hub) message(c *Client, f Frame) {
	content := strings.TrimSpace(f.Content)
	switch {
	case content == "":
		c.Send(Frame{Type: FrameError, RoomID: f.RoomID, Error: "content is required"})
		return
	case utf8.RuneCountInString(content) > maxContentLength:
		c.Send(Frame{Type: FrameError, RoomID: f.RoomID, Error: "content too long"})
		return
	}
	if !h.isMember(c, f.RoomID) {
		c.Send(Frame{Type: FrameError, RoomID: f.RoomID, Error: "not in room"})
		return
	}
	h.broadcast(f.RoomID, Frame{
		Type:    FrameMessage,
		RoomID:  f.RoomID,
		UserID:  c.UserID(),
		Name:    c.principal.Name,
		Content: content,
		SentAt:  h.now().UnixMilli(),
	})
}

func (h *Hub) isMember(c *Client, roomID int64) bool {
	for _, s := range h.registry.Sessions(roomID) {
		if s.ID() == c.ID() {
			return true
		}
	}
	return false
}

func (h *Hub) disconnect(c *Client) {
	for _, roomID := range c.joined() {
		c.forget(roomID)
		if _, exited := h.registry.Leave(roomID, c); exited {
			h.announceExit(roomID, c.UserID())
		}
	}
	h.updateOccupancy()
	h.unregister(c)
	h.logger.Debug("chat session closed", zap.String("session_id", c.id))
}

func (h *Hub) evict(roomID int64, s Session) {
	c, ok := s.(*Client)
	if !ok {
		return
	}
	c.forget(roomID)
	c.Send(Frame{Type: FrameKicked, RoomID: roomID, UserID: c.UserID()})
}

func (h *Hub) announceExit(roomID, userID int64) {
	h.broadcast(roomID, Frame{Type: FramePresence, RoomID: roomID, UserID: userID, Event: PresenceExited})
}

func (h *Hub) broadcast(roomID int64, f Frame) {
	h.broadcastExcept(roomID, nil, f)
}

// broadcastExcept sends from a registry snapshot; no registry lock is held
// while frames are queued.
func (h *Hub) broadcastExcept(roomID int64, skip Session, f Frame) {
	for _, s := range h.registry.Sessions(roomID) {
		if skip != nil && s.ID() == skip.ID() {
			continue
		}
		if c, ok := s.(*Client); ok {
			c.Send(f)
		}
	}
}

func (h *Hub) updateOccupancy() {
	obs.SetChatOccupancy(h.registry.Rooms(), h.registry.Len())
}
