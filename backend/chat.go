package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventNewMessage = "new_message"
	eventTyping     = "typing"
	eventRead       = "read"
	eventMatch      = "match"
	eventPong       = "pong"
	eventInfo       = "info"
	eventError      = "error"

	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 1 << 16
)

// wsEvent is what the server pushes to clients.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientFrame is what clients send.
type clientFrame struct {
	Type     string `json:"type"`
	MatchID  int    `json:"match_id"`
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

// Client is one WebSocket connection. A user may hold several.
type Client struct {
	userID int
	conn   *websocket.Conn
	send   chan wsEvent
}

// Hub tracks connected clients per user.
type Hub struct {
	log           *zap.Logger
	mu            sync.RWMutex
	clientsByUser map[int]map[*Client]bool
}

func newHub(logger *zap.Logger) *Hub {
	return &Hub{
		log:           logger,
		clientsByUser: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
	wsConnections.Inc()
}

// unregister removes the client and closes its send channel. Sends happen
// under the read lock, so nothing can write to the closed channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.clientsByUser[c.userID]
	if !ok || !peers[c] {
		return
	}
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.clientsByUser, c.userID)
	}
	close(c.send)
	wsConnections.Dec()
}

// sendToUser delivers evt to every connection of userID. Slow clients lose events.
func (h *Hub) sendToUser(userID int, evt wsEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
			h.log.Warn("send buffer full, dropping event", zap.Int("user_id", userID), zap.String("type", evt.Type))
		}
	}
}

func (h *Hub) isOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID]) > 0
}

// closeAll drops every connection. Readers notice and unregister themselves.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, peers := range h.clientsByUser {
		for c := range peers {
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			_ = c.conn.Close()
		}
	}
}

func (s *server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.origins[origin]
		},
	}
}

// GET /messages/ws?token=
func (s *server) wsChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := mustUserID(r)
		conn, err := s.upgrader().Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug("ws upgrade", zap.Int("user_id", me), zap.Error(err))
			return
		}

		c := &Client{userID: me, conn: conn, send: make(chan wsEvent, sendBuffer)}
		s.hub.register(c)
		c.send <- wsEvent{Type: eventInfo, Data: "connected"}

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.clientWriter(c)
		}()
		// The request context ends with the handler, so reads use a detached one.
		s.clientReader(context.WithoutCancel(r.Context()), c)
		<-done
	}
}

func (s *server) clientReader(ctx context.Context, c *Client) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.reply(c, wsEvent{Type: eventError, Data: "invalid message format"})
			continue
		}
		s.handleFrame(ctx, c, frame)
	}
}

func (s *server) handleFrame(ctx context.Context, c *Client, frame clientFrame) {
	switch frame.Type {
	case "ping":
		s.reply(c, wsEvent{Type: eventPong})

	case "send_message":
		msg, err := s.saveMessage(ctx, c.userID, frame.MatchID, frame.Content)
		if err != nil {
			s.reply(c, wsEvent{Type: eventError, Data: messageErrorCode(err)})
			return
		}
		s.pushMessage(msg)

	case "typing":
		m, err := loadMatch(ctx, s.db, frame.MatchID, c.userID)
		if err != nil || m.Status != matchActive {
			return
		}
		s.hub.sendToUser(m.peerOf(c.userID), wsEvent{Type: eventTyping, Data: map[string]any{
			"match_id":  m.ID,
			"user_id":   c.userID,
			"is_typing": frame.IsTyping,
		}})

	case "mark_read":
		if _, err := s.markRead(ctx, c.userID, frame.MatchID); err != nil && !errors.Is(err, errNotFound) {
			s.log.Warn("mark read", zap.Int("user_id", c.userID), zap.Int("match_id", frame.MatchID), zap.Error(err))
		}

	default:
		s.reply(c, wsEvent{Type: eventError, Data: "unknown message type"})
	}
}

// reply goes to this connection only.
func (s *server) reply(c *Client, evt wsEvent) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if !s.hub.clientsByUser[c.userID][c] {
		return
	}
	select {
	case c.send <- evt:
	default:
	}
}

func (s *server) clientWriter(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
