package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ============================================================================
// WEBSOCKET CHAT TEST SUITE
// ============================================================================

func TestChatSuite(t *testing.T) {
	t.Run("Hub", func(t *testing.T) {
		testHub(t)
	})

	t.Run("WebSocket", func(t *testing.T) {
		testWebSocket(t)
	})
}

func testHub(t *testing.T) {
	t.Run("Online tracking", func(t *testing.T) {
		s, _ := newTestServer(t)
		a := &Client{userID: 1, send: make(chan wsEvent, 1)}
		b := &Client{userID: 1, send: make(chan wsEvent, 1)}

		assert.False(t, s.hub.isOnline(1))
		s.hub.register(a)
		s.hub.register(b)
		assert.True(t, s.hub.isOnline(1))

		s.hub.unregister(a)
		assert.True(t, s.hub.isOnline(1), "second connection keeps the user online")
		s.hub.unregister(b)
		assert.False(t, s.hub.isOnline(1))

		// unregistering twice must not close the channel again
		s.hub.unregister(b)
	})

	t.Run("Full buffer drops events", func(t *testing.T) {
		s, _ := newTestServer(t)
		c := &Client{userID: 1, send: make(chan wsEvent, 1)}
		s.hub.register(c)
		defer s.hub.unregister(c)

		s.hub.sendToUser(1, wsEvent{Type: "first"})
		s.hub.sendToUser(1, wsEvent{Type: "second"})

		assert.Equal(t, "first", (<-c.send).Type)
		select {
		case evt := <-c.send:
			t.Fatalf("unexpected event %q", evt.Type)
		default:
		}
	})

	t.Run("Reply ignores closed clients", func(t *testing.T) {
		s, _ := newTestServer(t)
		c := &Client{userID: 1, send: make(chan wsEvent, 1)}
		s.hub.register(c)
		s.hub.unregister(c)
		assert.NotPanics(t, func() { s.reply(c, wsEvent{Type: eventPong}) })
	})
}

// wsTestServer serves the chat endpoint; ?uid= stands in for authentication.
func wsTestServer(t *testing.T, s *server) *httptest.Server {
	t.Helper()
	h := s.wsChatHandler()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := strconv.Atoi(r.URL.Query().Get("uid"))
		h.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	}))
}

func dial(t *testing.T, srv *httptest.Server, uid int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=" + strconv.Itoa(uid)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	// every connection is greeted first
	evt := readEvent(t, conn)
	require.Equal(t, eventInfo, evt.Type)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt wsEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func testWebSocket(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("Ping and bad frames", func(t *testing.T) {
		s, _ := newTestServer(t)
		srv := wsTestServer(t, s)
		defer srv.Close()

		conn := dial(t, srv, 1)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
		assert.Equal(t, eventPong, readEvent(t, conn).Type)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		evt := readEvent(t, conn)
		assert.Equal(t, eventError, evt.Type)
		assert.Equal(t, "invalid message format", evt.Data)

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
		evt = readEvent(t, conn)
		assert.Equal(t, eventError, evt.Type)
		assert.Equal(t, "unknown message type", evt.Data)
	})

	t.Run("Typing reaches the peer", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery("FROM matches").WithArgs(9).
			WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, 1, 2, matchActive))
		srv := wsTestServer(t, s)
		defer srv.Close()

		alice := dial(t, srv, 1)
		defer alice.Close()
		bob := dial(t, srv, 2)
		defer bob.Close()

		require.NoError(t, alice.WriteJSON(map[string]any{"type": "typing", "match_id": 9, "is_typing": true}))
		evt := readEvent(t, bob)
		assert.Equal(t, eventTyping, evt.Type)
		data, ok := evt.Data.(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 1, data["user_id"])
		assert.Equal(t, true, data["is_typing"])
	})

	t.Run("Invalid message is reported to the sender", func(t *testing.T) {
		s, _ := newTestServer(t)
		srv := wsTestServer(t, s)
		defer srv.Close()

		conn := dial(t, srv, 1)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{"type": "send_message", "match_id": 9, "content": "  "}))
		evt := readEvent(t, conn)
		assert.Equal(t, eventError, evt.Type)
		assert.Equal(t, "invalid_content", evt.Data)
	})

	t.Run("Shutdown closes connections", func(t *testing.T) {
		s, _ := newTestServer(t)
		srv := wsTestServer(t, s)
		defer srv.Close()

		conn := dial(t, srv, 1)
		defer conn.Close()
		require.Eventually(t, func() bool { return s.hub.isOnline(1) }, time.Second, 10*time.Millisecond)

		s.hub.closeAll()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
		assert.Eventually(t, func() bool { return !s.hub.isOnline(1) }, time.Second, 10*time.Millisecond)
	})
}
