package main

import (
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	expectMatch := func(mock sqlmock.Sqlmock, u1, u2 int, status string) {
		mock.ExpectQuery("SELECT id, user1_id, user2_id, status FROM matches WHERE id").WithArgs(9).
			WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, u1, u2, status))
	}
	expectLockedMatch := func(mock sqlmock.Sqlmock, status string) {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs(9).
			WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, 1, 2, status))
	}
	expectInsert := func(mock sqlmock.Sqlmock, flagged bool) {
		mock.ExpectQuery("INSERT INTO messages").
			WithArgs(9, 1, 2, "hello there", sqlmock.AnyArg(), flagged).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at"}).AddRow(100, "sent", fixedNow))
		mock.ExpectExec("SET last_message_at").WithArgs(9, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}
	send := func(s *server, content string) *httptest.ResponseRecorder {
		body := map[string]any{"match_id": 9, "content": content}
		return serve(s.sendMessageHandler(), newRequest(http.MethodPost, "/messages", body, 1, nil))
	}

	t.Run("Rejects empty and oversized content", func(t *testing.T) {
		s, mock := newTestServer(t)
		for _, content := range []string{"", "   ", strings.Repeat("é", maxMessageLength+1)} {
			w := send(s, content)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_content", errorCode(t, w))
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Inactive match is not moderated", func(t *testing.T) {
		s, mock := newTestServer(t)
		model := &scriptedModel{}
		useModel(s, model)
		expectMatch(mock, 1, 2, matchUnmatched)

		w := send(s, "hello there")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "match_inactive", errorCode(t, w))
		assert.Zero(t, model.callCount())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Outsiders never reach moderation", func(t *testing.T) {
		s, mock := newTestServer(t)
		model := &scriptedModel{}
		useModel(s, model)
		expectMatch(mock, 3, 4, matchActive)

		w := send(s, "hello there")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "match_not_found", errorCode(t, w))
		assert.Zero(t, model.callCount())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Match blocked during moderation", func(t *testing.T) {
		s, mock := newTestServer(t)
		expectMatch(mock, 1, 2, matchActive)
		expectLockedMatch(mock, matchBlocked)
		mock.ExpectRollback()

		w := send(s, "hello there")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Online receiver gets the message live", func(t *testing.T) {
		s, mock := newTestServer(t)
		expectMatch(mock, 1, 2, matchActive)
		expectLockedMatch(mock, matchActive)
		expectInsert(mock, false)

		receiver := &Client{userID: 2, send: make(chan wsEvent, 1)}
		s.hub.register(receiver)
		defer s.hub.unregister(receiver)

		w := send(s, "  hello there  ")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var msg message
		decodeBody(t, w, &msg)
		assert.EqualValues(t, 100, msg.ID)
		assert.Equal(t, 2, msg.ReceiverID)
		assert.Equal(t, "hello there", msg.Content)
		assert.False(t, msg.IsFlagged)
		assert.NoError(t, mock.ExpectationsWereMet())

		evt := <-receiver.send
		assert.Equal(t, eventNewMessage, evt.Type)
	})

	t.Run("Unsafe content is stored flagged", func(t *testing.T) {
		s, mock := newTestServer(t)
		model := &scriptedModel{replies: []string{`{"safety_score": 20, "is_safe": false}`}}
		useModel(s, model)
		expectMatch(mock, 1, 2, matchActive)
		expectLockedMatch(mock, matchActive)
		expectInsert(mock, true)

		receiver := &Client{userID: 2, send: make(chan wsEvent, 1)}
		s.hub.register(receiver)
		defer s.hub.unregister(receiver)

		w := send(s, "hello there")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var msg message
		decodeBody(t, w, &msg)
		assert.True(t, msg.IsFlagged)
		assert.Equal(t, 20.0, msg.AISafetyScore)
		assert.Equal(t, 1, model.callCount())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Offline receiver gets a notification", func(t *testing.T) {
		s, mock := newTestServer(t)
		expectMatch(mock, 1, 2, matchActive)
		expectLockedMatch(mock, matchActive)
		expectInsert(mock, false)
		mock.ExpectQuery("SELECT name FROM profiles").WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(2, "message", "New message", "Alice sent you a message", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := send(s, "hello there")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var (
	conversationColumns = []string{"id", "user1_id", "user2_id", "matched_at", "content", "sender_id", "created_at", "unread"}
	messageColumns      = []string{"id", "sender_id", "receiver_id", "content", "status", "ai_safety_score", "is_flagged", "created_at", "read_at"}
)

func TestConversations(t *testing.T) {
	t.Run("Most recent first with peers and unread counts", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery("FROM matches m").WithArgs(2).WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow(9, 1, 2, fixedNow.Add(-48*time.Hour), "see you at the trail", 1, fixedNow.Add(-time.Hour), 3).
			AddRow(12, 2, 5, fixedNow.Add(-24*time.Hour), nil, nil, nil, 0))
		carol := profileFixture{ID: 5, Name: "Carol", DOB: time.Date(1996, 1, 2, 0, 0, 0, 0, time.UTC), Gender: "female", Location: "New York"}
		expectProfiles(mock, alice(), carol)

		w := serve(s.conversationsHandler(), newRequest(http.MethodGet, "/messages/conversations", nil, 2, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got []conversationSummary
		decodeBody(t, w, &got)
		require.Len(t, got, 2)

		assert.Equal(t, 9, got[0].MatchID)
		require.NotNil(t, got[0].OtherUser)
		assert.Equal(t, "Alice", got[0].OtherUser.Name)
		require.NotNil(t, got[0].LastMessage)
		assert.Equal(t, "see you at the trail", got[0].LastMessage.Content)
		assert.Equal(t, 1, got[0].LastMessage.SenderID)
		assert.Equal(t, 3, got[0].UnreadCount)

		assert.Equal(t, 12, got[1].MatchID)
		assert.Equal(t, "Carol", got[1].OtherUser.Name)
		assert.Nil(t, got[1].LastMessage)
		assert.Zero(t, got[1].UnreadCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Deactivated peers are skipped", func(t *testing.T) {
		s, mock := newTestServer(t)
		req := newRequest(http.MethodGet, "/messages/conversations", nil, 2, nil)
		req = req.WithContext(WithDataLoaders(req.Context(), NewDataLoaders(s.db)))

		mock.ExpectQuery("FROM matches m").WithArgs(2).WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow(9, 1, 2, fixedNow, nil, nil, nil, 0).
			AddRow(14, 2, 7, fixedNow, nil, nil, nil, 0))
		expectProfiles(mock, alice())

		w := serve(s.conversationsHandler(), req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got []conversationSummary
		decodeBody(t, w, &got)
		require.Len(t, got, 1)
		assert.Equal(t, 9, got[0].MatchID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No matches", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery("FROM matches m").WithArgs(2).WillReturnRows(sqlmock.NewRows(conversationColumns))

		w := serve(s.conversationsHandler(), newRequest(http.MethodGet, "/messages/conversations", nil, 2, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConversationHistory(t *testing.T) {
	params := map[string]string{"matchID": "9"}
	history := func(query string) *http.Request {
		return newRequest(http.MethodGet, "/messages/conversations/9"+query, nil, 2, params)
	}
	expectMatch := func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery("FROM matches WHERE id").WithArgs(9).
			WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, 1, 2, matchActive))
	}
	unreadQuery := regexp.QuoteMeta("SELECT COUNT(*) FROM messages")

	t.Run("Invalid paging", func(t *testing.T) {
		s, mock := newTestServer(t)
		for query, code := range map[string]string{
			"?limit=0":          "invalid_limit",
			"?limit=101":        "invalid_limit",
			"?limit=ten":        "invalid_limit",
			"?before=yesterday": "invalid_before",
		} {
			w := serve(s.conversationHandler(), history(query))
			assert.Equal(t, http.StatusBadRequest, w.Code, query)
			assert.Equal(t, code, errorCode(t, w), query)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not a participant", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery("FROM matches WHERE id").WithArgs(9).
			WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, 3, 4, matchActive))

		w := serve(s.conversationHandler(), history(""))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Oldest first with unread counted beyond the page", func(t *testing.T) {
		s, mock := newTestServer(t)
		expectMatch(mock)
		readAt := fixedNow.Add(-30 * time.Minute)
		mock.ExpectQuery("FROM messages").WithArgs(9, nil, 2).WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(42, 1, 2, "newest", "sent", 95.0, false, fixedNow.Add(-time.Minute), nil).
			AddRow(41, 2, 1, "older", "read", 95.0, false, fixedNow.Add(-time.Hour), readAt))
		mock.ExpectQuery(unreadQuery).WithArgs(9, 2).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
		expectProfiles(mock, alice())

		w := serve(s.conversationHandler(), history("?limit=2"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body struct {
			MatchID     int              `json:"match_id"`
			Status      string           `json:"status"`
			Messages    []message        `json:"messages"`
			UnreadCount int              `json:"unread_count"`
			OtherUser   *profileResponse `json:"other_user"`
		}
		decodeBody(t, w, &body)
		assert.Equal(t, 9, body.MatchID)
		assert.Equal(t, matchActive, body.Status)
		require.Len(t, body.Messages, 2)
		assert.EqualValues(t, 41, body.Messages[0].ID)
		assert.EqualValues(t, 42, body.Messages[1].ID)
		require.NotNil(t, body.Messages[0].ReadAt)
		assert.Nil(t, body.Messages[1].ReadAt)
		assert.Equal(t, 120, body.UnreadCount)
		require.NotNil(t, body.OtherUser)
		assert.Equal(t, "Alice", body.OtherUser.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Before cursor", func(t *testing.T) {
		s, mock := newTestServer(t)
		expectMatch(mock)
		cursor := fixedNow.Add(-2 * time.Hour)
		mock.ExpectQuery("FROM messages").WithArgs(9, sameInstant(cursor), defaultConversationMsg).
			WillReturnRows(sqlmock.NewRows(messageColumns))
		mock.ExpectQuery(unreadQuery).WithArgs(9, 2).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		expectProfiles(mock, alice())

		w := serve(s.conversationHandler(), history("?before="+cursor.Format(time.RFC3339Nano)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `[]`, string(mustField(t, w, "messages")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// sameInstant matches a time argument regardless of its location or pointer wrapping.
type sameInstant time.Time

func (want sameInstant) Match(v driver.Value) bool {
	got, ok := v.(time.Time)
	return ok && got.Equal(time.Time(want))
}

func mustField(t *testing.T, w *httptest.ResponseRecorder, key string) json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	decodeBody(t, w, &body)
	return body[key]
}

func TestMarkRead(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("FROM matches").WithArgs(9).
		WillReturnRows(sqlmock.NewRows(matchRowColumns).AddRow(9, 1, 2, matchActive))
	mock.ExpectExec("UPDATE messages SET status = 'read'").WithArgs(9, 2).WillReturnResult(sqlmock.NewResult(0, 3))

	sender := &Client{userID: 1, send: make(chan wsEvent, 1)}
	s.hub.register(sender)
	defer s.hub.unregister(sender)

	w := serve(s.markReadHandler(), newRequest(http.MethodPut, "/messages/conversations/9/read", nil, 2, map[string]string{"matchID": "9"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"updated":3}`, w.Body.String())

	evt := <-sender.send
	assert.Equal(t, eventRead, evt.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageErrorCode(t *testing.T) {
	assert.Equal(t, "invalid_content", messageErrorCode(errInvalidContent))
	assert.Equal(t, "match_not_found", messageErrorCode(errNotFound))
	assert.Equal(t, "match_inactive", messageErrorCode(errMatchInactive))
	assert.Equal(t, "cannot_send_message", messageErrorCode(assert.AnError))
}
