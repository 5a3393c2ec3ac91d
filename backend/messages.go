package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	maxMessageLength       = 2000
	defaultConversationMsg = 50
	maxConversationMsg     = 100
)

var (
	errInvalidContent = errors.New("invalid message content")
	errMatchInactive  = errors.New("match is not active")
)

type message struct {
	ID            int64      `json:"id"`
	MatchID       int        `json:"match_id"`
	SenderID      int        `json:"sender_id"`
	ReceiverID    int        `json:"receiver_id"`
	Content       string     `json:"content"`
	Status        string     `json:"status"`
	AISafetyScore float64    `json:"ai_safety_score"`
	IsFlagged     bool       `json:"is_flagged"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

func messageErrorCode(err error) string {
	switch {
	case errors.Is(err, errInvalidContent):
		return "invalid_content"
	case errors.Is(err, errNotFound):
		return "match_not_found"
	case errors.Is(err, errMatchInactive):
		return "match_inactive"
	default:
		return "cannot_send_message"
	}
}

// saveMessage moderates and stores a message on an active match. Flagged
// messages are stored too. The match is checked again under lock after moderation.
func (s *server) saveMessage(ctx context.Context, senderID, matchID int, content string) (*message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLength {
		return nil, errInvalidContent
	}
	if matchID <= 0 {
		return nil, errNotFound
	}

	// Only participants of an active match reach the moderation model.
	pre, err := loadMatch(ctx, s.db, matchID, senderID)
	if err != nil {
		return nil, err
	}
	if pre.Status != matchActive {
		return nil, errMatchInactive
	}

	safety, safe := s.engine.Moderate(ctx, senderID, content)

	msg := &message{MatchID: matchID, SenderID: senderID, Content: content, AISafetyScore: safety, IsFlagged: !safe}
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		m, err := loadMatchForUpdate(ctx, tx, matchID, senderID)
		if err != nil {
			return err
		}
		if m.Status != matchActive {
			return errMatchInactive
		}
		msg.ReceiverID = m.peerOf(senderID)

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (match_id, sender_id, receiver_id, content, ai_safety_score, is_flagged)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, status, created_at
		`, matchID, senderID, msg.ReceiverID, content, safety, msg.IsFlagged).Scan(&msg.ID, &msg.Status, &msg.CreatedAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE matches SET last_message_at = $2 WHERE id = $1`, matchID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	messagesTotal.WithLabelValues(strconv.FormatBool(msg.IsFlagged)).Inc()
	if msg.IsFlagged {
		s.log.Info("message flagged", zap.Int64("message_id", msg.ID), zap.Int("match_id", matchID), zap.Float64("safety", safety))
	}

	if !s.hub.isOnline(msg.ReceiverID) {
		if err := s.notifyOfflineReceiver(ctx, msg); err != nil {
			s.log.Warn("message notification", zap.Int("user_id", msg.ReceiverID), zap.Error(err))
		}
	}
	return msg, nil
}

func (s *server) notifyOfflineReceiver(ctx context.Context, msg *message) error {
	var name string
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM profiles WHERE user_id = $1`, msg.SenderID).Scan(&name); err != nil {
		return err
	}
	return insertNotification(ctx, s.db, notification{
		UserID:         msg.ReceiverID,
		Type:           "message",
		Title:          "New message",
		Body:           fmt.Sprintf("%s sent you a message", name),
		RelatedUserID:  msg.SenderID,
		RelatedMatchID: msg.MatchID,
	})
}

// pushMessage echoes to the sender and delivers to the receiver.
func (s *server) pushMessage(msg *message) {
	evt := wsEvent{Type: eventNewMessage, Data: msg}
	s.hub.sendToUser(msg.ReceiverID, evt)
	s.hub.sendToUser(msg.SenderID, evt)
}

// markRead marks everything the user received on the match as read and tells the sender.
func (s *server) markRead(ctx context.Context, userID, matchID int) (int64, error) {
	m, err := loadMatch(ctx, s.db, matchID, userID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = NOW()
		WHERE match_id = $1 AND receiver_id = $2 AND read_at IS NULL
	`, matchID, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.hub.sendToUser(m.peerOf(userID), wsEvent{Type: eventRead, Data: map[string]any{"match_id": matchID, "reader_id": userID}})
	}
	return n, nil
}

// POST /messages
func (s *server) sendMessageHandler() http.HandlerFunc {
	type sendRequest struct {
		MatchID int    `json:"match_id"`
		Content string `json:"content"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := s.saveMessage(r.Context(), mustUserID(r), req.MatchID, req.Content)
		switch {
		case errors.Is(err, errInvalidContent):
			writeError(w, http.StatusBadRequest, "invalid_content")
			return
		case errors.Is(err, errNotFound):
			writeError(w, http.StatusNotFound, "match_not_found")
			return
		case errors.Is(err, errMatchInactive):
			writeError(w, http.StatusConflict, "match_inactive")
			return
		case err != nil:
			s.log.Error("save message", zap.Int("match_id", req.MatchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		s.pushMessage(msg)
		writeJSON(w, http.StatusCreated, msg)
	}
}

type lastMessage struct {
	Content   string    `json:"content"`
	SenderID  int       `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

type conversationSummary struct {
	MatchID     int              `json:"match_id"`
	OtherUser   *profileResponse `json:"other_user"`
	LastMessage *lastMessage     `json:"last_message"`
	UnreadCount int              `json:"unread_count"`
	MatchedAt   time.Time        `json:"matched_at"`
}

// GET /messages/conversations
// Active matches, most recent activity first.
func (s *server) conversationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		me := mustUserID(r)

		rows, err := s.db.QueryContext(ctx, `
			SELECT m.id, m.user1_id, m.user2_id, m.matched_at,
			       lm.content, lm.sender_id, lm.created_at,
			       (SELECT COUNT(*) FROM messages u
			        WHERE u.match_id = m.id AND u.receiver_id = $1 AND u.read_at IS NULL)
			FROM matches m
			LEFT JOIN LATERAL (
				SELECT content, sender_id, created_at FROM messages
				WHERE match_id = m.id
				ORDER BY created_at DESC, id DESC
				LIMIT 1
			) lm ON TRUE
			WHERE (m.user1_id = $1 OR m.user2_id = $1) AND m.status = 'active'
			ORDER BY COALESCE(m.last_message_at, m.matched_at) DESC
		`, me)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		var (
			out   []conversationSummary
			peers []int
		)
		for rows.Next() {
			var (
				c            conversationSummary
				u1, u2       int
				lastContent  sql.NullString
				lastSender   sql.NullInt64
				lastSentTime sql.NullTime
			)
			if err := rows.Scan(&c.MatchID, &u1, &u2, &c.MatchedAt, &lastContent, &lastSender, &lastSentTime, &c.UnreadCount); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if lastContent.Valid {
				c.LastMessage = &lastMessage{Content: lastContent.String, SenderID: int(lastSender.Int64), CreatedAt: lastSentTime.Time}
			}
			out = append(out, c)
			peers = append(peers, (&MatchRow{User1ID: u1, User2ID: u2}).peerOf(me))
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		profiles, err := profilesFor(ctx, s.db, peers)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		now := s.now()
		result := make([]conversationSummary, 0, len(out))
		for i, c := range out {
			p, ok := profiles[peers[i]]
			if !ok {
				continue // deactivated peer
			}
			v := p.view(now, false)
			c.OtherUser = &v
			result = append(result, c)
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// GET /messages/conversations/{matchID}?limit=&before=
// Messages come back oldest first.
func (s *server) conversationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := urlParamInt(r, "matchID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		limit := defaultConversationMsg
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxConversationMsg {
				writeError(w, http.StatusBadRequest, "invalid_limit")
				return
			}
			limit = n
		}
		var before *time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_before")
				return
			}
			before = &t
		}

		ctx := r.Context()
		me := mustUserID(r)
		m, err := loadMatch(ctx, s.db, matchID, me)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, sender_id, receiver_id, content, status, COALESCE(ai_safety_score, 0), is_flagged, created_at, read_at
			FROM messages
			WHERE match_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, matchID, before, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		msgs := []message{}
		for rows.Next() {
			msg := message{MatchID: matchID}
			var readAt sql.NullTime
			if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Status, &msg.AISafetyScore, &msg.IsFlagged, &msg.CreatedAt, &readAt); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if readAt.Valid {
				msg.ReadAt = &readAt.Time
			}
			msgs = append(msgs, msg)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}

		// Unread counts the whole conversation, not just this page.
		var unread int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE match_id = $1 AND receiver_id = $2 AND read_at IS NULL
		`, matchID, me).Scan(&unread); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		resp := map[string]any{
			"match_id":     matchID,
			"status":       m.Status,
			"messages":     msgs,
			"unread_count": unread,
		}
		if p, err := loadProfileCached(ctx, s.db, m.peerOf(me)); err == nil {
			resp["other_user"] = p.view(s.now(), false)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PUT /messages/conversations/{matchID}/read
func (s *server) markReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := urlParamInt(r, "matchID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		n, err := s.markRead(r.Context(), mustUserID(r), matchID)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
	}
}
