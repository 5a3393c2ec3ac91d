package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

type notification struct {
	ID             int       `json:"id"`
	UserID         int       `json:"-"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	RelatedUserID  int       `json:"related_user_id,omitempty"`
	RelatedMatchID int       `json:"related_match_id,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

func insertNotification(ctx context.Context, q queryer, n notification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO notifications (user_id, type, title, body, related_user_id, related_match_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.UserID, n.Type, n.Title, n.Body, nullInt(n.RelatedUserID), nullInt(n.RelatedMatchID))
	return err
}

// GET /notifications?unread=true
func (s *server) notificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unreadOnly := r.URL.Query().Get("unread") == "true"

		rows, err := s.db.QueryContext(r.Context(), `
			SELECT id, type, title, body, COALESCE(related_user_id, 0), COALESCE(related_match_id, 0), is_read, created_at
			FROM notifications
			WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
			ORDER BY created_at DESC, id DESC
			LIMIT 100
		`, mustUserID(r), unreadOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		out := []notification{}
		for rows.Next() {
			var n notification
			if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &n.RelatedUserID, &n.RelatedMatchID, &n.IsRead, &n.CreatedAt); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			out = append(out, n)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// PUT /notifications/{notificationID}/read
func (s *server) readNotificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlParamInt(r, "notificationID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		res, err := s.db.ExecContext(r.Context(),
			`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, mustUserID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
