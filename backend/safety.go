package main

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var reportReasons = map[string]bool{
	"inappropriate_content": true,
	"harassment":            true,
	"spam":                  true,
	"fake_profile":          true,
	"underage":              true,
	"other":                 true,
}

const maxReportDescription = 1000

func userExists(ctx context.Context, q queryer, userID int) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// targetFromPath reads {userID} and rejects self and unknown users.
// It writes the error response itself.
func (s *server) targetFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	targetID, ok := urlParamInt(r, "userID")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return 0, false
	}
	if targetID == mustUserID(r) {
		writeError(w, http.StatusBadRequest, "invalid_target")
		return 0, false
	}
	exists, err := userExists(r.Context(), s.db, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return 0, false
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found")
		return 0, false
	}
	return targetID, true
}

// POST /users/{userID}/block
// Blocking also freezes any match between the two.
func (s *server) blockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := s.targetFromPath(w, r)
		if !ok {
			return
		}
		me := mustUserID(r)

		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			if err := lockPair(r.Context(), tx, me, targetID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(r.Context(), `
				INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, me, targetID); err != nil {
				return err
			}
			_, err := tx.ExecContext(r.Context(), `
				UPDATE matches SET status = 'blocked'
				WHERE user1_id = LEAST($1::int, $2::int) AND user2_id = GREATEST($1::int, $2::int)
				  AND status <> 'blocked'
			`, me, targetID)
			return err
		})
		if err != nil {
			s.log.Error("block user", zap.Int("user_id", me), zap.Int("target_id", targetID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"blocked": true})
	}
}

// DELETE /users/{userID}/block
// The match is not restored.
func (s *server) unblockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := urlParamInt(r, "userID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		res, err := s.db.ExecContext(r.Context(),
			`DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`, mustUserID(r), targetID)
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

// POST /users/{userID}/report
func (s *server) reportHandler() http.HandlerFunc {
	type reportRequest struct {
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Reason = strings.ToLower(strings.TrimSpace(req.Reason))
		req.Description = strings.TrimSpace(req.Description)
		if !reportReasons[req.Reason] {
			writeError(w, http.StatusBadRequest, "invalid_reason")
			return
		}
		if len(req.Description) > maxReportDescription {
			writeError(w, http.StatusBadRequest, "description_too_long")
			return
		}

		targetID, ok := s.targetFromPath(w, r)
		if !ok {
			return
		}
		me := mustUserID(r)

		var id int
		err := s.db.QueryRowContext(r.Context(), `
			INSERT INTO reports (reporter_id, reported_id, reason, description)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, me, targetID, req.Reason, req.Description).Scan(&id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		s.log.Info("user reported", zap.Int("report_id", id), zap.Int("reported_id", targetID), zap.String("reason", req.Reason))
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "pending"})
	}
}
