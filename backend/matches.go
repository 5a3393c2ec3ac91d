package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	matchActive    = "active"
	matchUnmatched = "unmatched"
	matchBlocked   = "blocked"
)

// loadMatch reads the match without locking it. Non-participants get errNotFound.
func loadMatch(ctx context.Context, q queryer, matchID, userID int) (*MatchRow, error) {
	var m MatchRow
	err := q.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, status FROM matches WHERE id = $1
	`, matchID).Scan(&m.ID, &m.User1ID, &m.User2ID, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if !m.involves(userID) {
		return nil, errNotFound
	}
	return &m, nil
}

type matchResponse struct {
	ID                 int              `json:"id"`
	User1ID            int              `json:"user1_id"`
	User2ID            int              `json:"user2_id"`
	Status             string           `json:"status"`
	CompatibilityScore *float64         `json:"compatibility_score"`
	Reasons            json.RawMessage  `json:"compatibility_reasons"`
	IceBreakers        json.RawMessage  `json:"ice_breakers"`
	MatchedAt          time.Time        `json:"matched_at"`
	LastMessageAt      *time.Time       `json:"last_message_at"`
	OtherUser          *profileResponse `json:"other_user"`
}

// GET /discovery/matches
func (s *server) listMatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		me := mustUserID(r)

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user1_id, user2_id, status, compatibility_score, match_reasons, ice_breakers, matched_at, last_message_at
			FROM matches
			WHERE (user1_id = $1 OR user2_id = $1) AND status = 'active'
			ORDER BY matched_at DESC, id DESC
		`, me)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		var (
			matches []matchResponse
			peers   []int
		)
		for rows.Next() {
			var (
				m             matchResponse
				score         sql.NullFloat64
				reasons, ices []byte
				lastMsg       sql.NullTime
			)
			if err := rows.Scan(&m.ID, &m.User1ID, &m.User2ID, &m.Status, &score, &reasons, &ices, &m.MatchedAt, &lastMsg); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if score.Valid {
				m.CompatibilityScore = &score.Float64
			}
			if lastMsg.Valid {
				m.LastMessageAt = &lastMsg.Time
			}
			m.Reasons = jsonRawOrArray(reasons)
			m.IceBreakers = jsonRawOrArray(ices)
			matches = append(matches, m)
			peers = append(peers, (&MatchRow{User1ID: m.User1ID, User2ID: m.User2ID}).peerOf(me))
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
		out := make([]matchResponse, 0, len(matches))
		for i, m := range matches {
			p, ok := profiles[peers[i]]
			if !ok {
				continue
			}
			v := p.view(now, false)
			m.OtherUser = &v
			out = append(out, m)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// DELETE /discovery/matches/{matchID}
// Unmatching twice is fine; a blocked match stays blocked.
func (s *server) unmatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := urlParamInt(r, "matchID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := mustUserID(r)

		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			m, err := loadMatchForUpdate(r.Context(), tx, matchID, me)
			if err != nil {
				return err
			}
			switch m.Status {
			case matchUnmatched:
				return nil
			case matchBlocked:
				return errMatchInactive
			}
			_, err = tx.ExecContext(r.Context(), `
				UPDATE matches SET status = 'unmatched', unmatched_at = NOW() WHERE id = $1
			`, matchID)
			return err
		})
		switch {
		case errors.Is(err, errNotFound):
			writeError(w, http.StatusNotFound, "not_found")
		case errors.Is(err, errMatchInactive):
			writeError(w, http.StatusConflict, "invalid_state")
		case err != nil:
			s.log.Error("unmatch", zap.Int("match_id", matchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"message": "unmatched"})
		}
	}
}

// GET /discovery/matches/{matchID}/ice-breakers
// Fresh suggestions for an active match.
func (s *server) iceBreakersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := urlParamInt(r, "matchID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
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
		if m.Status != matchActive {
			writeError(w, http.StatusConflict, "match_inactive")
			return
		}

		profiles, err := profilesFor(ctx, s.db, []int{me, m.peerOf(me)})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		self, peer := profiles[me], profiles[m.peerOf(me)]
		if self == nil || peer == nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		now := s.now()
		writeJSON(w, http.StatusOK, map[string]any{
			"match_id":     matchID,
			"ice_breakers": s.engine.IceBreakers(ctx, self.matchProfile(now), peer.matchProfile(now)),
		})
	}
}
