package main

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxInterests = 10

var errUnknownInterest = errors.New("unknown interest")

// GET /interests
func (s *server) listInterestsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.db.QueryContext(r.Context(), `SELECT id, name, category FROM interests ORDER BY category, name`)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		out := []interestRow{}
		for rows.Next() {
			var it interestRow
			if err := rows.Scan(&it.ID, &it.Name, &it.Category); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			out = append(out, it)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /profiles/me/interests
// Replaces the whole interest set.
func (s *server) setInterestsHandler() http.HandlerFunc {
	type interestsRequest struct {
		InterestIDs []int `json:"interest_ids"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req interestsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		seen := make(map[int]bool, len(req.InterestIDs))
		ids := make([]int, 0, len(req.InterestIDs))
		for _, id := range req.InterestIDs {
			if id <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_interest")
				return
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) > maxInterests {
			writeError(w, http.StatusBadRequest, "too_many_interests")
			return
		}

		me := mustUserID(r)
		var p *profileRecord
		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			if len(ids) > 0 {
				var known int
				if err := tx.QueryRowContext(r.Context(),
					`SELECT COUNT(*) FROM interests WHERE id = ANY($1)`, pq.Array(ids),
				).Scan(&known); err != nil {
					return err
				}
				if known != len(ids) {
					return errUnknownInterest
				}
			}

			if _, err := tx.ExecContext(r.Context(), `DELETE FROM profile_interests WHERE user_id = $1`, me); err != nil {
				return err
			}
			if len(ids) > 0 {
				if _, err := tx.ExecContext(r.Context(), `
					INSERT INTO profile_interests (user_id, interest_id)
					SELECT $1, unnest($2::int[])
				`, me, pq.Array(ids)); err != nil {
					return err
				}
			}

			var err error
			p, err = refreshCompletion(r.Context(), tx, me)
			return err
		})
		switch {
		case errors.Is(err, errUnknownInterest):
			writeError(w, http.StatusBadRequest, "invalid_interest")
			return
		case errors.Is(err, errNotFound):
			writeError(w, http.StatusNotFound, "not_found")
			return
		case err != nil:
			s.log.Error("set interests", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p.view(s.now(), true))
	}
}

// DELETE /profiles/me/interests/{interestID}
func (s *server) removeInterestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interestID, ok := urlParamInt(r, "interestID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := mustUserID(r)

		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(r.Context(),
				`DELETE FROM profile_interests WHERE user_id = $1 AND interest_id = $2`, me, interestID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errNotFound
			}
			_, err = refreshCompletion(r.Context(), tx, me)
			return err
		})
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
