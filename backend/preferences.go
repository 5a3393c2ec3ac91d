package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

type preferences struct {
	MinAge      int      `json:"min_age"`
	MaxAge      int      `json:"max_age"`
	LookingFor  []string `json:"looking_for"`
	MaxDistance int      `json:"max_distance"`
	ShowMe      bool     `json:"show_me"`
}

func defaultPreferences() preferences {
	return preferences{MinAge: 18, MaxAge: 99, LookingFor: allGenders(), MaxDistance: 50, ShowMe: true}
}

// validate normalises looking_for in place and returns an error code, or "" when valid.
func (p *preferences) validate() string {
	if p.MinAge > p.MaxAge {
		return "invalid_age_range"
	}
	for i, g := range p.LookingFor {
		p.LookingFor[i] = strings.ToLower(strings.TrimSpace(g))
	}
	if code := preferencesSchema.check(p); code != "" {
		return code
	}

	seen := make(map[string]bool, len(p.LookingFor))
	out := make([]string, 0, len(p.LookingFor))
	for _, g := range p.LookingFor {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	p.LookingFor = out
	return ""
}

// loadPreferences returns the stored preferences, or the defaults when the row is missing.
func loadPreferences(ctx context.Context, q queryer, userID int) (preferences, error) {
	var p preferences
	var lookingFor pq.StringArray
	err := q.QueryRowContext(ctx, `
		SELECT min_age, max_age, looking_for, max_distance, show_me
		FROM preferences WHERE user_id = $1
	`, userID).Scan(&p.MinAge, &p.MaxAge, &lookingFor, &p.MaxDistance, &p.ShowMe)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultPreferences(), nil
	}
	if err != nil {
		return preferences{}, err
	}
	p.LookingFor = []string(lookingFor)
	if p.LookingFor == nil {
		p.LookingFor = []string{}
	}
	return p, nil
}

// GET /profiles/me/preferences
func (s *server) getPreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := loadPreferences(r.Context(), s.db, mustUserID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// PUT /profiles/me/preferences
// Absent fields keep their current value.
func (s *server) updatePreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := mustUserID(r)
		current, err := loadPreferences(r.Context(), s.db, me)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		// Decoding over the current values leaves missing fields untouched.
		next := current
		if !decodeJSON(w, r, &next) {
			return
		}
		if code := next.validate(); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}

		_, err = s.db.ExecContext(r.Context(), `
			INSERT INTO preferences (user_id, min_age, max_age, looking_for, max_distance, show_me)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				min_age = EXCLUDED.min_age,
				max_age = EXCLUDED.max_age,
				looking_for = EXCLUDED.looking_for,
				max_distance = EXCLUDED.max_distance,
				show_me = EXCLUDED.show_me
		`, me, next.MinAge, next.MaxAge, pq.Array(next.LookingFor), next.MaxDistance, next.ShowMe)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, next)
	}
}
