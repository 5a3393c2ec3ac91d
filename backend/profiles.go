package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

const (
	dateLayout           = "2006-01-02"
	onboardingCompletion = 50
)

type interestRow struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type photoRow struct {
	ID        int    `json:"id"`
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
	Position  int    `json:"position"`
}

// profileRecord is a profile row with its interests and photos attached.
type profileRecord struct {
	UserID              int
	Name                string
	DateOfBirth         sql.NullTime
	Gender              string
	Bio                 string
	Occupation          string
	Location            string
	Latitude            sql.NullFloat64
	Longitude           sql.NullFloat64
	Completion          int
	OnboardingCompleted bool
	TotalLikes          int
	TotalSuperLikes     int
	TotalMatches        int
	UpdatedAt           time.Time
	IsOnline            bool
	Interests           []interestRow
	Photos              []photoRow
}

func (p *profileRecord) age(now time.Time) int {
	if !p.DateOfBirth.Valid {
		return 0
	}
	return match.AgeAt(p.DateOfBirth.Time, now)
}

func (p *profileRecord) interestNames() []string {
	out := make([]string, len(p.Interests))
	for i, it := range p.Interests {
		out[i] = it.Name
	}
	return out
}

func (p *profileRecord) matchProfile(now time.Time) match.Profile {
	return match.Profile{
		UserID:     p.UserID,
		Name:       p.Name,
		Age:        p.age(now),
		Gender:     p.Gender,
		Bio:        p.Bio,
		Occupation: p.Occupation,
		Location:   p.Location,
		Interests:  p.interestNames(),
		Version:    p.UpdatedAt.UnixNano(),
	}
}

type profileStats struct {
	TotalLikes      int `json:"total_likes"`
	TotalSuperLikes int `json:"total_super_likes"`
	TotalMatches    int `json:"total_matches"`
}

type profileResponse struct {
	UserID              int           `json:"user_id"`
	Name                string        `json:"name"`
	Age                 int           `json:"age,omitempty"`
	DateOfBirth         string        `json:"date_of_birth,omitempty"`
	Gender              string        `json:"gender"`
	Bio                 string        `json:"bio"`
	Occupation          string        `json:"occupation"`
	Location            string        `json:"location"`
	Latitude            *float64      `json:"latitude,omitempty"`
	Longitude           *float64      `json:"longitude,omitempty"`
	Completion          int           `json:"completion_percentage"`
	OnboardingCompleted bool          `json:"onboarding_completed"`
	IsOnline            bool          `json:"is_online"`
	Interests           []interestRow `json:"interests"`
	Photos              []photoRow    `json:"photos"`
	Stats               *profileStats `json:"stats,omitempty"`
}

// view renders the profile. Private fields are only included for the owner.
func (p *profileRecord) view(now time.Time, owner bool) profileResponse {
	resp := profileResponse{
		UserID:              p.UserID,
		Name:                p.Name,
		Age:                 p.age(now),
		Gender:              p.Gender,
		Bio:                 p.Bio,
		Occupation:          p.Occupation,
		Location:            p.Location,
		Completion:          p.Completion,
		OnboardingCompleted: p.OnboardingCompleted,
		IsOnline:            p.IsOnline,
		Interests:           p.Interests,
		Photos:              p.Photos,
	}
	if resp.Interests == nil {
		resp.Interests = []interestRow{}
	}
	if resp.Photos == nil {
		resp.Photos = []photoRow{}
	}
	if owner {
		if p.DateOfBirth.Valid {
			resp.DateOfBirth = p.DateOfBirth.Time.Format(dateLayout)
		}
		if p.Latitude.Valid && p.Longitude.Valid {
			lat, lon := p.Latitude.Float64, p.Longitude.Float64
			resp.Latitude, resp.Longitude = &lat, &lon
		}
		resp.Stats = &profileStats{
			TotalLikes:      p.TotalLikes,
			TotalSuperLikes: p.TotalSuperLikes,
			TotalMatches:    p.TotalMatches,
		}
	}
	return resp
}

// completionPercent weighs how much of the profile is filled in.
func completionPercent(p *profileRecord) int {
	total := 0
	if strings.TrimSpace(p.Name) != "" {
		total += 10
	}
	if p.DateOfBirth.Valid {
		total += 10
	}
	if p.Gender != "" {
		total += 10
	}
	if strings.TrimSpace(p.Bio) != "" {
		total += 15
	}
	if strings.TrimSpace(p.Occupation) != "" {
		total += 10
	}
	if strings.TrimSpace(p.Location) != "" {
		total += 10
	}
	if len(p.Photos) > 0 {
		total += 20
	}
	total += 5 * min(len(p.Interests), 3)
	return total
}

// loadProfiles fetches active users' profiles by id. Missing ids are simply absent.
func loadProfiles(ctx context.Context, q queryer, ids []int) (map[int]*profileRecord, error) {
	out := make(map[int]*profileRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.user_id, p.name, p.date_of_birth, p.gender, p.bio, p.occupation, p.location,
		       p.latitude, p.longitude, p.completion, p.onboarding_completed,
		       p.total_likes, p.total_super_likes, p.total_matches, p.updated_at,
		       COALESCE(u.last_online > NOW() - INTERVAL '90 seconds', FALSE)
		FROM profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id = ANY($1) AND u.is_active
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p profileRecord
		if err := rows.Scan(&p.UserID, &p.Name, &p.DateOfBirth, &p.Gender, &p.Bio, &p.Occupation, &p.Location,
			&p.Latitude, &p.Longitude, &p.Completion, &p.OnboardingCompleted,
			&p.TotalLikes, &p.TotalSuperLikes, &p.TotalMatches, &p.UpdatedAt, &p.IsOnline); err != nil {
			rows.Close()
			return nil, err
		}
		out[p.UserID] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	found := make([]int, 0, len(out))
	for id := range out {
		found = append(found, id)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT pi.user_id, i.id, i.name, i.category
		FROM profile_interests pi
		JOIN interests i ON i.id = pi.interest_id
		WHERE pi.user_id = ANY($1)
		ORDER BY i.name
	`, pq.Array(found))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var userID int
		var it interestRow
		if err := rows.Scan(&userID, &it.ID, &it.Name, &it.Category); err != nil {
			rows.Close()
			return nil, err
		}
		if p := out[userID]; p != nil {
			p.Interests = append(p.Interests, it)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT user_id, id, url, is_primary, position
		FROM photos
		WHERE user_id = ANY($1)
		ORDER BY is_primary DESC, position, id
	`, pq.Array(found))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID int
		var ph photoRow
		if err := rows.Scan(&userID, &ph.ID, &ph.URL, &ph.IsPrimary, &ph.Position); err != nil {
			return nil, err
		}
		if p := out[userID]; p != nil {
			p.Photos = append(p.Photos, ph)
		}
	}
	return out, rows.Err()
}

func loadProfile(ctx context.Context, q queryer, userID int) (*profileRecord, error) {
	m, err := loadProfiles(ctx, q, []int{userID})
	if err != nil {
		return nil, err
	}
	p, ok := m[userID]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

// refreshCompletion recomputes the completion score and bumps updated_at,
// which also invalidates cached compatibility results for this user.
func refreshCompletion(ctx context.Context, q queryer, userID int) (*profileRecord, error) {
	p, err := loadProfile(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	p.Completion = completionPercent(p)
	if err := q.QueryRowContext(ctx, `
		UPDATE profiles SET completion = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING updated_at
	`, userID, p.Completion).Scan(&p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func isBlockedEitherWay(ctx context.Context, q queryer, a, b int) (bool, error) {
	var blocked bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, a, b).Scan(&blocked)
	return blocked, err
}

// GET /profiles/me
func (s *server) myProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := loadProfile(r.Context(), s.db, mustUserID(r))
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			s.log.Error("load profile", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p.view(s.now(), true))
	}
}

// GET /profiles/{userID}
// Profiles of users who blocked the caller, or whom the caller blocked, are hidden.
func (s *server) userProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := urlParamInt(r, "userID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := mustUserID(r)

		if targetID != me {
			blocked, err := isBlockedEitherWay(r.Context(), s.db, me, targetID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if blocked {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
		}

		p, err := loadProfile(r.Context(), s.db, targetID)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p.view(s.now(), targetID == me))
	}
}

type profileUpdate struct {
	Name        *string  `json:"name,omitempty"`
	DateOfBirth *string  `json:"date_of_birth,omitempty"`
	Gender      *string  `json:"gender,omitempty"`
	Bio         *string  `json:"bio,omitempty"`
	Occupation  *string  `json:"occupation,omitempty"`
	Location    *string  `json:"location,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// validate normalises the fields in place and returns an error code, or "" when valid.
func (u *profileUpdate) validate(now time.Time) string {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(u.Name)
	trim(u.Bio)
	trim(u.Occupation)
	trim(u.Location)
	trim(u.DateOfBirth)
	if u.Gender != nil {
		g := strings.ToLower(strings.TrimSpace(*u.Gender))
		u.Gender = &g
	}

	if code := profileUpdateSchema.check(u); code != "" {
		return code
	}
	if u.DateOfBirth != nil {
		dob, err := time.Parse(dateLayout, *u.DateOfBirth)
		if err != nil {
			return "invalid_date_of_birth"
		}
		if match.AgeAt(dob, now) < 18 {
			return "underage"
		}
	}
	return ""
}

// PUT /profiles/me
// Partial update: absent fields keep their value.
func (s *server) updateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileUpdate
		if !decodeJSON(w, r, &req) {
			return
		}
		if code := req.validate(s.now()); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}
		me := mustUserID(r)

		var p *profileRecord
		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(r.Context(), `
				UPDATE profiles SET
					name          = COALESCE($2, name),
					date_of_birth = COALESCE($3::date, date_of_birth),
					gender        = COALESCE($4, gender),
					bio           = COALESCE($5, bio),
					occupation    = COALESCE($6, occupation),
					location      = COALESCE($7, location),
					latitude      = COALESCE($8, latitude),
					longitude     = COALESCE($9, longitude)
				WHERE user_id = $1
			`, me, req.Name, req.DateOfBirth, req.Gender, req.Bio, req.Occupation, req.Location, req.Latitude, req.Longitude)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errNotFound
			}
			p, err = refreshCompletion(r.Context(), tx, me)
			return err
		})
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			s.log.Error("update profile", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p.view(s.now(), true))
	}
}

// POST /profiles/me/complete
// Marks onboarding as done once enough of the profile is filled in.
func (s *server) completeProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := mustUserID(r)
		var p *profileRecord
		wroteErr := false
		err := withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			var err error
			p, err = refreshCompletion(r.Context(), tx, me)
			if err != nil {
				return err
			}
			if p.Completion < onboardingCompletion {
				writeJSON(w, http.StatusConflict, map[string]any{
					"error":                 "profile_incomplete",
					"completion_percentage": p.Completion,
				})
				wroteErr = true
				return nil
			}
			_, err = tx.ExecContext(r.Context(), `UPDATE profiles SET onboarding_completed = TRUE WHERE user_id = $1`, me)
			p.OnboardingCompleted = true
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
		if wroteErr {
			return // already wrote the error inside tx
		}
		writeJSON(w, http.StatusOK, p.view(s.now(), true))
	}
}

// POST /ai/bio-suggestions
// Missing request fields are filled from the caller's profile.
func (s *server) bioSuggestionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req match.BioRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		me := mustUserID(r)
		req.UserID = me

		p, err := loadProfile(r.Context(), s.db, me)
		if err != nil && !errors.Is(err, errNotFound) {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if p != nil {
			if req.Name == "" {
				req.Name = p.Name
			}
			if req.Age == 0 {
				req.Age = p.age(s.now())
			}
			if req.Gender == "" {
				req.Gender = p.Gender
			}
			if req.Occupation == "" {
				req.Occupation = p.Occupation
			}
			if len(req.Interests) == 0 {
				req.Interests = p.interestNames()
			}
		}
		writeJSON(w, http.StatusOK, s.engine.BioSuggestions(r.Context(), req))
	}
}
