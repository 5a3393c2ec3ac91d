package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

const (
	defaultDiscoveryLimit = 10
	maxDiscoveryLimit     = 50
	candidatePoolFactor   = 3
	scoringConcurrency    = 8
)

type discoveryProfile struct {
	profileResponse
	DistanceKm         *float64     `json:"distance_km"`
	CompatibilityScore float64      `json:"compatibility_score"`
	CompatibilityWhy   []string     `json:"compatibility_reasons"`
	ScoreSource        match.Source `json:"score_source"`
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth radius in km
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)
	lat1 = lat1 * (math.Pi / 180)
	lat2 = lat2 * (math.Pi / 180)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// distanceKm returns the rounded distance, or nil when either side has no coordinates.
func distanceKm(a, b *profileRecord) *float64 {
	if !a.Latitude.Valid || !a.Longitude.Valid || !b.Latitude.Valid || !b.Longitude.Valid {
		return nil
	}
	d := math.Round(haversine(a.Latitude.Float64, a.Longitude.Float64, b.Latitude.Float64, b.Longitude.Float64)*10) / 10
	return &d
}

// candidateIDs applies every filter that can be expressed in SQL.
func candidateIDs(ctx context.Context, q queryer, userID int, prefs preferences, limit int) ([]int, error) {
	lookingFor := prefs.LookingFor
	if len(lookingFor) == 0 {
		lookingFor = allGenders()
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.user_id
		FROM profiles p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN preferences cp ON cp.user_id = p.user_id
		WHERE p.user_id <> $1
		  AND u.is_active
		  AND p.onboarding_completed
		  AND COALESCE(cp.show_me, TRUE)
		  AND p.gender = ANY($2)
		  AND p.date_of_birth IS NOT NULL
		  AND date_part('year', age(CURRENT_DATE, p.date_of_birth)) BETWEEN $3 AND $4
		  AND NOT EXISTS (
			SELECT 1 FROM interactions i WHERE i.from_user_id = $1 AND i.to_user_id = p.user_id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker_id = $1 AND b.blocked_id = p.user_id)
			   OR (b.blocker_id = p.user_id AND b.blocked_id = $1)
		  )
		ORDER BY u.last_online DESC NULLS LAST, p.user_id
		LIMIT $5
	`, userID, pq.Array(lookingFor), prefs.MinAge, prefs.MaxAge, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scoreAll runs the engine over the candidates with bounded concurrency.
// Results line up with candidates by index.
func (s *server) scoreAll(ctx context.Context, me match.Profile, candidates []match.Profile) []match.Result {
	results := make([]match.Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)
	for i := range candidates {
		g.Go(func() error {
			results[i] = s.engine.Compatibility(gctx, me, candidates[i])
			return nil
		})
	}
	_ = g.Wait() // Compatibility never fails
	return results
}

// GET /discovery/profiles?limit=N
func (s *server) discoveryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDiscoveryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxDiscoveryLimit {
				writeError(w, http.StatusBadRequest, "invalid_limit")
				return
			}
			limit = n
		}

		ctx := r.Context()
		me := mustUserID(r)
		now := s.now()

		self, err := loadProfile(ctx, s.db, me)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusBadRequest, "profile_required")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		prefs, err := loadPreferences(ctx, s.db, me)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		ids, err := candidateIDs(ctx, s.db, me, prefs, limit*candidatePoolFactor)
		if err != nil {
			s.log.Error("discovery candidates", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		records, err := loadProfiles(ctx, s.db, ids)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		var (
			kept      []*profileRecord
			distances []*float64
		)
		for _, id := range ids {
			p, ok := records[id]
			if !ok {
				continue
			}
			d := distanceKm(self, p)
			if d != nil && *d > float64(prefs.MaxDistance) {
				continue
			}
			kept = append(kept, p)
			distances = append(distances, d)
		}

		candidates := make([]match.Profile, len(kept))
		for i, p := range kept {
			candidates[i] = p.matchProfile(now)
		}
		scores := s.scoreAll(ctx, self.matchProfile(now), candidates)

		out := make([]discoveryProfile, len(kept))
		for i, p := range kept {
			out[i] = discoveryProfile{
				profileResponse:    p.view(now, false),
				DistanceKm:         distances[i],
				CompatibilityScore: scores[i].Score,
				CompatibilityWhy:   scores[i].Reasons,
				ScoreSource:        scores[i].Source,
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CompatibilityScore > out[j].CompatibilityScore
		})
		if len(out) > limit {
			out = out[:limit]
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /discovery/compatibility/{userID}
func (s *server) compatibilityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := urlParamInt(r, "userID")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := mustUserID(r)
		if targetID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		self, target, err := s.loadPair(r.Context(), me, targetID)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		now := s.now()
		writeJSON(w, http.StatusOK, s.engine.Compatibility(r.Context(), self.matchProfile(now), target.matchProfile(now)))
	}
}

// loadPair loads both profiles, hiding the target when either user blocked the other.
func (s *server) loadPair(ctx context.Context, me, targetID int) (*profileRecord, *profileRecord, error) {
	blocked, err := isBlockedEitherWay(ctx, s.db, me, targetID)
	if err != nil {
		return nil, nil, err
	}
	if blocked {
		return nil, nil, errNotFound
	}
	records, err := loadProfiles(ctx, s.db, []int{me, targetID})
	if err != nil {
		return nil, nil, err
	}
	self, target := records[me], records[targetID]
	if self == nil || target == nil {
		return nil, nil, errNotFound
	}
	return self, target, nil
}
