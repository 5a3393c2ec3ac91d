package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

type seededUser struct {
	ID         int
	Email      string
	Name       string
	Gender     string
	Age        int
	DOB        time.Time
	Bio        string
	Occupation string
	Location   string
	Lat, Lon   float64
	Interests  []string
	LookingFor []string
	MinAge     int
	MaxAge     int
}

func (u *seededUser) profile(now time.Time) match.Profile {
	return match.Profile{
		UserID:     u.ID,
		Name:       u.Name,
		Age:        match.AgeAt(u.DOB, now),
		Gender:     u.Gender,
		Bio:        u.Bio,
		Occupation: u.Occupation,
		Location:   u.Location,
		Interests:  u.Interests,
	}
}

func (u *seededUser) accepts(other *seededUser, now time.Time) bool {
	age := match.AgeAt(other.DOB, now)
	if age < u.MinAge || age > u.MaxAge {
		return false
	}
	for _, g := range u.LookingFor {
		if g == other.Gender {
			return true
		}
	}
	return false
}

func truncateAll(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `TRUNCATE TABLE users RESTART IDENTITY CASCADE`)
	return err
}

// insertInterests makes sure the catalogue exists and returns name -> id.
func insertInterests(ctx context.Context, tx *sql.Tx) (map[string]int, error) {
	for _, it := range interestCatalogue {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interests (name, category) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, it.Name, it.Category); err != nil {
			return nil, fmt.Errorf("interest %q: %w", it.Name, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM interests`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[string]int)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

// insertUsers creates n users. The first two are fixed test accounts.
func insertUsers(ctx context.Context, tx *sql.Tx, r *rand.Rand, n int, pwHash string, now time.Time) ([]*seededUser, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (email, password_hash, last_online)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			last_online = EXCLUDED.last_online
		RETURNING id`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	users := make([]*seededUser, 0, n)
	for i := 0; i < n; i++ {
		u := randomUser(r, i, now)
		lastOnline := now.Add(-time.Duration(r.Intn(14*24)) * time.Hour) // within the last 2 weeks
		if i < 2 {
			lastOnline = now
		}
		if err := stmt.QueryRowContext(ctx, u.Email, pwHash, lastOnline).Scan(&u.ID); err != nil {
			return nil, fmt.Errorf("insert user %d (%s): %w", i, u.Email, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func randomUser(r *rand.Rand, i int, now time.Time) *seededUser {
	if i < len(testUsers) {
		u := testUsers[i]
		u.DOB = now.AddDate(-u.Age, 0, -10)
		return &u
	}

	city := cities[r.Intn(len(cities))]
	age := 22 + r.Intn(24) // 22..45
	gender := genders[r.Intn(len(genders))]
	u := &seededUser{
		Age:        age,
		Email:      fmt.Sprintf("user%d@loveai.test", i+1),
		Name:       firstNames[r.Intn(len(firstNames))],
		Gender:     gender,
		DOB:        now.AddDate(-age, -r.Intn(12), -r.Intn(28)),
		Bio:        bios[r.Intn(len(bios))],
		Occupation: occupations[r.Intn(len(occupations))],
		Location:   city.Name,
		Lat:        city.Lat + (r.Float64()-0.5)*0.2,
		Lon:        city.Lon + (r.Float64()-0.5)*0.2,
		LookingFor: lookingForOptions[r.Intn(len(lookingForOptions))],
		MinAge:     max(18, age-10),
		MaxAge:     min(99, age+10),
	}
	picked := r.Perm(len(interestCatalogue))[:3+r.Intn(6)] // 3..8 interests
	for _, idx := range picked {
		u.Interests = append(u.Interests, interestCatalogue[idx].Name)
	}
	return u
}

func insertProfiles(ctx context.Context, tx *sql.Tx, r *rand.Rand, users []*seededUser, interestIDs map[string]int) error {
	for _, u := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (user_id, name, date_of_birth, gender, bio, occupation, location,
			                      latitude, longitude, completion, onboarding_completed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
			ON CONFLICT (user_id) DO UPDATE SET
				name = EXCLUDED.name,
				date_of_birth = EXCLUDED.date_of_birth,
				gender = EXCLUDED.gender,
				bio = EXCLUDED.bio,
				occupation = EXCLUDED.occupation,
				location = EXCLUDED.location,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				completion = EXCLUDED.completion,
				onboarding_completed = TRUE
		`, u.ID, u.Name, u.DOB, u.Gender, u.Bio, u.Occupation, u.Location, u.Lat, u.Lon, 80); err != nil {
			return fmt.Errorf("insert profile for user %d: %w", u.ID, err)
		}

		ids := make([]int, 0, len(u.Interests))
		for _, name := range u.Interests {
			if id, ok := interestIDs[name]; ok {
				ids = append(ids, id)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profile_interests (user_id, interest_id)
			SELECT $1, unnest($2::int[])
			ON CONFLICT DO NOTHING
		`, u.ID, pq.Array(ids)); err != nil {
			return fmt.Errorf("insert interests for user %d: %w", u.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (user_id, min_age, max_age, looking_for, max_distance)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE SET
				min_age = EXCLUDED.min_age,
				max_age = EXCLUDED.max_age,
				looking_for = EXCLUDED.looking_for,
				max_distance = EXCLUDED.max_distance
		`, u.ID, u.MinAge, u.MaxAge, pq.Array(u.LookingFor), []int{25, 50, 100}[r.Intn(3)]); err != nil {
			return fmt.Errorf("insert preferences for user %d: %w", u.ID, err)
		}
	}
	return nil
}

// insertInteractions walks every ordered pair that passes the liker's
// preferences and rolls for a like. Mutual likes form matches.
func insertInteractions(ctx context.Context, tx *sql.Tx, r *rand.Rand, users []*seededUser, likeRate, mutualRate float64) (likes, matches int, err error) {
	now := time.Now()
	jitter := func() int { return r.Intn(11) - 5 }
	liked := make(map[[2]int]bool)

	insertLike := func(from, to *seededUser, score float64) error {
		kind := "like"
		if r.Float64() < 0.1 {
			kind = "super_like"
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (from_user_id, to_user_id, interaction_type, ai_score)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (from_user_id, to_user_id) DO NOTHING
		`, from.ID, to.ID, kind, score)
		if err != nil {
			return err
		}
		column := "total_likes"
		if kind == "super_like" {
			column = "total_super_likes"
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE profiles SET %s = %s + 1 WHERE user_id = $1`, column, column), to.ID)
		liked[[2]int{from.ID, to.ID}] = true
		return err
	}

	for _, from := range users {
		for _, to := range users {
			if from.ID == to.ID || liked[[2]int{from.ID, to.ID}] || !from.accepts(to, now) || r.Float64() >= likeRate {
				continue
			}
			res := match.Heuristic(from.profile(now), to.profile(now), jitter)
			if err := insertLike(from, to, res.Score); err != nil {
				return likes, matches, fmt.Errorf("like %d -> %d: %w", from.ID, to.ID, err)
			}
			likes++

			if !liked[[2]int{to.ID, from.ID}] {
				if !to.accepts(from, now) || r.Float64() >= mutualRate {
					continue
				}
				back := match.Heuristic(to.profile(now), from.profile(now), jitter)
				if err := insertLike(to, from, back.Score); err != nil {
					return likes, matches, fmt.Errorf("like back %d -> %d: %w", to.ID, from.ID, err)
				}
				likes++
			}
			if err := insertMatch(ctx, tx, from, to, res); err != nil {
				return likes, matches, err
			}
			matches++
		}
	}
	return likes, matches, nil
}

func insertMatch(ctx context.Context, tx *sql.Tx, a, b *seededUser, res match.Result) error {
	reasons, _ := json.Marshal(res.Reasons)
	breakers, _ := json.Marshal(res.IceBreakers)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (user1_id, user2_id, compatibility_score, match_reasons, ice_breakers)
		VALUES (LEAST($1::int, $2::int), GREATEST($1::int, $2::int), $3, $4, $5)
		ON CONFLICT (user1_id, user2_id) DO NOTHING
	`, a.ID, b.ID, res.Score, string(reasons), string(breakers)); err != nil {
		return fmt.Errorf("match %d <-> %d: %w", a.ID, b.ID, err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE profiles SET total_matches = total_matches + 1 WHERE user_id IN ($1, $2)`, a.ID, b.ID)
	return err
}
