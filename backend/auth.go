package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

type ctxKey string

const userIDKey ctxKey = "userID"

func allGenders() []string { return []string{"male", "female", "non_binary", "other"} }

func userIDFrom(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(userIDKey).(int)
	return id, ok
}

func mustUserID(r *http.Request) int {
	id, _ := userIDFrom(r.Context())
	return id
}

// tokenClaims is the JWT payload handed to clients.
type tokenClaims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int    `json:"user_id"`
	Role        string `json:"role"`
}

func (s *server) issueToken(userID int, email, role string) (string, error) {
	now := s.now()
	claims := tokenClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *server) parseToken(tokenStr string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// tokenFromRequest reads the bearer token, falling back to ?token= since
// browsers cannot set headers on WebSocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// POST /auth/register
// Creates the user, a profile and default preferences in one transaction.
func (s *server) registerHandler() http.HandlerFunc {
	type registerRequest struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Name        string `json:"name"`
		DateOfBirth string `json:"date_of_birth"`
		Gender      string `json:"gender"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		req.Email = normalizeEmail(req.Email)
		req.Name = strings.TrimSpace(req.Name)
		req.Gender = strings.ToLower(strings.TrimSpace(req.Gender))
		if code := registerSchema.check(presentFields(map[string]string{
			"email":         req.Email,
			"password":      req.Password,
			"name":          req.Name,
			"date_of_birth": req.DateOfBirth,
			"gender":        req.Gender,
		})); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}
		dob, err := time.Parse(dateLayout, req.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_of_birth")
			return
		}
		if match.AgeAt(dob, s.now()) < 18 {
			writeError(w, http.StatusBadRequest, "underage")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash_error")
			s.log.Error("hash password", zap.Error(err))
			return
		}

		var (
			userID int
			role   string
		)
		err = withTx(r.Context(), s.db, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(r.Context(), `
				INSERT INTO users (email, password_hash, last_online)
				VALUES ($1, $2, NOW())
				RETURNING id, role
			`, req.Email, string(hash)).Scan(&userID, &role); err != nil {
				return err
			}

			completion := completionPercent(&profileRecord{Name: req.Name, DateOfBirth: sql.NullTime{Time: dob, Valid: true}, Gender: req.Gender})
			if _, err := tx.ExecContext(r.Context(), `
				INSERT INTO profiles (user_id, name, date_of_birth, gender, completion)
				VALUES ($1, $2, $3, $4, $5)
			`, userID, req.Name, dob, req.Gender, completion); err != nil {
				return err
			}

			_, err := tx.ExecContext(r.Context(), `
				INSERT INTO preferences (user_id, looking_for)
				VALUES ($1, $2)
			`, userID, pq.Array(allGenders()))
			return err
		})
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				writeError(w, http.StatusConflict, "email_exists")
				return
			}
			writeError(w, http.StatusInternalServerError, "register_error")
			s.log.Error("register user", zap.Error(err))
			return
		}

		token, err := s.issueToken(userID, req.Email, role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			s.log.Error("issue token", zap.Int("user_id", userID), zap.Error(err))
			return
		}

		s.log.Info("user registered", zap.Int("user_id", userID))
		writeJSON(w, http.StatusCreated, tokenResponse{AccessToken: token, TokenType: "bearer", UserID: userID, Role: role})
	}
}

// POST /auth/login
func (s *server) loginHandler() http.HandlerFunc {
	type loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Email = normalizeEmail(req.Email)
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		var (
			userID       int
			passwordHash string
			role         string
			active       bool
		)
		err := s.db.QueryRowContext(r.Context(),
			"SELECT id, password_hash, role, is_active FROM users WHERE email = $1", req.Email,
		).Scan(&userID, &passwordHash, &role, &active)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			s.log.Error("query user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		if !active {
			writeError(w, http.StatusForbidden, "account_inactive")
			return
		}

		if _, err := s.db.ExecContext(r.Context(), "UPDATE users SET last_online = NOW() WHERE id = $1", userID); err != nil {
			// Don't fail login, just log the error
			s.log.Warn("update last_online", zap.Int("user_id", userID), zap.Error(err))
		}

		token, err := s.issueToken(userID, req.Email, role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			s.log.Error("issue token", zap.Int("user_id", userID), zap.Error(err))
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", UserID: userID, Role: role})
	}
}

// authenticate validates the token, rejects deactivated accounts and marks
// the caller as online.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.parseToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		var active bool
		err = s.db.QueryRowContext(r.Context(),
			"UPDATE users SET last_online = NOW() WHERE id = $1 RETURNING is_active", claims.UserID,
		).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if err != nil {
			s.log.Error("authenticate", zap.Int("user_id", claims.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !active {
			writeError(w, http.StatusForbidden, "account_inactive")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.UserID)))
	})
}

// POST /auth/logout
// Tokens are stateless; the client drops its copy.
func (s *server) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	}
}

// GET /auth/me
func (s *server) meHandler() http.HandlerFunc {
	type meResponse struct {
		ID        int       `json:"id"`
		Email     string    `json:"email"`
		Role      string    `json:"role"`
		IsActive  bool      `json:"is_active"`
		CreatedAt time.Time `json:"created_at"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var resp meResponse
		err := s.db.QueryRowContext(r.Context(),
			"SELECT id, email, role, is_active, created_at FROM users WHERE id = $1", mustUserID(r),
		).Scan(&resp.ID, &resp.Email, &resp.Role, &resp.IsActive, &resp.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// POST /auth/verify-token
func (s *server) verifyTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			var body struct {
				Token string `json:"token"`
			}
			if !decodeJSON(w, r, &body) {
				return
			}
			tokenStr = body.Token
		}

		claims, err := s.parseToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":      true,
			"user_id":    claims.UserID,
			"email":      claims.Email,
			"role":       claims.Role,
			"expires_at": claims.ExpiresAt.Time,
		})
	}
}
