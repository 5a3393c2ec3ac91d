package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// --- Response helpers ---
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body of at most 1MB. It writes the error response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// urlParamInt parses a positive integer path parameter.
func urlParamInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func jsonRawOrArray(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(raw)
}

// jsonList encodes items for a JSONB array column; nil becomes [].
func jsonList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx wraps a function in a database transaction.
// - Ensures COMMIT on success, ROLLBACK on errors or panics.
// - Keeps handler bodies tiny and all state changes atomic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		// If the callback panics, make sure to rollback before re-panicking
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lockPair serialises writes that concern the same two users, in either
// direction, until the surrounding transaction ends. Rows for the pair may
// not exist yet, so a row lock is not enough.
func lockPair(ctx context.Context, tx *sql.Tx, a, b int) error {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lo, hi)
	return err
}

// MatchRow is a match between two users, user1_id < user2_id.
type MatchRow struct {
	ID      int
	User1ID int
	User2ID int
	Status  string
}

func (m *MatchRow) involves(userID int) bool {
	return m.User1ID == userID || m.User2ID == userID
}

func (m *MatchRow) peerOf(userID int) int {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

var errNotFound = errors.New("not found")

// loadMatchForUpdate row-locks the match and checks that userID takes part in it.
func loadMatchForUpdate(ctx context.Context, tx *sql.Tx, matchID, userID int) (*MatchRow, error) {
	var m MatchRow
	err := tx.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, status
		FROM matches
		WHERE id = $1
		FOR UPDATE
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
