package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx(t *testing.T) {
	t.Run("Successful transaction", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectBegin()
		mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := withTx(context.Background(), s.db, func(tx *sql.Tx) error {
			_, err := tx.Exec("SELECT 1")
			return err
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Transaction with error rollback", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		testError := errors.New("test error")

		err := withTx(context.Background(), s.db, func(tx *sql.Tx) error {
			return testError
		})
		assert.ErrorIs(t, err, testError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Transaction with panic recovery", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = withTx(context.Background(), s.db, func(tx *sql.Tx) error {
				panic("test panic")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Begin failure", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		called := false
		err := withTx(context.Background(), s.db, func(tx *sql.Tx) error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
	})
}

func TestLockPairOrdersIDs(t *testing.T) {
	for _, pair := range [][2]int{{3, 8}, {8, 3}} {
		s, mock := newTestServer(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WithArgs(3, 8).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := withTx(context.Background(), s.db, func(tx *sql.Tx) error {
			return lockPair(context.Background(), tx, pair[0], pair[1])
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestMatchRow(t *testing.T) {
	m := &MatchRow{ID: 1, User1ID: 3, User2ID: 8}
	assert.True(t, m.involves(3))
	assert.True(t, m.involves(8))
	assert.False(t, m.involves(5))
	assert.Equal(t, 8, m.peerOf(3))
	assert.Equal(t, 3, m.peerOf(8))
}

func TestURLParamInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"12", 12, true},
		{"0", 0, false},
		{"-4", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := urlParamInt(newRequest(http.MethodGet, "/", nil, 0, map[string]string{"id": tt.raw}), "id")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	t.Run("jsonRawOrArray", func(t *testing.T) {
		assert.JSONEq(t, `[]`, string(jsonRawOrArray(nil)))
		assert.JSONEq(t, `[]`, string(jsonRawOrArray([]byte("{broken"))))
		assert.JSONEq(t, `["a"]`, string(jsonRawOrArray([]byte(`["a"]`))))
	})

	t.Run("jsonList", func(t *testing.T) {
		got, err := jsonList(nil)
		require.NoError(t, err)
		assert.Equal(t, `[]`, got)

		got, err = jsonList([]string{"You both enjoy Hiking"})
		require.NoError(t, err)
		assert.JSONEq(t, `["You both enjoy Hiking"]`, got)
	})

	t.Run("writeError", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusTeapot, "short_and_stout")
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"short_and_stout"}`, w.Body.String())
	})

	t.Run("decodeJSON body limit", func(t *testing.T) {
		body := `{"content":"` + strings.Repeat("x", 2<<20) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		var dst map[string]string
		assert.False(t, decodeJSON(w, req, &dst))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
