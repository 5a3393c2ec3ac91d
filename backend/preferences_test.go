package main

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesValidate(t *testing.T) {
	base := defaultPreferences

	tests := []struct {
		name   string
		mutate func(p *preferences)
		want   string
	}{
		{"Defaults", func(p *preferences) {}, ""},
		{"Too young", func(p *preferences) { p.MinAge = 17 }, "invalid_age_range"},
		{"Too old", func(p *preferences) { p.MaxAge = 100 }, "invalid_age_range"},
		{"Inverted range", func(p *preferences) { p.MinAge, p.MaxAge = 40, 30 }, "invalid_age_range"},
		{"Zero distance", func(p *preferences) { p.MaxDistance = 0 }, "invalid_max_distance"},
		{"Huge distance", func(p *preferences) { p.MaxDistance = 501 }, "invalid_max_distance"},
		{"Unknown gender", func(p *preferences) { p.LookingFor = []string{"female", "cat"} }, "invalid_gender"},
		{"Empty looking for", func(p *preferences) { p.LookingFor = nil }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(&p)
			assert.Equal(t, tt.want, p.validate())
		})
	}

	t.Run("Normalises genders", func(t *testing.T) {
		p := base()
		p.LookingFor = []string{" Female", "female", "MALE"}
		require.Empty(t, p.validate())
		assert.Equal(t, []string{"female", "male"}, p.LookingFor)
	})
}

func TestPreferencesHandlers(t *testing.T) {
	prefQuery := "FROM preferences WHERE user_id"
	prefColumns := []string{"min_age", "max_age", "looking_for", "max_distance", "show_me"}

	t.Run("Defaults when missing", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery(prefQuery).WithArgs(1).WillReturnRows(sqlmock.NewRows(prefColumns))

		w := serve(s.getPreferencesHandler(), newRequest(http.MethodGet, "/profiles/me/preferences", nil, 1, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var got preferences
		decodeBody(t, w, &got)
		assert.Equal(t, defaultPreferences(), got)
	})

	t.Run("Partial update keeps other fields", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery(prefQuery).WithArgs(1).
			WillReturnRows(sqlmock.NewRows(prefColumns).AddRow(25, 35, "{male}", 30, true))
		mock.ExpectExec("INSERT INTO preferences").
			WithArgs(1, 25, 40, sqlmock.AnyArg(), 30, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := serve(s.updatePreferencesHandler(), newRequest(http.MethodPut, "/profiles/me/preferences", map[string]int{"max_age": 40}, 1, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got preferences
		decodeBody(t, w, &got)
		assert.Equal(t, preferences{MinAge: 25, MaxAge: 40, LookingFor: []string{"male"}, MaxDistance: 30, ShowMe: true}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalid update", func(t *testing.T) {
		s, mock := newTestServer(t)
		mock.ExpectQuery(prefQuery).WithArgs(1).WillReturnRows(sqlmock.NewRows(prefColumns))

		w := serve(s.updatePreferencesHandler(), newRequest(http.MethodPut, "/profiles/me/preferences", map[string]int{"min_age": 60, "max_age": 20}, 1, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_age_range", errorCode(t, w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
