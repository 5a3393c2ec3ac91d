package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/loveai/backend/ai"
	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

// newTestServer returns a server backed by sqlmock, heuristic scoring without
// jitter and a clock frozen at fixedNow.
func newTestServer(t *testing.T) (*server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &server{
		db:        db,
		engine:    match.NewEngine(match.WithJitter(match.NoJitter)),
		hub:       newHub(zap.NewNop()),
		log:       zap.NewNop(),
		secret:    []byte("test-secret-test-secret-test-secret"),
		tokenTTL:  time.Hour,
		uploadDir: t.TempDir(),
		origins:   map[string]bool{"http://localhost:5173": true},
		now:       func() time.Time { return fixedNow },
	}, mock
}

// newRequest builds a request as if it already went through authenticate
// and chi routing.
func newRequest(method, target string, body any, userID int, params map[string]string) *http.Request {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	case io.Reader:
		rd = b
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)

	ctx := req.Context()
	if userID > 0 {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), "body: %s", w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, w, &body)
	return body["error"]
}

// profileFixture is one row of the loadProfiles query.
type profileFixture struct {
	ID        int
	Name      string
	DOB       time.Time
	Gender    string
	Bio       string
	Location  string
	Lat, Lon  any
	Interests []string
}

var profileColumns = []string{
	"user_id", "name", "date_of_birth", "gender", "bio", "occupation", "location",
	"latitude", "longitude", "completion", "onboarding_completed",
	"total_likes", "total_super_likes", "total_matches", "updated_at", "online",
}

// expectProfiles queues the three queries loadProfiles runs.
func expectProfiles(mock sqlmock.Sqlmock, fixtures ...profileFixture) {
	rows := sqlmock.NewRows(profileColumns)
	for _, f := range fixtures {
		rows.AddRow(f.ID, f.Name, f.DOB, f.Gender, f.Bio, "", f.Location,
			f.Lat, f.Lon, 60, true, 0, 0, 0, fixedNow.Add(-time.Hour), false)
	}
	mock.ExpectQuery("FROM profiles p").WillReturnRows(rows)
	if len(fixtures) == 0 {
		return
	}

	interests := sqlmock.NewRows([]string{"user_id", "id", "name", "category"})
	for _, f := range fixtures {
		for i, name := range f.Interests {
			interests.AddRow(f.ID, i+1, name, "Test")
		}
	}
	mock.ExpectQuery("FROM profile_interests pi").WillReturnRows(interests)
	mock.ExpectQuery("FROM photos").WillReturnRows(sqlmock.NewRows([]string{"user_id", "id", "url", "is_primary", "position"}))
}

func alice() profileFixture {
	return profileFixture{
		ID: 1, Name: "Alice", DOB: time.Date(1995, 3, 1, 0, 0, 0, 0, time.UTC), Gender: "female",
		Bio: "I love hiking and coffee", Location: "San Francisco, CA", Lat: 37.77, Lon: -122.42,
		Interests: []string{"Coffee", "Hiking"},
	}
}

func bob() profileFixture {
	return profileFixture{
		ID: 2, Name: "Bob", DOB: time.Date(1993, 7, 9, 0, 0, 0, 0, time.UTC), Gender: "male",
		Bio: "Weekend hiking and travel", Location: "San Francisco", Lat: 37.80, Lon: -122.41,
		Interests: []string{"Hiking", "Travel"},
	}
}

// scriptedModel answers Generate calls from a queue of canned replies and
// fails once the queue is empty.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *scriptedModel) Generate(_ context.Context, _, _ string) (ai.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.replies) == 0 {
		return ai.Completion{Model: "gemini-2.5-flash"}, errors.New("no reply scripted")
	}
	text := m.replies[0]
	m.replies = m.replies[1:]
	return ai.Completion{Text: text, Model: "gemini-2.5-flash"}, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// useModel switches the server's engine to LLM scoring backed by m.
func useModel(s *server, m *scriptedModel) {
	s.engine = match.NewEngine(match.WithJitter(match.NoJitter), match.WithGenerator(m))
}
