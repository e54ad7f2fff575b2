package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/uniguide/internal/advisor"
	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type mockRecommender struct {
	mock.Mock
}

func (m *mockRecommender) Recommend(ctx context.Context, store advisor.Store, opts ...pipeline.RunOption) (*advisor.Recommendation, error) {
	args := m.Called(ctx, store)
	rec, _ := args.Get(0).(*advisor.Recommendation)
	return rec, args.Error(1)
}

type fakeIndex struct {
	matches    []index.Match
	queryErr   error
	rebuildErr error
	generation int
	count      int
	lastQuery  string
	lastK      int
	rebuilds   int
}

func (f *fakeIndex) QueryText(_ context.Context, text string, k int) ([]index.Match, error) {
	f.lastQuery, f.lastK = text, k
	return f.matches, f.queryErr
}

func (f *fakeIndex) Rebuild(context.Context, index.Source) error {
	f.rebuilds++
	if f.rebuildErr != nil {
		return f.rebuildErr
	}
	f.generation++
	return nil
}

func (f *fakeIndex) Generation() int    { return f.generation }
func (f *fakeIndex) Collection() string { return fmt.Sprintf("programs_v%d", f.generation) }

func (f *fakeIndex) Count(context.Context) (int, error) {
	if f.generation == 0 {
		return 0, index.ErrIndexNotBuilt
	}
	return f.count, nil
}

func memorySessions() *Sessions {
	return NewSessions(func(context.Context, string) (*profile.Store, error) {
		return profile.NewStore(), nil
	})
}

type testServer struct {
	*Server
	rec  *mockRecommender
	idx  *fakeIndex
	logs *logging.TestLogger
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	rec := &mockRecommender{}
	idx := &fakeIndex{}
	logs := logging.NewTestLogger()
	src := index.SourceFunc(func(context.Context) ([]index.Entry, error) { return nil, nil })

	srv, err := NewServer(memorySessions(), rec, logs.Logger, nil, WithCatalog(idx, src))
	require.NoError(t, err)
	return &testServer{Server: srv, rec: rec, idx: idx, logs: logs}
}

func (ts *testServer) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echoHeaderContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestNewServer(t *testing.T) {
	logger := logging.NewTestLogger().Logger

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(memorySessions(), &mockRecommender{}, logger, nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", srv.config.Host)
		assert.Equal(t, 9191, srv.config.Port)
	})

	t.Run("keeps given config", func(t *testing.T) {
		cfg := &Config{Host: "0.0.0.0", Port: 8080}
		srv, err := NewServer(memorySessions(), &mockRecommender{}, logger, cfg)
		require.NoError(t, err)
		assert.Same(t, cfg, srv.config)
	})

	t.Run("requires dependencies", func(t *testing.T) {
		_, err := NewServer(nil, &mockRecommender{}, logger, nil)
		assert.ErrorContains(t, err, "sessions cannot be nil")

		_, err = NewServer(memorySessions(), nil, logger, nil)
		assert.ErrorContains(t, err, "recommender cannot be nil")

		_, err = NewServer(memorySessions(), &mockRecommender{}, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Catalog)
	assert.Equal(t, 0, resp.Catalog.Generation)
	assert.Equal(t, -1, resp.Catalog.Records)

	ts.idx.generation, ts.idx.count = 3, 42
	rec = ts.do(http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "programs_v3", resp.Catalog.Collection)
	assert.Equal(t, 42, resp.Catalog.Records)

	ts.logs.AssertLogged(t, zapcore.InfoLevel, "http request")
}

func TestHandleHealth_NoCatalog(t *testing.T) {
	srv, err := NewServer(memorySessions(), &mockRecommender{}, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "catalog")
}

func TestProfile(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("empty profile", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/profile", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"profile":{}}`, rec.Body.String())
	})

	t.Run("merge and read back", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/api/v1/profile",
			`{"name":"Asha","btech_cgpa":8.7,"preferred_countries":"USA, UK"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ProfileResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Asha", resp.Profile[profile.KeyName])
		assert.Equal(t, 8.7, resp.Profile[profile.KeyBTechCGPA])
		assert.Equal(t, []any{"USA", "UK"}, resp.Profile[profile.KeyPreferredCountries])
		assert.Empty(t, resp.Warning)

		rec = ts.do(http.MethodGet, "/api/v1/profile", "")
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Asha", resp.Profile[profile.KeyName])
	})

	t.Run("validation error leaves profile unchanged", func(t *testing.T) {
		rec := ts.do(http.MethodPut, "/api/v1/profile", `{"name":"Other","btech_cgpa":12}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, profile.KeyBTechCGPA, resp.Field)

		rec = ts.do(http.MethodGet, "/api/v1/profile", "")
		assert.Contains(t, rec.Body.String(), `"Asha"`)
	})

	t.Run("bad bodies", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/v1/profile", `{not json`).Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/v1/profile", `{}`).Code)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/profile", "", HeaderSessionID, "other-student")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"profile":{}}`, rec.Body.String())
		assert.Equal(t, 2, ts.sessions.Len())
	})

	t.Run("invalid session id", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/profile", "", HeaderSessionID, "../etc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRecommend(t *testing.T) {
	t.Run("returns recommendation", func(t *testing.T) {
		ts := setupTestServer(t)
		want := &advisor.Recommendation{
			RunID:       "run-1",
			Status:      pipeline.RunCompleted,
			Summary:     "Apply to IISc.",
			Unavailable: []string{},
		}
		ts.rec.On("Recommend", mock.Anything, mock.Anything).Return(want, nil).Once()

		rec := ts.do(http.MethodPost, "/api/v1/recommendations", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got advisor.Recommendation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "Apply to IISc.", got.Summary)
		ts.rec.AssertExpectations(t)
	})

	t.Run("uses the session store", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.do(http.MethodPut, "/api/v1/profile", `{"name":"Ravi"}`, HeaderSessionID, "ravi")

		ts.rec.On("Recommend", mock.Anything, mock.MatchedBy(func(s advisor.Store) bool {
			return s.Get(profile.KeyName, "") == "Ravi"
		})).Return(&advisor.Recommendation{RunID: "r"}, nil).Once()

		rec := ts.do(http.MethodPost, "/api/v1/recommendations", "", HeaderSessionID, "ravi")
		assert.Equal(t, http.StatusOK, rec.Code)
		ts.rec.AssertExpectations(t)
	})

	t.Run("failure", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.rec.On("Recommend", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

		rec := ts.do(http.MethodPost, "/api/v1/recommendations", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
		ts.logs.AssertLogged(t, zapcore.ErrorLevel, "recommendation failed")
	})

	t.Run("cancelled run returns partial result", func(t *testing.T) {
		ts := setupTestServer(t)
		partial := &advisor.Recommendation{RunID: "r2", Status: pipeline.RunCompletedWithErrors, Unavailable: []string{"fees"}}
		ts.rec.On("Recommend", mock.Anything, mock.Anything).Return(partial, context.Canceled).Once()

		rec := ts.do(http.MethodPost, "/api/v1/recommendations", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), `"r2"`)
	})
}

func TestCatalogSearch(t *testing.T) {
	ts := setupTestServer(t)
	ts.idx.generation = 1
	ts.idx.matches = []index.Match{{
		ID:       "program_4",
		Document: "IISc Bangalore M.Tech AI 2 years",
		Metadata: map[string]string{
			catalog.ColUniversity: "IISc Bangalore",
			catalog.ColName:       "M.Tech AI",
			catalog.ColCountry:    "India",
		},
		Distance: 0.12,
	}}

	rec := ts.do(http.MethodGet, "/api/v1/catalog/search?q=artificial+intelligence&k=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "artificial intelligence", ts.idx.lastQuery)
	assert.Equal(t, 3, ts.idx.lastK)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 4, resp.Results[0].Program.Index)
	assert.Equal(t, "IISc Bangalore", resp.Results[0].Program.University)

	t.Run("defaults k", func(t *testing.T) {
		ts.do(http.MethodGet, "/api/v1/catalog/search?q=ai", "")
		assert.Equal(t, 10, ts.idx.lastK)
	})

	t.Run("bad params", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/catalog/search", "").Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/catalog/search?q=ai&k=0", "").Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/catalog/search?q=ai&k=many", "").Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/catalog/search?q=ai&k=51", "").Code)
	})

	t.Run("index not built", func(t *testing.T) {
		ts.idx.queryErr = index.ErrIndexNotBuilt
		defer func() { ts.idx.queryErr = nil }()
		assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/api/v1/catalog/search?q=ai", "").Code)
	})
}

func TestCatalogRebuild(t *testing.T) {
	ts := setupTestServer(t)
	ts.idx.count = 7

	rec := ts.do(http.MethodPost, "/api/v1/catalog/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st CatalogStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Generation)
	assert.Equal(t, 7, st.Records)

	ts.idx.rebuildErr = fmt.Errorf("loading catalog: %w", catalog.ErrMalformedSource)
	rec = ts.do(http.MethodPost, "/api/v1/catalog/rebuild", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "malformed catalog source")
	require.NotNil(t, resp.Catalog)
	assert.Equal(t, 1, resp.Catalog.Generation, "previous generation stays active")

	ts.idx.rebuildErr = errors.New("backend unavailable")
	assert.Equal(t, http.StatusInternalServerError, ts.do(http.MethodPost, "/api/v1/catalog/rebuild", "").Code)
	ts.logs.AssertLogged(t, zapcore.WarnLevel, "catalog rebuild failed")
}

func TestCatalogEndpoints_NotConfigured(t *testing.T) {
	srv, err := NewServer(memorySessions(), &mockRecommender{}, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/v1/catalog/search?q=ai"},
		{http.MethodPost, "/api/v1/catalog/rebuild"},
	} {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.target)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDHeader(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// A malformed client id is echoed back but kept out of the log context.
	rec = ts.do(http.MethodGet, "/health", "", "X-Request-Id", "bad id!")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessions(t *testing.T) {
	opened := 0
	s := NewSessions(func(context.Context, string) (*profile.Store, error) {
		opened++
		return profile.NewStore(), nil
	})
	ctx := context.Background()

	a, err := s.Get(ctx, "")
	require.NoError(t, err)
	b, err := s.Get(ctx, DefaultSession)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, opened)

	_, err = s.Get(ctx, strings.Repeat("x", 65))
	assert.ErrorIs(t, err, ErrInvalidSession)

	failing := NewSessions(func(context.Context, string) (*profile.Store, error) {
		return nil, errors.New("disk full")
	})
	_, err = failing.Get(ctx, "s1")
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, failing.Len())
}
