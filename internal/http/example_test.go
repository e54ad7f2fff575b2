package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/advisor"
	httpserver "github.com/fyrsmithlabs/uniguide/internal/http"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
)

type staticRecommender struct{}

func (staticRecommender) Recommend(ctx context.Context, store advisor.Store, _ ...pipeline.RunOption) (*advisor.Recommendation, error) {
	return &advisor.Recommendation{
		RunID:   "example",
		Summary: fmt.Sprintf("Recommendation for %v", store.Get(profile.KeyName, "student")),
	}, nil
}

// ExampleNewServer shows a profile being filled in and a recommendation
// requested for the same session.
func ExampleNewServer() {
	sessions := httpserver.NewSessions(func(context.Context, string) (*profile.Store, error) {
		return profile.NewStore(), nil
	})
	srv, err := httpserver.NewServer(sessions, staticRecommender{}, logging.NewNop(), nil)
	if err != nil {
		panic(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/profile", strings.NewReader(`{"name":"Asha"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpserver.HeaderSessionID, "asha")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	fmt.Println(rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/recommendations", nil)
	req.Header.Set(httpserver.HeaderSessionID, "asha")
	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	fmt.Println(rec.Code, strings.Contains(rec.Body.String(), "Recommendation for Asha"))
	// Output:
	// 200
	// 200 true
}
