package advisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/fyrsmithlabs/uniguide/internal/prompt"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/fyrsmithlabs/uniguide/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type mockIndex struct{ mock.Mock }

func (m *mockIndex) EnsureLoaded(ctx context.Context, src index.Source) error {
	return m.Called(ctx, src).Error(0)
}

func (m *mockIndex) QueryText(ctx context.Context, text string, k int) ([]index.Match, error) {
	args := m.Called(ctx, text, k)
	matches, _ := args.Get(0).([]index.Match)
	return matches, args.Error(1)
}

func match(id, univ, country, tuition string) index.Match {
	return index.Match{ID: id, Metadata: map[string]string{
		"university": univ, "name": "M.Tech AI", "duration": "2 years", "ranking": "1",
		"tuition": tuition, "scholarships": "merit", "country": country,
	}}
}

func studentStore(t *testing.T) *profile.Store {
	t.Helper()
	s := profile.NewStore()
	require.NoError(t, s.Merge(context.Background(), map[string]any{
		profile.KeyName:               "Asha",
		profile.KeyPreferredCourse:    "Artificial Intelligence",
		profile.KeyPreferredCountries: "Australia, India",
		profile.KeyBTechCGPA:          8.7,
	}))
	return s
}

func buildDefault(t *testing.T, capability reasoning.Capability, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	crew, err := DefaultCrew()
	require.NoError(t, err)
	p, err := crew.Build(capability, nil, opts...)
	require.NoError(t, err)
	return p
}

func fixedClock() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) }

func TestRecommend_AllStagesSucceed(t *testing.T) {
	stub := reasoning.NewScripted(map[string]reasoning.Script{
		"university_ranker": {Output: "1. University of Melbourne\n2. IIT Bombay"},
		"coordinator":       {Output: "Apply to Melbourne first."},
	})
	idx := &mockIndex{}
	src := index.SourceFunc(func(context.Context) ([]index.Entry, error) { return nil, nil })
	idx.On("EnsureLoaded", mock.Anything, mock.Anything).Return(nil)
	idx.On("QueryText", mock.Anything, "M.Tech Artificial Intelligence Australia India", 15).Return([]index.Match{
		match("program_0", "IIT Bombay", "India", "INR 250000"),
		match("program_5", "Carnegie Mellon University", "United States", "USD 58000"),
		match("program_3", "University of Melbourne", "Australia", "AUD 49000"),
	}, nil)

	dir := t.TempDir()
	log := logging.NewTestLogger()
	a, err := New(buildDefault(t, stub, pipeline.WithClock(fixedClock)),
		WithIndex(idx, src),
		WithReportWriter(report.NewWriter(dir, nil)),
		WithLogger(log.Logger),
		WithClock(fixedClock))
	require.NoError(t, err)

	store := studentStore(t)
	rec, err := a.Recommend(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunCompleted, rec.Status)
	assert.Empty(t, rec.Unavailable)
	assert.Equal(t, "Apply to Melbourne first.", rec.Summary)
	assert.ElementsMatch(t, []string{"collect", "rank", "curriculum", "fees", "application", "coordinate"}, keys(rec.Results))
	assert.Equal(t, "1. University of Melbourne\n2. IIT Bombay", store.Get(profile.KeySelectedUniversities, ""))

	require.Len(t, rec.Matches, 3)
	assert.Equal(t, "University of Melbourne", rec.Matches[0].University)
	assert.Equal(t, "IIT Bombay", rec.Matches[1].University)
	assert.Equal(t, "Carnegie Mellon University", rec.Matches[2].University)
	assert.Equal(t, "4843000.00", rec.Matches[2].TuitionINR)

	table, err := os.ReadFile(filepath.Join(dir, report.TableFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(table), "Top 3 Universities for M.Tech in Artificial Intelligence in Australia\n"))
	assert.Less(t, strings.Index(string(table), "University of Melbourne\t"), strings.Index(string(table), "IIT Bombay\t"))
	md, err := os.ReadFile(filepath.Join(dir, report.RecommendationFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "Apply to Melbourne first.")
	assert.Contains(t, string(md), "- Generated: 2025-01-15")

	coord := stub.RequestsFor("coordinator")
	require.Len(t, coord, 1)
	assert.Contains(t, coord[0].Instruction, "Today is 2025-01-15.")
	assert.Contains(t, coord[0].Instruction, "must not be relied on: none.")
	assert.Contains(t, coord[0].Instruction, "1. University of Melbourne")
	assert.Equal(t, []string{pipeline.DelegateToolName}, reasoning.ToolNames(coord[0].Tools))

	log.AssertLogged(t, zapcore.InfoLevel, "recommendation ready")
	idx.AssertExpectations(t)
}

func TestRecommend_FailedRankingKeepsCatalogOrder(t *testing.T) {
	stub := reasoning.NewScripted(map[string]reasoning.Script{
		"university_ranker": {Err: errors.New("rate limited")},
	})
	idx := &mockIndex{}
	idx.On("EnsureLoaded", mock.Anything, mock.Anything).Return(nil)
	idx.On("QueryText", mock.Anything, mock.Anything, 15).Return([]index.Match{
		match("program_0", "IIT Bombay", "India", "INR 250000"),
		match("program_3", "University of Melbourne", "Australia", "AUD 49000"),
	}, nil)
	a, err := New(buildDefault(t, stub), WithIndex(idx, nil))
	require.NoError(t, err)

	rec, err := a.Recommend(context.Background(), studentStore(t))
	require.NoError(t, err)
	assert.Contains(t, rec.Unavailable, "rank")
	require.Len(t, rec.Matches, 2)
	assert.Equal(t, "IIT Bombay", rec.Matches[0].University)
	assert.Equal(t, "University of Melbourne", rec.Matches[1].University)
}

func TestOrderByRanking(t *testing.T) {
	programs := []catalog.Program{
		{University: "IIT Bombay"},
		{University: "Carnegie Mellon University"},
		{University: "IISc Bangalore"},
		{University: "University of Melbourne"},
	}
	got := orderByRanking(programs, "1. University of Melbourne - strong AI lab\n2. iisc bangalore")
	var names []string
	for _, p := range got {
		names = append(names, p.University)
	}
	assert.Equal(t, []string{"University of Melbourne", "IISc Bangalore", "IIT Bombay", "Carnegie Mellon University"}, names)
	assert.Equal(t, programs, orderByRanking(programs, "  "))
}

func TestRecommend_FailedStageIsReported(t *testing.T) {
	stub := reasoning.NewScripted(map[string]reasoning.Script{
		"fee_advisor": {Err: errors.New("quota exhausted")},
		"coordinator": {Output: "Melbourne, with fees unknown."},
	})
	a, err := New(buildDefault(t, stub))
	require.NoError(t, err)

	rec, err := a.Recommend(context.Background(), studentStore(t))
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunCompletedWithErrors, rec.Status)
	assert.Equal(t, []string{"fees"}, rec.Unavailable)
	assert.Equal(t, "[stage fees failed: quota exhausted]", rec.Results["fees"])
	assert.True(t, strings.HasPrefix(rec.Summary, "Note: the following sections were unavailable"))
	assert.Contains(t, rec.Summary, ": fees.")
	assert.True(t, strings.HasSuffix(rec.Summary, "Melbourne, with fees unknown."))

	coord := stub.RequestsFor("coordinator")[0]
	assert.Contains(t, coord.Instruction, "[stage fees failed: quota exhausted]")
	assert.Contains(t, coord.Instruction, "must not be relied on: fees.")
	assert.Empty(t, rec.Matches)
	assert.Empty(t, rec.CatalogError)
}

func TestRecommend_CoordinatorFails(t *testing.T) {
	stub := reasoning.NewScripted(map[string]reasoning.Script{
		"coordinator": {Output: "   "},
	})
	a, err := New(buildDefault(t, stub))
	require.NoError(t, err)

	rec, err := a.Recommend(context.Background(), studentStore(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"coordinate"}, rec.Unavailable)
	assert.Contains(t, rec.Summary, "The final recommendation could not be produced.")
	assert.Contains(t, rec.Summary, "empty output")
	assert.NotContains(t, rec.Summary, "[stage coordinate failed")
}

func TestRecommend_CatalogErrorIsNotFatal(t *testing.T) {
	idx := &mockIndex{}
	idx.On("EnsureLoaded", mock.Anything, mock.Anything).Return(index.ErrIndexNotBuilt)
	a, err := New(buildDefault(t, reasoning.NewScripted(nil)), WithIndex(idx, nil))
	require.NoError(t, err)

	rec, err := a.Recommend(context.Background(), studentStore(t))
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, rec.Status)
	assert.Contains(t, rec.CatalogError, "index not built")
	assert.Empty(t, rec.Matches)
	idx.AssertNotCalled(t, "QueryText", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecommend_ReportErrorIsNotFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	a, err := New(buildDefault(t, reasoning.NewScripted(nil)),
		WithReportWriter(report.NewWriter(filepath.Join(blocker, "out"), nil)))
	require.NoError(t, err)

	rec, err := a.Recommend(context.Background(), studentStore(t))
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, rec.Status)
	assert.NotEmpty(t, rec.ReportError)
	assert.Empty(t, rec.Reports.Table)
}

func TestRecommend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := reasoning.NewScripted(nil)
	stub.Set("university_ranker", reasoning.Script{Output: "ranked"})
	a, err := New(buildDefault(t, reasoning.CapabilityFunc(func(c context.Context, req reasoning.Request) (string, error) {
		if req.Worker == "university_ranker" {
			cancel()
		}
		return stub.Reason(c, req)
	})))
	require.NoError(t, err)

	rec, err := a.Recommend(ctx, studentStore(t))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	assert.Equal(t, pipeline.RunCompletedWithErrors, rec.Status)
	assert.Equal(t, []string{"curriculum", "fees", "application", "coordinate"}, rec.Unavailable)
	assert.Contains(t, rec.Summary, "No recommendation was produced.")
}

func TestCatalogQuery(t *testing.T) {
	assert.Equal(t, defaultQuery, CatalogQuery(profile.NewStore()))

	s := profile.NewStore()
	require.NoError(t, s.Set(context.Background(), profile.KeyPreferredCourse, "Robotics"))
	assert.Equal(t, "M.Tech Robotics", CatalogQuery(s))
}

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestDefaultCrew(t *testing.T) {
	crew, err := DefaultCrew()
	require.NoError(t, err)
	assert.Equal(t, []string{"collect", "rank", "curriculum", "fees", "application", "coordinate"}, crew.StageNames())
	require.Len(t, crew.Workers, 6)

	var delegating []string
	for _, w := range crew.Workers {
		if w.AllowDelegation {
			delegating = append(delegating, w.Name)
		}
	}
	assert.Equal(t, []string{"coordinator"}, delegating)
	assert.Equal(t, profile.KeySelectedUniversities, crew.Stages[1].ProfileKey)
}

type namedTool struct{ name string }

func (n namedTool) Name() string                      { return n.name }
func (n namedTool) Description() string               { return n.name }
func (n namedTool) Parameters() []reasoning.Parameter { return nil }
func (n namedTool) Call(context.Context, map[string]any) (string, error) {
	return "", nil
}

func TestCrewBuild_Tools(t *testing.T) {
	crew, err := DefaultCrew()
	require.NoError(t, err)
	stub := reasoning.NewScripted(nil)
	tools := map[string]reasoning.Tool{
		ToolCatalogSearch: namedTool{ToolCatalogSearch},
		ToolFetchPage:     namedTool{ToolFetchPage},
	}

	p, err := crew.Build(stub, tools)
	require.NoError(t, err)
	specs := p.Stages()
	assert.Equal(t, []string{ToolCatalogSearch}, reasoning.ToolNames(specs[1].Tools))
	assert.Equal(t, []string{ToolFetchPage}, reasoning.ToolNames(specs[2].Tools))
	assert.Equal(t, []string{ToolFetchPage, ToolCatalogSearch}, reasoning.ToolNames(specs[3].Tools))
	assert.Empty(t, specs[4].Tools)
}

func TestParseCrew_Errors(t *testing.T) {
	_, err := ParseCrew([]byte("workers: []\nstages:\n  - name: a\n    worker: w\n    tools: [teleport]\n"))
	assert.ErrorIs(t, err, ErrInvalidCrew)
	assert.ErrorContains(t, err, `unknown tool "teleport"`)

	_, err = ParseCrew([]byte("workers: []\nsurprise: 1\n"))
	assert.ErrorIs(t, err, ErrInvalidCrew)

	_, err = ParseCrew([]byte("stages:\n  - name: a\n    timeout: soon\n"))
	assert.ErrorContains(t, err, `bad timeout "soon"`)
}

func TestCrewBuild_ForwardReferenceRejected(t *testing.T) {
	crew, err := ParseCrew([]byte(`
workers:
  - name: w
    role: Worker
stages:
  - name: rank
    worker: w
    description: "use {fees_result}"
  - name: fees
    worker: w
    description: "fees"
    timeout: 30s
`))
	require.NoError(t, err)
	_, err = crew.Build(reasoning.NewScripted(nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, prompt.ErrForwardReference)
}

func TestLoadCrew(t *testing.T) {
	c, err := LoadCrew("")
	require.NoError(t, err)
	assert.Len(t, c.Stages, 6)

	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  - name: w\n    role: R\nstages:\n  - name: only\n    worker: w\n    description: hi {name}\n"), 0o600))
	c, err = LoadCrew(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, c.StageNames())

	_, err = LoadCrew(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
