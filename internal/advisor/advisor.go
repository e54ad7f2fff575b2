// Package advisor runs the university recommendation end to end: it makes
// sure the catalog index is loaded, runs the crew pipeline over the
// student's profile, matches catalog programmes and writes the report.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/fyrsmithlabs/uniguide/internal/report"
	"go.uber.org/zap"
)

// CoordinatorStage is the stage whose output becomes the recommendation.
const CoordinatorStage = "coordinate"

const defaultQuery = "M.Tech Artificial Intelligence"

// CatalogIndex is the index access the advisor needs.
type CatalogIndex interface {
	EnsureLoaded(ctx context.Context, src index.Source) error
	QueryText(ctx context.Context, text string, k int) ([]index.Match, error)
}

// Store is the profile access the advisor needs.
type Store interface {
	pipeline.ProfileStore
	Get(key string, def any) any
}

// Recommendation is the outcome of one Recommend call.
type Recommendation struct {
	RunID       string             `json:"run_id"`
	Status      pipeline.RunStatus `json:"status"`
	Results     map[string]string  `json:"results"`
	Unavailable []string           `json:"unavailable"`
	Summary     string             `json:"summary"`
	Matches     []report.Row       `json:"matches"`
	Reports     report.Paths       `json:"reports"`

	// CatalogError and ReportError describe non-fatal failures.
	CatalogError string `json:"catalog_error,omitempty"`
	ReportError  string `json:"report_error,omitempty"`

	Run *pipeline.Run `json:"-"`
}

// Advisor is safe for concurrent use when its pipeline, index and writer are.
type Advisor struct {
	pipeline    *pipeline.Pipeline
	index       CatalogIndex
	source      index.Source
	writer      *report.Writer
	matches     int
	reportLimit int
	now         func() time.Time
	logger      *logging.Logger
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithIndex enables catalog matching against idx, loading it from src
// when it has not been built.
func WithIndex(idx CatalogIndex, src index.Source) Option {
	return func(a *Advisor) {
		a.index = idx
		a.source = src
	}
}

// WithReportWriter writes reports after every run.
func WithReportWriter(w *report.Writer) Option {
	return func(a *Advisor) { a.writer = w }
}

// WithMatches sets how many catalog programmes are matched per run and how
// many of them go into the report table.
func WithMatches(matches, reportLimit int) Option {
	return func(a *Advisor) {
		if matches > 0 {
			a.matches = matches
		}
		if reportLimit > 0 {
			a.reportLimit = reportLimit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l.Named("advisor")
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// New returns an Advisor running p.
func New(p *pipeline.Pipeline, opts ...Option) (*Advisor, error) {
	if p == nil {
		return nil, errors.New("advisor: pipeline is required")
	}
	a := &Advisor{
		pipeline:    p,
		matches:     15,
		reportLimit: 15,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Pipeline returns the pipeline the advisor runs.
func (a *Advisor) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Recommend runs the pipeline over the profile in store.
//
// Stage failures and catalog or report problems never fail the call; they
// are listed in the Recommendation. When ctx is cancelled mid-run the
// partial Recommendation is returned together with ctx.Err().
func (a *Advisor) Recommend(ctx context.Context, store Store, opts ...pipeline.RunOption) (*Recommendation, error) {
	rec := &Recommendation{}

	matches, err := a.matchCatalog(ctx, store)
	if err != nil {
		a.logger.Warn(ctx, "catalog matching unavailable", zap.Error(err))
		rec.CatalogError = err.Error()
	}
	programs := make([]catalog.Program, len(matches))
	for i, m := range matches {
		programs[i] = catalog.ProgramFromMetadata(m.ID, m.Metadata)
	}

	run, runErr := a.pipeline.Run(ctx, store, opts...)
	if run == nil {
		return nil, runErr
	}
	rec.Matches = report.RowsFromPrograms(orderByRanking(programs, a.ranking(run)), a.reportLimit)
	rec.Run = run
	rec.RunID = run.ID
	rec.Status = run.Status
	rec.Results = run.Results()
	rec.Unavailable = run.Unavailable()
	if rec.Unavailable == nil {
		rec.Unavailable = []string{}
	}
	rec.Summary = Summarize(run)

	if a.writer != nil {
		title := report.Title(len(rec.Matches), stringValue(store, profile.KeyPreferredCourse), firstCountry(store))
		paths, err := a.writer.Write(context.WithoutCancel(ctx), title, report.Recommendation{
			Student:     stringValue(store, profile.KeyName),
			RunID:       run.ID,
			Status:      string(run.Status),
			Generated:   a.now(),
			Summary:     rec.Summary,
			Unavailable: rec.Unavailable,
			Rows:        rec.Matches,
		})
		rec.Reports = paths
		if err != nil {
			rec.ReportError = err.Error()
		}
	}

	a.logger.Info(ctx, "recommendation ready",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("matches", len(rec.Matches)),
		zap.Strings("unavailable", rec.Unavailable))
	return rec, runErr
}

// matchCatalog queries the index for the student's course and countries
// and orders programmes in a target country first, keeping index order
// otherwise.
func (a *Advisor) matchCatalog(ctx context.Context, store Store) ([]index.Match, error) {
	if a.index == nil {
		return nil, nil
	}
	if err := a.index.EnsureLoaded(ctx, a.source); err != nil {
		return nil, fmt.Errorf("loading catalog index: %w", err)
	}
	matches, err := a.index.QueryText(ctx, CatalogQuery(store), a.matches)
	if err != nil {
		return nil, fmt.Errorf("querying catalog index: %w", err)
	}

	countries := countrySet(store)
	if len(countries) == 0 {
		return matches, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return countries[strings.ToLower(matches[i].Metadata[catalog.ColCountry])] &&
			!countries[strings.ToLower(matches[j].Metadata[catalog.ColCountry])]
	})
	return matches, nil
}

// ranking returns the output of the stage that writes the selected
// universities, or "" when that stage did not succeed.
func (a *Advisor) ranking(run *pipeline.Run) string {
	for _, spec := range a.pipeline.Stages() {
		if spec.ProfileKey != profile.KeySelectedUniversities {
			continue
		}
		if st := run.Stage(spec.Name); st == nil || st.Status != pipeline.StageSucceeded {
			return ""
		}
		out, _ := run.Result(spec.Name)
		return out
	}
	return ""
}

// orderByRanking moves programmes whose university the ranking names to
// the front, in the order the ranking first mentions them. The rest keep
// their catalog order.
func orderByRanking(programs []catalog.Program, ranking string) []catalog.Program {
	text := strings.ToLower(ranking)
	if strings.TrimSpace(text) == "" {
		return programs
	}
	type mention struct {
		program catalog.Program
		pos     int
	}
	mentions := make([]mention, len(programs))
	for i, p := range programs {
		pos := -1
		if u := strings.ToLower(strings.TrimSpace(p.University)); u != "" {
			pos = strings.Index(text, u)
		}
		mentions[i] = mention{program: p, pos: pos}
	}
	sort.SliceStable(mentions, func(i, j int) bool {
		a, b := mentions[i].pos, mentions[j].pos
		if a < 0 || b < 0 {
			return a >= 0 && b < 0
		}
		return a < b
	})
	out := make([]catalog.Program, len(mentions))
	for i, m := range mentions {
		out[i] = m.program
	}
	return out
}

// CatalogQuery builds the free-text catalog query for a profile.
func CatalogQuery(store Store) string {
	parts := []string{}
	if course := stringValue(store, profile.KeyPreferredCourse); course != "" {
		parts = append(parts, "M.Tech "+course)
	}
	if countries := listValue(store, profile.KeyPreferredCountries); len(countries) > 0 {
		parts = append(parts, strings.Join(countries, " "))
	}
	if len(parts) == 0 {
		return defaultQuery
	}
	return strings.Join(parts, " ")
}

// Summarize returns the coordinator output, prefixed by a note naming the
// sections that failed. When the coordinator itself failed the summary
// says so instead of repeating its error marker.
func Summarize(run *pipeline.Run) string {
	unavailable := run.Unavailable()
	var b strings.Builder
	if len(unavailable) > 0 {
		fmt.Fprintf(&b, "Note: the following sections were unavailable and are not reflected in this recommendation: %s.\n\n",
			strings.Join(unavailable, ", "))
	}

	out, ok := run.Result(CoordinatorStage)
	st := run.Stage(CoordinatorStage)
	switch {
	case st == nil || !ok:
		b.WriteString("No recommendation was produced.")
	case st.Status != pipeline.StageSucceeded:
		b.WriteString("The final recommendation could not be produced.")
		if st.Err != nil {
			fmt.Fprintf(&b, " Cause: %v.", st.Err)
		}
	default:
		b.WriteString(out)
	}
	return strings.TrimSpace(b.String())
}

func stringValue(store Store, key string) string {
	s, _ := store.Get(key, "").(string)
	return strings.TrimSpace(s)
}

func listValue(store Store, key string) []string {
	switch v := store.Get(key, nil).(type) {
	case []string:
		return v
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return []string{v}
		}
	}
	return nil
}

func firstCountry(store Store) string {
	if c := listValue(store, profile.KeyPreferredCountries); len(c) > 0 {
		return c[0]
	}
	return ""
}

func countrySet(store Store) map[string]bool {
	list := listValue(store, profile.KeyPreferredCountries)
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, c := range list {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return set
}
