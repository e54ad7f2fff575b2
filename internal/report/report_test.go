package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func programs() []catalog.Program {
	return []catalog.Program{
		{University: "University of Melbourne", Name: "Master of Data Science", Duration: "2 years", Ranking: "4",
			Tuition: "AUD 49000", Scholarships: "Graduate Research Scholarship", URL: "https://www.unimelb.edu.au"},
		{University: "IISc Bangalore", Name: "M.Tech CDS", Ranking: "2", Tuition: "INR 200000", Scholarships: "MHRD\tstipend"},
		{University: "ETH Zurich", Name: "MSc CS", Ranking: "7", Tuition: "CHF 1500"},
	}
}

func TestRowsFromPrograms(t *testing.T) {
	rows := RowsFromPrograms(programs(), 0)
	require.Len(t, rows, 3)
	assert.Equal(t, "Master of Data Science (2 years)", rows[0].Curriculum)
	assert.Equal(t, "2709700.00", rows[0].TuitionINR)
	assert.Equal(t, "M.Tech CDS", rows[1].Curriculum)
	assert.Equal(t, "200000.00", rows[1].TuitionINR)
	assert.Equal(t, "Conversion Error: Unsupported currency: CHF", rows[2].TuitionINR)

	assert.Len(t, RowsFromPrograms(programs(), 2), 2)
}

func TestTuitionInINR(t *testing.T) {
	assert.Equal(t, "8350.00", TuitionInINR("$100"))
	assert.Equal(t, "10520.00", TuitionInINR("100 GBP"))
	assert.Equal(t, "Conversion Error: Invalid amount", TuitionInINR("free"))
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	rows := RowsFromPrograms(programs(), 0)
	require.NoError(t, WriteTable(&buf, Title(3, "Data Science", "Australia"), rows))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "Top 3 Universities for M.Tech in Data Science in Australia", lines[0])
	assert.Equal(t, ruleHeavy, lines[1])
	assert.Equal(t, "University Name\tRanking\tScholarships\tCurriculum\tURL", lines[2])
	assert.Equal(t, ruleLight, lines[3])
	assert.Equal(t, "University of Melbourne\t4\tGraduate Research Scholarship\tMaster of Data Science (2 years)\thttps://www.unimelb.edu.au", lines[4])
	assert.Equal(t, "IISc Bangalore\t2\tMHRD stipend\tM.Tech CDS\tN/A", lines[5])
	assert.Equal(t, 5, strings.Count(lines[6], "\t")+1)

	assert.Contains(t, buf.String(), "Tuition (INR)")
	assert.Contains(t, buf.String(), "University of Melbourne\tAUD 49000\t2709700.00")
}

func TestWriteTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, Title(15, "", ""), nil))
	assert.Equal(t, "Top 15 Universities for M.Tech in Artificial Intelligence\n"+
		ruleHeavy+"\nUniversity Name\tRanking\tScholarships\tCurriculum\tURL\n"+ruleLight+"\n", buf.String())
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	rec := Recommendation{
		Student:     "Asha",
		RunID:       "run-1",
		Status:      "COMPLETED_WITH_ERRORS",
		Generated:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Summary:     "Apply to Melbourne.",
		Unavailable: []string{"fees"},
		Rows:        RowsFromPrograms(programs()[:1], 0),
	}
	require.NoError(t, WriteMarkdown(&buf, rec))
	out := buf.String()

	assert.Contains(t, out, "- Generated: 2025-03-01")
	assert.Contains(t, out, "- Run: run-1 (COMPLETED_WITH_ERRORS)")
	assert.Contains(t, out, "**Unavailable sections:** fees.")
	assert.Contains(t, out, "Apply to Melbourne.")
	assert.Contains(t, out, "| University of Melbourne | Master of Data Science (2 years) | 4 | AUD 49000 | 2709700.00 |")

	buf.Reset()
	require.NoError(t, WriteMarkdown(&buf, Recommendation{}))
	assert.Contains(t, buf.String(), "_No recommendation was produced._")
	assert.NotContains(t, buf.String(), "Unavailable")
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	log := logging.NewTestLogger()
	w := NewWriter(dir, log.Logger)

	paths, err := w.Write(context.Background(), "Top", Recommendation{Summary: "ok", Rows: RowsFromPrograms(programs(), 0)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, TableFile), paths.Table)
	assert.Equal(t, filepath.Join(dir, RecommendationFile), paths.Recommendation)

	table, err := os.ReadFile(paths.Table)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(table), "Top\n"))
	log.AssertLogged(t, zapcore.InfoLevel, "report written")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriter_PersistenceError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	log := logging.NewTestLogger()
	w := NewWriter(filepath.Join(blocker, "sub"), log.Logger)

	paths, err := w.Write(context.Background(), "Top", Recommendation{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, paths.Table)
	assert.Empty(t, paths.Recommendation)
	log.AssertLogged(t, zapcore.WarnLevel, "report table not written")
	log.AssertLogged(t, zapcore.WarnLevel, "recommendation not written")
}
