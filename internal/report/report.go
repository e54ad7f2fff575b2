// Package report writes the ranked-university table and the final
// recommendation to disk.
//
// Both files are written through a temp file and a rename. A failed write
// is a PersistenceError; callers log it and carry on, the in-memory
// recommendation stays the source of truth.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/currency"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
)

// File names written into the report directory.
const (
	TableFile          = "output.txt"
	RecommendationFile = "recommendation.md"
)

const (
	ruleHeavy = "==============================================================="
	ruleLight = "---------------------------------------------------------------"
)

// ErrPersistence matches every PersistenceError.
var ErrPersistence = errors.New("report persistence failed")

// PersistenceError reports a failed report write.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("report write %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Row is one ranked university.
type Row struct {
	University   string `json:"university"`
	Ranking      string `json:"ranking"`
	Scholarships string `json:"scholarships"`
	Curriculum   string `json:"curriculum"`
	URL          string `json:"url"`
	Tuition      string `json:"tuition"`

	// TuitionINR is the converted tuition, or the conversion error message.
	TuitionINR string `json:"tuition_inr"`
}

// RowsFromPrograms turns ranked programmes into report rows, keeping at
// most limit of them. limit <= 0 keeps all.
func RowsFromPrograms(programs []catalog.Program, limit int) []Row {
	if limit > 0 && len(programs) > limit {
		programs = programs[:limit]
	}
	rows := make([]Row, len(programs))
	for i, p := range programs {
		curriculum := p.Name
		if p.Duration != "" {
			curriculum += " (" + p.Duration + ")"
		}
		rows[i] = Row{
			University:   p.University,
			Ranking:      p.Ranking,
			Scholarships: p.Scholarships,
			Curriculum:   curriculum,
			URL:          p.URL,
			Tuition:      p.Tuition,
			TuitionINR:   TuitionInINR(p.Tuition),
		}
	}
	return rows
}

// TuitionInINR converts a catalog tuition string to rupees, formatted to
// two decimals. Unparseable or unsupported values produce an error message.
func TuitionInINR(tuition string) string {
	code, amount, err := catalog.ParseTuition(tuition)
	if err != nil {
		return "Conversion Error: Invalid amount"
	}
	if code == currency.Target {
		return strconv.FormatFloat(amount, 'f', 2, 64)
	}
	inr, err := currency.ToINR(amount, code)
	if err != nil {
		return "Conversion Error: " + currency.Message(err, code)
	}
	return strconv.FormatFloat(inr, 'f', 2, 64)
}

// Title builds the table heading for a course and country.
func Title(n int, course, country string) string {
	if course == "" {
		course = "Artificial Intelligence"
	}
	t := fmt.Sprintf("Top %d Universities for M.Tech in %s", n, course)
	if country != "" {
		t += " in " + country
	}
	return t
}

// WriteTable writes the tab-separated university table followed by the
// tuition conversion section.
func WriteTable(w io.Writer, title string, rows []Row) error {
	var b bytes.Buffer
	b.WriteString(title + "\n")
	b.WriteString(ruleHeavy + "\n")
	b.WriteString("University Name\tRanking\tScholarships\tCurriculum\tURL\n")
	b.WriteString(ruleLight + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n",
			cell(r.University), cell(r.Ranking), cell(r.Scholarships), cell(r.Curriculum), cell(r.URL))
	}

	if len(rows) > 0 {
		b.WriteString("\nTuition (INR)\n")
		b.WriteString(ruleLight + "\n")
		b.WriteString("University Name\tTuition\tTuition (INR)\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "%s\t%s\t%s\n", cell(r.University), cell(r.Tuition), cell(r.TuitionINR))
		}
	}
	_, err := w.Write(b.Bytes())
	return err
}

// cell keeps a value on one line and out of neighbouring columns.
func cell(s string) string {
	s = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	if s = strings.TrimSpace(s); s == "" {
		return "N/A"
	}
	return s
}

// Recommendation is the content of the markdown recommendation file.
type Recommendation struct {
	Student     string
	RunID       string
	Status      string
	Generated   time.Time
	Summary     string
	Unavailable []string
	Rows        []Row
}

// WriteMarkdown renders rec as markdown.
func WriteMarkdown(w io.Writer, rec Recommendation) error {
	var b bytes.Buffer
	b.WriteString("# University Recommendation\n\n")
	if rec.Student != "" {
		fmt.Fprintf(&b, "- Student: %s\n", rec.Student)
	}
	fmt.Fprintf(&b, "- Generated: %s\n", rec.Generated.Format("2006-01-02"))
	if rec.RunID != "" {
		fmt.Fprintf(&b, "- Run: %s (%s)\n", rec.RunID, rec.Status)
	}

	if len(rec.Unavailable) > 0 {
		b.WriteString("\n> **Unavailable sections:** ")
		b.WriteString(strings.Join(rec.Unavailable, ", "))
		b.WriteString(". These parts of the analysis failed and are not reflected below.\n")
	}

	b.WriteString("\n## Recommendation\n\n")
	if s := strings.TrimSpace(rec.Summary); s != "" {
		b.WriteString(s + "\n")
	} else {
		b.WriteString("_No recommendation was produced._\n")
	}

	if len(rec.Rows) > 0 {
		b.WriteString("\n## Matching programmes\n\n")
		b.WriteString("| University | Programme | Ranking | Tuition | Tuition (INR) | Scholarships |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range rec.Rows {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				mdCell(r.University), mdCell(r.Curriculum), mdCell(r.Ranking),
				mdCell(r.Tuition), mdCell(r.TuitionINR), mdCell(r.Scholarships))
		}
	}
	_, err := w.Write(b.Bytes())
	return err
}

func mdCell(s string) string {
	return strings.ReplaceAll(cell(s), "|", `\|`)
}

// Writer writes reports into a directory.
type Writer struct {
	dir    string
	logger *logging.Logger
}

// NewWriter returns a Writer for dir.
func NewWriter(dir string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{dir: dir, logger: logger.Named("report")}
}

// Paths are the files a Write produced.
type Paths struct {
	Table          string `json:"table,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Write writes the table and the recommendation. Each file is attempted
// independently; failures are logged and joined into the returned error.
func (w *Writer) Write(ctx context.Context, title string, rec Recommendation) (Paths, error) {
	var paths Paths
	var errs []error

	tablePath := filepath.Join(w.dir, TableFile)
	if err := writeAtomic(ctx, tablePath, func(out io.Writer) error {
		return WriteTable(out, title, rec.Rows)
	}); err != nil {
		w.logger.Warn(ctx, "report table not written", zap.String("path", tablePath), zap.Error(err))
		errs = append(errs, err)
	} else {
		paths.Table = tablePath
	}

	recPath := filepath.Join(w.dir, RecommendationFile)
	if err := writeAtomic(ctx, recPath, func(out io.Writer) error {
		return WriteMarkdown(out, rec)
	}); err != nil {
		w.logger.Warn(ctx, "recommendation not written", zap.String("path", recPath), zap.Error(err))
		errs = append(errs, err)
	} else {
		paths.Recommendation = recPath
	}

	if len(errs) == 0 {
		w.logger.Info(ctx, "report written",
			zap.String("table", paths.Table),
			zap.String("recommendation", paths.Recommendation),
			zap.Int("rows", len(rec.Rows)))
	}
	return paths, errors.Join(errs...)
}

func writeAtomic(ctx context.Context, path string, render func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}
