// Package catalog loads the university program catalog from CSV.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/index"
)

var (
	// ErrSourceNotFound is returned when the catalog file does not exist.
	ErrSourceNotFound = errors.New("catalog source not found")

	// ErrMalformedSource is returned for a missing required column or a
	// row that cannot be parsed.
	ErrMalformedSource = errors.New("malformed catalog source")
)

// Column names. URL is optional.
const (
	ColUniversity   = "university"
	ColName         = "name"
	ColDuration     = "duration"
	ColRanking      = "ranking"
	ColTuition      = "tuition"
	ColScholarships = "scholarships"
	ColCountry      = "country"
	ColURL          = "url"
)

var requiredColumns = []string{
	ColUniversity, ColName, ColDuration, ColRanking, ColTuition, ColScholarships, ColCountry,
}

// Program is one catalog row. Index is the zero-based row number.
type Program struct {
	Index        int    `json:"index"`
	University   string `json:"university"`
	Name         string `json:"name"`
	Duration     string `json:"duration"`
	Ranking      string `json:"ranking"`
	Tuition      string `json:"tuition"`
	Scholarships string `json:"scholarships"`
	Country      string `json:"country"`
	URL          string `json:"url,omitempty"`
}

// ID is the stable index id for the program.
func (p Program) ID() string { return "program_" + strconv.Itoa(p.Index) }

// Document is the text embedded for similarity search.
func (p Program) Document() string {
	return strings.Join([]string{p.University, p.Name, p.Duration}, " ")
}

// Metadata returns the program fields keyed by column name.
func (p Program) Metadata() map[string]string {
	md := map[string]string{
		ColUniversity:   p.University,
		ColName:         p.Name,
		ColDuration:     p.Duration,
		ColRanking:      p.Ranking,
		ColTuition:      p.Tuition,
		ColScholarships: p.Scholarships,
		ColCountry:      p.Country,
	}
	if p.URL != "" {
		md[ColURL] = p.URL
	}
	return md
}

// ProgramFromMetadata rebuilds a program from index metadata.
func ProgramFromMetadata(id string, md map[string]string) Program {
	p := Program{
		Index:        -1,
		University:   md[ColUniversity],
		Name:         md[ColName],
		Duration:     md[ColDuration],
		Ranking:      md[ColRanking],
		Tuition:      md[ColTuition],
		Scholarships: md[ColScholarships],
		Country:      md[ColCountry],
		URL:          md[ColURL],
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(id, "program_")); err == nil {
		p.Index = n
	}
	return p
}

// Catalog is an immutable list of programs.
type Catalog struct {
	programs []Program
}

// Load reads the catalog at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads a catalog from CSV with a header row. Header names are
// matched case-insensitively and may appear in any order.
func Parse(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedSource)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedSource, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", ErrMalformedSource, strings.Join(missing, ", "))
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var programs []Program
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		p := Program{
			Index:        len(programs),
			University:   field(row, ColUniversity),
			Name:         field(row, ColName),
			Duration:     field(row, ColDuration),
			Ranking:      field(row, ColRanking),
			Tuition:      field(row, ColTuition),
			Scholarships: field(row, ColScholarships),
			Country:      field(row, ColCountry),
			URL:          field(row, ColURL),
		}
		if p.University == "" || p.Name == "" {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: university and name are required", ErrMalformedSource, line)
		}
		programs = append(programs, p)
	}
	return &Catalog{programs: programs}, nil
}

// Programs returns the programs in file order.
func (c *Catalog) Programs() []Program {
	out := make([]Program, len(c.programs))
	copy(out, c.programs)
	return out
}

func (c *Catalog) Len() int { return len(c.programs) }

// Lookup finds a program by ID.
func (c *Catalog) Lookup(id string) (Program, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "program_"))
	if err != nil || !strings.HasPrefix(id, "program_") || n < 0 || n >= len(c.programs) {
		return Program{}, false
	}
	return c.programs[n], true
}

// Entries returns the programs as index entries.
func (c *Catalog) Entries(context.Context) ([]index.Entry, error) {
	entries := make([]index.Entry, len(c.programs))
	for i, p := range c.programs {
		entries[i] = index.Entry{ID: p.ID(), Document: p.Document(), Metadata: p.Metadata()}
	}
	return entries, nil
}

// FileSource reloads the catalog file on every rebuild.
type FileSource struct {
	Path string
}

var (
	_ index.Source = (*Catalog)(nil)
	_ index.Source = FileSource{}
)

func (s FileSource) Entries(ctx context.Context) ([]index.Entry, error) {
	c, err := Load(s.Path)
	if err != nil {
		return nil, err
	}
	return c.Entries(ctx)
}
