package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "programs.csv"))
	require.NoError(t, err)
	require.Equal(t, 6, c.Len())

	p := c.Programs()[0]
	assert.Equal(t, "program_0", p.ID())
	assert.Equal(t, "IIT Bombay M.Tech Artificial Intelligence 2 years", p.Document())
	assert.Equal(t, "https://www.iitb.ac.in", p.URL)

	got, ok := c.Lookup("program_4")
	require.True(t, ok)
	assert.Equal(t, "Imperial College London", got.University)
	assert.Equal(t, "President's PhD Scholarship", got.Scholarships)

	_, ok = c.Lookup("program_99")
	assert.False(t, ok)
	_, ok = c.Lookup("4")
	assert.False(t, ok)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty", "", "empty file"},
		{"missing columns", "university,name\nIIT,M.Tech\n", "missing column(s) duration, ranking, tuition, scholarships, country"},
		{"short row", "university,name,duration,ranking,tuition,scholarships,country\nIIT,M.Tech,2 years\n", "wrong number of fields"},
		{"blank name", "university,name,duration,ranking,tuition,scholarships,country\nIIT,,2 years,1,INR 1,none,India\n", "line 2"},
		{"bad quote", "university,name,duration,ranking,tuition,scholarships,country\n\"IIT,M.Tech,2,1,x,y,z\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrMalformedSource)
			if tt.wantMsg != "" {
				assert.ErrorContains(t, err, tt.wantMsg)
			}
		})
	}
}

func TestParse_HeaderOrderAndCase(t *testing.T) {
	input := "Country, University,NAME,duration,ranking,tuition,scholarships\nIndia,IIT Madras,M.Tech Data Science,2 years,4,INR 1,none\n"
	c, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	p := c.Programs()[0]
	assert.Equal(t, "IIT Madras", p.University)
	assert.Equal(t, "India", p.Country)
	assert.Empty(t, p.URL)
	assert.NotContains(t, p.Metadata(), ColURL)
}

func TestEntries(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "programs.csv"))
	require.NoError(t, err)

	entries, err := c.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "program_5", entries[5].ID)
	assert.Equal(t, "Carnegie Mellon University MS in Machine Learning 2 years", entries[5].Document)
	assert.Equal(t, "United States", entries[5].Metadata[ColCountry])

	fromFile, err := FileSource{Path: filepath.Join("testdata", "programs.csv")}.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entries, fromFile)

	p := ProgramFromMetadata(entries[5].ID, entries[5].Metadata)
	assert.Equal(t, c.Programs()[5], p)
}

func TestParseTuition(t *testing.T) {
	tests := []struct {
		in     string
		cur    string
		amount float64
		ok     bool
	}{
		{"USD 45,000", "USD", 45000, true},
		{"45000 GBP", "GBP", 45000, true},
		{"$58,000", "USD", 58000, true},
		{"£38000", "GBP", 38000, true},
		{"aud 49000.50", "AUD", 49000.5, true},
		{"", "", 0, false},
		{"free", "", 0, false},
		{"USD abc", "", 0, false},
		{"US 100", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cur, amount, err := ParseTuition(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cur, cur)
			assert.InDelta(t, tt.amount, amount, 1e-9)
		})
	}
}
