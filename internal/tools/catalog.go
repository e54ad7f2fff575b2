package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
)

// TextSearcher answers free-text nearest-neighbour queries.
type TextSearcher interface {
	QueryText(ctx context.Context, text string, k int) ([]index.Match, error)
}

// CatalogSearch looks programmes up in the catalog index.
type CatalogSearch struct {
	index    TextSearcher
	defaultK int
}

var _ reasoning.Tool = (*CatalogSearch)(nil)

// NewCatalogSearch returns a catalog_search tool.
func NewCatalogSearch(idx TextSearcher, defaultK int) *CatalogSearch {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &CatalogSearch{index: idx, defaultK: defaultK}
}

func (c *CatalogSearch) Name() string { return "catalog_search" }

func (c *CatalogSearch) Description() string {
	return "Find M.Tech programmes in the catalog most similar to a description, with ranking, tuition, scholarships and country."
}

func (c *CatalogSearch) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "query", Type: "string", Description: "programme, university or subject to look for", Required: true},
		{Name: "k", Type: "integer", Description: "number of programmes to return, at most 25"},
	}
}

func (c *CatalogSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	q, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	k, err := intArg(args, "k", c.defaultK)
	if err != nil {
		return "", err
	}
	matches, err := c.index.QueryText(ctx, q, clamp(k, 1, 25))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "The catalog is empty.", nil
	}

	var sb strings.Builder
	for i, m := range matches {
		p := catalog.ProgramFromMetadata(m.ID, m.Metadata)
		fmt.Fprintf(&sb, "%d. %s - %s (%s)\n", i+1, p.University, p.Name, p.Country)
		fmt.Fprintf(&sb, "   duration: %s; ranking: %s; tuition: %s; scholarships: %s\n",
			p.Duration, p.Ranking, p.Tuition, p.Scholarships)
		if p.URL != "" {
			fmt.Fprintf(&sb, "   %s\n", p.URL)
		}
		fmt.Fprintf(&sb, "   distance: %.4f\n", m.Distance)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
