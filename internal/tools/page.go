package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/fetch"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
)

// FetchPage returns the text of a web page in chunks.
type FetchPage struct {
	fetcher   fetch.PageFetcher
	timeout   time.Duration
	chunkSize int
}

var _ reasoning.Tool = (*FetchPage)(nil)

// NewFetchPage returns a fetch_page tool.
func NewFetchPage(f fetch.PageFetcher, timeout time.Duration, chunkSize int) *FetchPage {
	return &FetchPage{fetcher: f, timeout: timeout, chunkSize: chunkSize}
}

func (p *FetchPage) Name() string { return "fetch_page" }

func (p *FetchPage) Description() string {
	return "Fetch a web page such as a curriculum or fee page and return its text. Long pages are split into numbered chunks."
}

func (p *FetchPage) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "url", Type: "string", Description: "absolute http(s) URL", Required: true},
		{Name: "chunk", Type: "integer", Description: "1-based chunk number, default 1"},
	}
}

func (p *FetchPage) Call(ctx context.Context, args map[string]any) (string, error) {
	u, err := stringArg(args, "url")
	if err != nil {
		return "", err
	}
	n, err := intArg(args, "chunk", 1)
	if err != nil {
		return "", err
	}

	text, err := p.fetcher.Fetch(ctx, u, p.timeout)
	if err != nil {
		return "", err
	}
	chunks := fetch.Split(text, p.chunkSize)
	if len(chunks) == 0 {
		return "The page has no readable text.", nil
	}
	if n < 1 || n > len(chunks) {
		return "", fmt.Errorf("chunk %d out of range, page has %d", n, len(chunks))
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}
	return fmt.Sprintf("[chunk %d of %d]\n%s", n, len(chunks), chunks[n-1]), nil
}
