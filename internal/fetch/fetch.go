// Package fetch retrieves web pages as plain text for the curriculum and
// fee stages.
package fetch

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")

	// ErrStatus is returned when the server answers with a non-2xx status.
	ErrStatus = errors.New("unexpected status")
)

// PageFetcher returns the visible text of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Result is the outcome of fetching one URL in a batch.
type Result struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Err  error  `json:"-"`
}

// FetchAll fetches urls with at most concurrency requests in flight. A
// failed URL is recorded in its Result and never aborts the batch. Results
// keep the order of urls.
func FetchAll(ctx context.Context, f PageFetcher, urls []string, timeout time.Duration, concurrency int, logger *logging.Logger) []Result {
	if logger == nil {
		logger = logging.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		results[i].URL = u
		g.Go(func() error {
			text, err := f.Fetch(gctx, u, timeout)
			if err != nil {
				logger.Warn(gctx, "page fetch failed", zap.String("url", u), zap.Error(err))
				results[i].Err = err
				return nil
			}
			results[i].Text = text
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Split breaks text into chunks of at most max runes, preferring paragraph
// and then line breaks as cut points. A non-positive max returns the text
// as a single chunk.
func Split(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= max {
			chunks = append(chunks, text)
			break
		}
		cut := byteOffset(text, max)
		head := text[:cut]
		if i := strings.LastIndex(head, "\n\n"); i > 0 {
			cut = i
		} else if i := strings.LastIndex(head, "\n"); i > 0 {
			cut = i
		} else if i := strings.LastIndex(head, " "); i > 0 {
			cut = i
		}
		if chunk := strings.TrimSpace(text[:cut]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// New builds the fetcher selected by cfg.Mode.
func New(cfg config.FetchConfig, logger *logging.Logger) (PageFetcher, error) {
	switch cfg.Mode {
	case "browser":
		return NewBrowserFetcher(BrowserConfig{ControlURL: cfg.BrowserURL}, logger), nil
	case "http", "":
		return NewHTTPFetcher(HTTPConfig{
			UserAgent: cfg.UserAgent,
			RateLimit: cfg.RateLimit,
		}, logger), nil
	default:
		return nil, errors.New("fetch: unknown mode " + cfg.Mode)
	}
}
