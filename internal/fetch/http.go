package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 2 << 20

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	UserAgent string
	RateLimit float64 // requests per second, 0 disables limiting
	Client    *http.Client
}

// HTTPFetcher fetches pages with plain HTTP GET requests and extracts the
// text from the returned HTML.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// NewHTTPFetcher returns an HTTPFetcher.
func NewHTTPFetcher(cfg HTTPConfig, logger *logging.Logger) *HTTPFetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	f := &HTTPFetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		logger:    logger.Named("fetch"),
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return f
}

// Fetch implements PageFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned %d", ErrStatus, rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	var text string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", rawURL, err)
		}
		text = clean(string(raw))
	} else {
		text, err = ExtractText(body)
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", rawURL, err)
		}
	}

	f.logger.Debug(ctx, "page fetched",
		zap.String("url", rawURL),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
