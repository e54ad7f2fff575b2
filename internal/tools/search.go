package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// academicKeywords mark a search result as being about an institution or
// programme.
var academicKeywords = []string{"university", "college", "school", "institute", "academic", "ranking", "program"}

// SearchResult is one organic web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// IsAcademic reports whether the title or snippet mentions an academic keyword.
func (r SearchResult) IsAcademic() bool {
	text := strings.ToLower(r.Title + " " + r.Snippet)
	for _, kw := range academicKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// WebSearchConfig configures WebSearch.
type WebSearchConfig struct {
	BaseURL   string
	APIKey    string
	Results   int
	RateLimit float64
	Timeout   time.Duration
	Client    *http.Client
}

// WebSearch queries the Serper search API.
type WebSearch struct {
	cfg     WebSearchConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

var _ reasoning.Tool = (*WebSearch)(nil)

// NewWebSearch returns a web_search tool.
func NewWebSearch(cfg WebSearchConfig, logger *logging.Logger) *WebSearch {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Results <= 0 {
		cfg.Results = 10
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	ws := &WebSearch{cfg: cfg, client: client, logger: logger.Named("search")}
	if cfg.RateLimit > 0 {
		ws.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return ws
}

// WebSearchFromConfig builds the tool from application config.
func WebSearchFromConfig(cfg config.SearchConfig, logger *logging.Logger) *WebSearch {
	return NewWebSearch(WebSearchConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey.Value(),
		Results:   cfg.Results,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.Timeout.Duration(),
	}, logger)
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Description() string {
	return "Search the web. Returns titles, links and snippets of the top results."
}

func (w *WebSearch) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "query", Type: "string", Description: "the search query", Required: true},
		{Name: "max_results", Type: "integer", Description: "number of results, at most 20"},
		{Name: "academic_only", Type: "boolean", Description: "keep only results about universities and programmes"},
	}
}

func (w *WebSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	n, err := intArg(args, "max_results", w.cfg.Results)
	if err != nil {
		return "", err
	}
	results, err := w.Search(ctx, query, clamp(n, 1, 20))
	if err != nil {
		return "", err
	}
	if boolArg(args, "academic_only") {
		results = FilterAcademic(results)
	}
	return formatResults(query, results), nil
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Organic []SearchResult `json:"organic"`
}

// Search runs query and returns the organic results.
func (w *WebSearch) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	if w.cfg.APIKey == "" {
		return nil, fmt.Errorf("web search: %w", config.ErrMissingCredential)
	}
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(serperRequest{Q: query, Num: n})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", w.cfg.APIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var sr serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if len(sr.Organic) > n {
		sr.Organic = sr.Organic[:n]
	}
	w.logger.Debug(ctx, "web search", zap.String("query", query), zap.Int("results", len(sr.Organic)))
	return sr.Organic, nil
}

// FilterAcademic keeps the results that mention an academic keyword.
func FilterAcademic(results []SearchResult) []SearchResult {
	var out []SearchResult
	for _, r := range results {
		if r.IsAcademic() {
			out = append(out, r)
		}
	}
	return out
}

func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return "No results found for: " + query
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, r.Title, r.Link)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String()
}
