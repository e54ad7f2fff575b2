package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// BrowserConfig configures a BrowserFetcher.
type BrowserConfig struct {
	// ControlURL is a DevTools websocket URL. Empty launches a local
	// headless browser on first use.
	ControlURL string
}

// BrowserFetcher renders pages in a headless browser, for university sites
// that build their content with scripts.
type BrowserFetcher struct {
	cfg    BrowserConfig
	logger *logging.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewBrowserFetcher returns a BrowserFetcher. The browser starts lazily.
func NewBrowserFetcher(cfg BrowserConfig, logger *logging.Logger) *BrowserFetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BrowserFetcher{cfg: cfg, logger: logger.Named("browser")}
}

func (b *BrowserFetcher) connect(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	b.browser = browser
	b.logger.Info(ctx, "browser connected", zap.Bool("launched", b.launcher != nil))
	return browser, nil
}

// Fetch implements PageFetcher.
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	browser, err := b.connect(ctx)
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("open %s: %w", rawURL, err)
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("load %s: %w", rawURL, err)
	}
	doc, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return ExtractText(strings.NewReader(doc))
}

// Close shuts the browser down and cleans up a launched process.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
	return err
}
