package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const coursePage = `<!doctype html>
<html><head><title>M.Tech CSE</title><style>body{color:red}</style></head>
<body>
<nav>Home | About</nav>
<h1>M.Tech in Computer Science</h1>
<p>Core courses:   Algorithms,  Systems.</p>
<ul><li>Machine Learning</li><li>Distributed Systems</li></ul>
<script>var x = 1;</script>
<footer>Copyright</footer>
</body></html>`

func TestExtractText(t *testing.T) {
	text, err := ExtractText(strings.NewReader(coursePage))
	require.NoError(t, err)

	assert.Contains(t, text, "M.Tech in Computer Science")
	assert.Contains(t, text, "Core courses: Algorithms, Systems.")
	assert.Contains(t, text, "- Machine Learning")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Home | About")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "\n\n\n")
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/course":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, coursePage)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "fees:    INR 2,00,000")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{UserAgent: "uniguide-test"}, nil)
	ctx := context.Background()

	text, err := f.Fetch(ctx, srv.URL+"/course", time.Second)
	require.NoError(t, err)
	assert.Contains(t, text, "Distributed Systems")
	assert.Equal(t, "uniguide-test", agent.Load())

	text, err = f.Fetch(ctx, srv.URL+"/plain", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fees: INR 2,00,000", text)

	_, err = f.Fetch(ctx, srv.URL+"/missing", time.Second)
	assert.ErrorIs(t, err, ErrStatus)
	assert.ErrorContains(t, err, "404")
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(HTTPConfig{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidateURL(t *testing.T) {
	f := NewHTTPFetcher(HTTPConfig{}, nil)
	for _, u := range []string{"", "ftp://example.com", "/relative", "http://", "file:///etc/passwd"} {
		_, err := f.Fetch(context.Background(), u, time.Second)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

type fakeFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ time.Duration) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if strings.Contains(url, "bad") {
		return "", errors.New("boom")
	}
	return "text of " + url, nil
}

func TestFetchAll(t *testing.T) {
	ff := &fakeFetcher{}
	log := logging.NewTestLogger()
	urls := []string{"u1", "bad1", "u2", "u3", "bad2", "u4"}

	results := FetchAll(context.Background(), ff, urls, time.Second, 2, log.Logger)

	require.Len(t, results, len(urls))
	for i, r := range results {
		assert.Equal(t, urls[i], r.URL)
		if strings.HasPrefix(r.URL, "bad") {
			assert.Error(t, r.Err)
			assert.Empty(t, r.Text)
		} else {
			assert.NoError(t, r.Err)
			assert.Equal(t, "text of "+r.URL, r.Text)
		}
	}
	assert.LessOrEqual(t, ff.peak.Load(), int32(2))
	log.AssertLogged(t, zapcore.WarnLevel, "page fetch failed")
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split("   ", 10))
	assert.Equal(t, []string{"short"}, Split("short", 10))
	assert.Equal(t, []string{"no limit here"}, Split("no limit here", 0))

	text := "first paragraph\n\nsecond one here\nthird line"
	chunks := Split(text, 20)
	assert.Equal(t, []string{"first paragraph", "second one here", "third line"}, chunks)

	long := strings.Repeat("ü", 25)
	chunks = Split(long, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("ü", 10), chunks[0])
	assert.Equal(t, strings.Repeat("ü", 5), chunks[2])
}

func TestNew(t *testing.T) {
	f, err := New(config.FetchConfig{Mode: "http"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	f, err = New(config.FetchConfig{Mode: "browser", BrowserURL: "ws://127.0.0.1:9222"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BrowserFetcher{}, f)

	_, err = New(config.FetchConfig{Mode: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
