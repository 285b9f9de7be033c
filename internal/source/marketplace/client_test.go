package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `<table><tr id="dRow" data-price="100"><td><span id="titleText"><a href="https://www.ebay.com/itm/1">Hobby Box</a></span></td></tr></table>`

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		Timeout:     2 * time.Second,
		MaxAttempts: 5,
		UserAgent:   "test-agent",
	}
}

func TestFetch_PostsSearchTerm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2025 bowman draft jumbo", r.PostForm.Get("query"))
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, testLogger())

	body, err := c.Fetch(context.Background(), "2025 bowman draft jumbo")
	require.NoError(t, err)
	assert.Equal(t, okBody, string(body))
}

func TestFetch_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, testLogger())

	_, err := c.Fetch(context.Background(), "term")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_Exhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, testLogger())

	_, err := c.Fetch(context.Background(), "term")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchExhausted))
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(5), calls.Load())
}

func TestFetch_BlockPageCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><title>Just a moment...</title><body>Checking your browser</body></html>"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 2
	c := NewClient(cfg, nil, testLogger())

	_, err := c.Fetch(context.Background(), "term")
	assert.True(t, errors.Is(err, ErrFetchExhausted))
	assert.True(t, errors.Is(err, ErrBlocked))
}

func TestFetch_ResultRowsAreNotSniffed(t *testing.T) {
	body := `<table><tr id="dRow" data-price="100"><td><span id="titleText"><a href="https://www.ebay.com/itm/1">Access Denied Hobby Box</a></span></td></tr></table>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil, testLogger()).Fetch(context.Background(), "term")
	assert.NoError(t, err)
}

// proxyServer plays an HTTP forward proxy: it receives the absolute-form request
// meant for the upstream endpoint.
func proxyServer(t *testing.T, status int, hits *atomic.Int32) *Proxy {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "upstream.test", r.URL.Host)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(okBody))
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &Proxy{Host: u.Hostname(), Port: u.Port()}
}

func TestFetch_RotatesAwayFromFailedProxy(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := proxyServer(t, http.StatusForbidden, &badHits)
	good := proxyServer(t, http.StatusOK, &goodHits)

	pool := NewPool([]Proxy{*bad, *good}, firstIndex)
	cfg := testConfig("http://upstream.test/search")
	cfg.UseProxies = true
	c := NewClient(cfg, pool, testLogger())

	_, err := c.Fetch(context.Background(), "term")
	require.NoError(t, err)
	assert.Equal(t, int32(1), badHits.Load())
	assert.Equal(t, int32(1), goodHits.Load())
	assert.Equal(t, 1, pool.Available())
}

func TestFetch_ProxiesDisabledGoesDirect(t *testing.T) {
	var proxyHits atomic.Int32
	p := proxyServer(t, http.StatusOK, &proxyHits)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.UseProxies = false
	c := NewClient(cfg, NewPool([]Proxy{*p}, nil), testLogger())

	_, err := c.Fetch(context.Background(), "term")
	require.NoError(t, err)
	assert.Equal(t, int32(0), proxyHits.Load())
	assert.Equal(t, 1, c.PoolSize())
}

func TestFetch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.InitialBackoff = time.Minute
	c := NewClient(cfg, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, "term")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetch_LimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxBodyBytes = 10
	body, err := NewClient(cfg, nil, testLogger()).Fetch(context.Background(), "term")
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{initialBackoff: 100 * time.Millisecond, maxBackoff: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, c.calculateBackoff(1))
	assert.Equal(t, 200*time.Millisecond, c.calculateBackoff(2))
	assert.Equal(t, 300*time.Millisecond, c.calculateBackoff(3))

	c = &Client{}
	assert.Zero(t, c.calculateBackoff(4))
}
