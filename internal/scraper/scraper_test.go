package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williampepple1/lead-tracker/internal/config"
)

func testConfig() *config.AppConfig {
	cfg := config.CreateDefault()
	cfg.Loader.RetryDelay = time.Millisecond
	cfg.Loader.Timeout = 5 * time.Second
	return cfg
}

func TestHTTPLoader_Load(t *testing.T) {
	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Write([]byte(`<html><body><span class="price">$1</span></body></html>`))
	}))
	defer srv.Close()

	l := NewHTTPLoader(testConfig(), nil)
	page, err := l.Load(context.Background(), srv.URL+"/property/1")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/property/1", page.URL)
	assert.Equal(t, "$1", page.Doc.Find(".price").Text())
	assert.Equal(t, config.DefaultUserAgents[0], <-agents)
}

func TestHTTPLoader_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Loader.MaxRetries = 2
	_, err := NewHTTPLoader(cfg, nil).Load(context.Background(), srv.URL)

	assert.ErrorContains(t, err, "non-200")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFileLoaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listing.html")
	require.NoError(t, os.WriteFile(path, []byte(`<h1 class="address">1 Elm</h1>`), 0644))

	page, err := New(testConfig(), nil).Load(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "1 Elm", page.Doc.Find(".address").Text())
	assert.Contains(t, page.URL, "listing.html")

	page, err = NewFixedLoader(path).Load(context.Background(), "https://example.com/property/1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/property/1", page.URL)

	_, err = NewFileLoader().Load(context.Background(), filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}
