package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/proxy"
)

// HTTPLoader loads static pages over HTTP
type HTTPLoader struct {
	Config *config.AppConfig
	Proxy  *proxy.Manager
	client *http.Client
	logger *zap.Logger
	next   atomic.Uint32
}

// NewHTTPLoader creates a new HTTP loader
func NewHTTPLoader(config *config.AppConfig, logger *zap.Logger) *HTTPLoader {
	manager := proxy.NewManager(&config.Proxies)
	return &HTTPLoader{
		Config: config,
		Proxy:  manager,
		client: manager.Client(config.Loader.Timeout),
		logger: logging.OrNop(logger).Named("loader"),
	}
}

// Load fetches a URL and parses it, retrying transient failures
func (l *HTTPLoader) Load(ctx context.Context, url string) (*Page, error) {
	var lastErr error

	for attempt := 0; attempt <= l.Config.Loader.MaxRetries; attempt++ {
		if attempt > 0 {
			// Wait before retrying
			retryWait := l.Config.Loader.RetryDelay * time.Duration(attempt)
			l.logger.Debug("Retrying page load",
				zap.String("url", url),
				zap.Duration("wait", retryWait),
				zap.Int("attempt", attempt))
			select {
			case <-time.After(retryWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		page, err := l.fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("load %s: %w", url, lastErr)
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	// Rotate through the configured user agents
	if agents := l.Config.Loader.UserAgents; len(agents) > 0 {
		i := int(l.next.Add(1)-1) % len(agents)
		req.Header.Set("User-Agent", agents[i])
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Page{URL: resp.Request.URL.String(), Doc: doc}, nil
}
