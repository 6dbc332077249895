package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
)

// BrowserLoader loads pages through headless Chrome so scripted listing
// widgets are rendered before extraction
type BrowserLoader struct {
	Config *config.AppConfig
	logger *zap.Logger
}

// NewBrowserLoader creates a new browser loader
func NewBrowserLoader(config *config.AppConfig, logger *zap.Logger) *BrowserLoader {
	return &BrowserLoader{
		Config: config,
		logger: logging.OrNop(logger).Named("browser"),
	}
}

// AllocatorOptions returns the Chrome flags for the browser configuration
func AllocatorOptions(cfg *config.BrowserConfig) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
	)
}

// Load renders a URL and parses the resulting DOM
func (l *BrowserLoader) Load(ctx context.Context, url string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, l.Config.Loader.Timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, AllocatorOptions(&l.Config.Browser)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	html, location, err := RenderHTML(browserCtx, url, l.Config.Browser.WaitTime)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	l.logger.Debug("Rendered page", zap.String("url", location), zap.Int("bytes", len(html)))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return &Page{URL: location, Doc: doc}, nil
}

// RenderHTML navigates browserCtx to url, waits and returns the outer HTML
// and final location
func RenderHTML(browserCtx context.Context, url string, wait time.Duration) (string, string, error) {
	var html, location string
	tasks := []chromedp.Action{
		chromedp.Navigate(url),
	}
	if wait > 0 {
		tasks = append(tasks, chromedp.Sleep(wait))
	}
	tasks = append(tasks,
		chromedp.OuterHTML("html", &html),
		chromedp.Location(&location),
	)
	if err := chromedp.Run(browserCtx, tasks...); err != nil {
		return "", "", err
	}
	return html, location, nil
}
