package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/scraper"
)

// FileSource signals when a local HTML file is written or replaced
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource watches path, which may be a file:// URL
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{
		path:   scraper.FilePath(path),
		logger: logging.OrNop(logger).Named("file-source"),
	}
}

// Name implements Source
func (s *FileSource) Name() string { return "file" }

// Run implements Source. The parent directory is watched so editors that
// save by rename are still seen.
func (s *FileSource) Run(ctx context.Context, signal func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	s.logger.Debug("Watching file", zap.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue // chmod, remove
			}
			s.logger.Debug("File changed", zap.String("op", event.Op.String()))
			signal()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

// BrowserSource keeps a headless Chrome tab open on the page and signals
// whenever the rendered outer HTML changes
type BrowserSource struct {
	url      string
	browser  *config.BrowserConfig
	interval time.Duration
	logger   *zap.Logger
}

// NewBrowserSource creates a polling source for url
func NewBrowserSource(url string, browser *config.BrowserConfig, interval time.Duration, logger *zap.Logger) *BrowserSource {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BrowserSource{
		url:      url,
		browser:  browser,
		interval: interval,
		logger:   logging.OrNop(logger).Named("browser-source"),
	}
}

// Name implements Source
func (s *BrowserSource) Name() string { return "browser" }

// Run implements Source
func (s *BrowserSource) Run(ctx context.Context, signal func()) error {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, scraper.AllocatorOptions(s.browser)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	html, _, err := scraper.RenderHTML(browserCtx, s.url, s.browser.WaitTime)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.url, err)
	}
	last := sha256.Sum256([]byte(html))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("Failed to read rendered page", zap.String("url", s.url), zap.Error(err))
				continue
			}
			sum := sha256.Sum256([]byte(html))
			if sum != last {
				last = sum
				s.logger.Debug("Rendered page changed", zap.String("url", s.url))
				signal()
			}
		}
	}
}

// ManualSource signals when Trigger is called
type ManualSource struct {
	triggers chan struct{}
}

// NewManualSource creates a manual source
func NewManualSource() *ManualSource {
	return &ManualSource{triggers: make(chan struct{}, 16)}
}

// Name implements Source
func (s *ManualSource) Name() string { return "manual" }

// Trigger reports a change. It never blocks.
func (s *ManualSource) Trigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Run implements Source
func (s *ManualSource) Run(ctx context.Context, signal func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.triggers:
			signal()
		}
	}
}
