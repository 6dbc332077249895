package scraper

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
)

// Page is a loaded and parsed document
type Page struct {
	URL string
	Doc *goquery.Document
}

// Loader defines the interface for loading a page
type Loader interface {
	Load(ctx context.Context, url string) (*Page, error)
}

// New creates a loader based on the configuration. file:// URLs are
// always read from disk.
func New(config *config.AppConfig, logger *zap.Logger) Loader {
	var remote Loader
	if config.Browser.Enabled {
		remote = NewBrowserLoader(config, logger)
	} else {
		remote = NewHTTPLoader(config, logger)
	}
	return &router{remote: remote, file: NewFileLoader()}
}

type router struct {
	remote Loader
	file   Loader
}

func (r *router) Load(ctx context.Context, rawURL string) (*Page, error) {
	if isFileURL(rawURL) {
		return r.file.Load(ctx, rawURL)
	}
	return r.remote.Load(ctx, rawURL)
}

func isFileURL(rawURL string) bool {
	if strings.HasPrefix(rawURL, "file://") {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == ""
}
