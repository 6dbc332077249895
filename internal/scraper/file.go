package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FileLoader reads saved pages from disk
type FileLoader struct{}

// NewFileLoader creates a new file loader
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Load parses the file named by a file:// URL or a plain path. The page
// URL is reported as file://<absolute path>.
func (l *FileLoader) Load(ctx context.Context, rawURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := FilePath(rawURL)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Page{URL: "file://" + filepath.ToSlash(abs), Doc: doc}, nil
}

// FilePath strips the file:// scheme
func FilePath(rawURL string) string {
	return strings.TrimPrefix(rawURL, "file://")
}

// FixedLoader serves one file from disk for whatever URL is requested.
// It pairs a saved page with the URL it was captured from.
type FixedLoader struct {
	Path string
	file *FileLoader
}

// NewFixedLoader creates a loader that always reads path
func NewFixedLoader(path string) *FixedLoader {
	return &FixedLoader{Path: path, file: NewFileLoader()}
}

// Load parses Path and reports it as rawURL
func (l *FixedLoader) Load(ctx context.Context, rawURL string) (*Page, error) {
	page, err := l.file.Load(ctx, l.Path)
	if err != nil {
		return nil, err
	}
	page.URL = rawURL
	return page, nil
}
