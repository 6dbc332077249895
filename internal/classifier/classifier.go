// Package classifier decides what kind of page a document is from its URL
// and a handful of DOM probes. Classification never mutates the document.
package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
)

// PlatformWPL names the WPL real-estate plugin signature
const PlatformWPL = "wpl"

// Classification is the result of classifying a page. Property and Search
// are independent; a listing reached from a search path is both.
type Classification struct {
	Property bool   `json:"isPropertyPage"`
	Search   bool   `json:"isSearchPage"`
	Platform string `json:"platform,omitempty"`
}

// Classifier applies a rule table to pages
type Classifier struct {
	rules  *config.ClassifierConfig
	logger *zap.Logger

	propertySelectors []cascadia.Selector
	searchSelectors   []cascadia.Selector
	wplSelectors      []cascadia.Selector
}

// New compiles the rule table. Selectors that do not compile are dropped.
func New(rules *config.ClassifierConfig, logger *zap.Logger) *Classifier {
	logger = logging.OrNop(logger).Named("classifier")
	return &Classifier{
		rules:             rules,
		logger:            logger,
		propertySelectors: compile(rules.PropertySelectors, logger),
		searchSelectors:   compile(rules.SearchSelectors, logger),
		wplSelectors:      compile(rules.WPLSelectors, logger),
	}
}

func compile(selectors []string, logger *zap.Logger) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			logger.Debug("Dropping invalid selector", zap.String("selector", s), zap.Error(err))
			continue
		}
		out = append(out, sel)
	}
	return out
}

// Classify runs both classifications
func (c *Classifier) Classify(pageURL string, doc *goquery.Document) Classification {
	property, platform := c.isPropertyPage(pageURL, doc)
	return Classification{
		Property: property,
		Search:   c.IsSearchPage(pageURL, doc),
		Platform: platform,
	}
}

// IsPropertyPage reports whether the page shows a single property
func (c *Classifier) IsPropertyPage(pageURL string, doc *goquery.Document) bool {
	ok, _ := c.isPropertyPage(pageURL, doc)
	return ok
}

func (c *Classifier) isPropertyPage(pageURL string, doc *goquery.Document) (bool, string) {
	lower := strings.ToLower(pageURL)

	if containsAny(lower, c.rules.WPLMarkers) || matchesAny(doc, c.wplSelectors) {
		c.logger.Debug("WPL property page signature matched", zap.String("url", pageURL))
		return true, PlatformWPL
	}

	if containsAny(lower, c.rules.PropertyPaths) {
		return true, ""
	}
	return matchesAny(doc, c.propertySelectors), ""
}

// IsSearchPage reports whether the page shows search results or a search form
func (c *Classifier) IsSearchPage(pageURL string, doc *goquery.Document) bool {
	if containsAny(strings.ToLower(pageURL), c.rules.SearchMarkers) {
		return true
	}
	return matchesAny(doc, c.searchSelectors)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func matchesAny(doc *goquery.Document, selectors []cascadia.Selector) bool {
	if doc == nil {
		return false
	}
	for _, sel := range selectors {
		if doc.FindMatcher(sel).Length() > 0 {
			return true
		}
	}
	return false
}
