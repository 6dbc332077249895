package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/logging"
)

// Field is a semantic property field resolved from the DOM
type Field string

const (
	FieldPrice        Field = "price"
	FieldAddress      Field = "address"
	FieldBedrooms     Field = "bedrooms"
	FieldBathrooms    Field = "bathrooms"
	FieldSqft         Field = "sqft"
	FieldPropertyType Field = "propertyType"
	FieldLocation     Field = "location"
)

var attrName = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// Matcher is one candidate query for a field: a CSS selector and an
// optional attribute to read instead of the element text
type Matcher struct {
	Selector string
	Attr     string
	sel      cascadia.Selector
}

// ParseMatcher parses "selector" or "selector@attr"
func ParseMatcher(raw string) (Matcher, error) {
	raw = strings.TrimSpace(raw)
	m := Matcher{Selector: raw}
	if i := strings.LastIndex(raw, "@"); i > 0 && attrName.MatchString(raw[i+1:]) {
		m.Selector = strings.TrimSpace(raw[:i])
		m.Attr = raw[i+1:]
	}
	sel, err := cascadia.Compile(m.Selector)
	if err != nil {
		return m, fmt.Errorf("compile selector %q: %w", m.Selector, err)
	}
	m.sel = sel
	return m, nil
}

// value returns the trimmed content of the first matching element with
// non-empty content
func (m Matcher) value(root *goquery.Selection) string {
	if m.sel == nil {
		return ""
	}
	var out string
	root.FindMatcher(m.sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m.Attr != "" {
			v, _ := s.Attr(m.Attr)
			out = strings.TrimSpace(v)
		} else {
			out = strings.TrimSpace(s.Text())
		}
		return out == ""
	})
	return out
}

// Resolver resolves semantic fields against ordered candidate matchers
type Resolver struct {
	rules  map[Field][]Matcher
	logger *zap.Logger
}

// NewResolver builds a resolver from a selector catalog. Candidates that
// fail to compile stay in the table and never match.
func NewResolver(catalog map[string][]string, logger *zap.Logger) *Resolver {
	logger = logging.OrNop(logger)
	r := &Resolver{
		rules:  make(map[Field][]Matcher, len(catalog)),
		logger: logger,
	}
	for name, candidates := range catalog {
		for _, raw := range candidates {
			m, err := ParseMatcher(raw)
			if err != nil {
				logger.Debug("Invalid selector treated as no-match",
					zap.String("field", name), zap.Error(err))
			}
			r.rules[Field(name)] = append(r.rules[Field(name)], m)
		}
	}
	return r
}

// Resolve returns the value of the first candidate that yields non-empty
// content. ok is false when every candidate misses.
func (r *Resolver) Resolve(root *goquery.Selection, field Field) (value string, ok bool) {
	if root == nil {
		return "", false
	}
	for _, m := range r.rules[field] {
		if v := m.value(root); v != "" {
			return v, true
		}
	}
	return "", false
}

// Matchers returns the candidate list for field
func (r *Resolver) Matchers(field Field) []Matcher {
	return append([]Matcher(nil), r.rules[field]...)
}
