package extraction

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/metrics"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Extractor builds property records from a parsed page
type Extractor struct {
	Config   *config.ExtractionConfig
	Resolver *Resolver

	idPatterns []*regexp.Regexp
	metrics    metrics.Sink
	clock      clock.Clock
	logger     *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithMetrics sets the sink that receives extraction durations
func WithMetrics(s metrics.Sink) Option {
	return func(e *Extractor) { e.metrics = s }
}

// WithClock sets the clock used for record timestamps and durations
func WithClock(c clock.Clock) Option {
	return func(e *Extractor) { e.clock = c }
}

// NewExtractor creates a new property extractor
func NewExtractor(cfg *config.ExtractionConfig, opts ...Option) *Extractor {
	e := &Extractor{Config: cfg}
	for _, o := range opts {
		o(e)
	}
	e.logger = logging.OrNop(e.logger).Named("extraction")
	e.clock = clock.OrReal(e.clock)
	e.Resolver = NewResolver(cfg.Selectors, e.logger)

	for _, pattern := range cfg.IDPatterns {
		reg, err := regexp.Compile(pattern)
		if err != nil {
			e.logger.Warn("Skipping invalid property id pattern",
				zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		e.idPatterns = append(e.idPatterns, reg)
	}
	return e
}

// PropertyID resolves the property id from the page URL only; DOM id
// candidates are never consulted. Returns models.UnknownPropertyID when
// nothing matches.
func (e *Extractor) PropertyID(pageURL string) string {
	for _, reg := range e.idPatterns {
		m := reg.FindStringSubmatch(pageURL)
		if len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return models.UnknownPropertyID
}

// Extract extracts the property record for the page at pageURL
func (e *Extractor) Extract(doc *goquery.Document, pageURL string) models.PropertyRecord {
	start := e.clock.Now()

	record := models.PropertyRecord{
		ID:        e.PropertyID(pageURL),
		URL:       pageURL,
		Timestamp: start,
	}

	var root *goquery.Selection
	if doc != nil {
		root = doc.Selection
	}

	if v, ok := e.lookup(root, FieldPrice); ok {
		record.Price = ParsePrice(v)
	}
	if v, ok := e.lookup(root, FieldAddress); ok {
		record.Address = optionalString(CleanAddress(v))
	}
	if v, ok := e.lookup(root, FieldBedrooms); ok {
		record.Bedrooms = ParseNumber(v)
	}
	if v, ok := e.lookup(root, FieldBathrooms); ok {
		record.Bathrooms = ParseNumber(v)
	}
	if v, ok := e.lookup(root, FieldSqft); ok {
		record.Sqft = ParseNumber(v)
	}
	if v, ok := e.lookup(root, FieldPropertyType); ok {
		record.PropertyType = optionalString(v)
	}
	if v, ok := e.lookup(root, FieldLocation); ok {
		record.Location = optionalString(v)
	} else if record.Address != nil {
		record.Location = optionalString(LocationFromAddress(*record.Address))
	}

	if e.metrics != nil {
		e.metrics.RecordExtraction(e.clock.Now().Sub(start))
	}
	return record
}

func (e *Extractor) lookup(root *goquery.Selection, field Field) (string, bool) {
	v, ok := e.Resolver.Resolve(root, field)
	if !ok {
		e.logger.Debug("Field not found", zap.String("field", string(field)))
	}
	return v, ok
}
