// Package tracker wires page loading, classification, extraction,
// behavior scoring, pattern analysis, persistence and event delivery into
// one explicitly constructed tracker instance.
//
// A Tracker owns its timers and watcher. Start launches them, Stop cancels
// them and drains pending deliveries, so several trackers can run side by
// side in one process.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/williampepple1/lead-tracker/internal/analyzer"
	"github.com/williampepple1/lead-tracker/internal/behavior"
	"github.com/williampepple1/lead-tracker/internal/classifier"
	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/dispatch"
	"github.com/williampepple1/lead-tracker/internal/extraction"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/metrics"
	"github.com/williampepple1/lead-tracker/internal/proxy"
	"github.com/williampepple1/lead-tracker/internal/scraper"
	"github.com/williampepple1/lead-tracker/internal/store"
	"github.com/williampepple1/lead-tracker/internal/watcher"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Event types dispatched by the tracker itself
const (
	EventPageView             = "page_view"
	EventPropertyView         = "property_view"
	EventSearchPerformed      = "search_performed"
	EventContactIdentified    = "contact_identified"
	EventBehaviorAnalysis     = "behavior_analysis"
	EventSavedSearchSuggested = "saved_search_suggested"
	EventPropertyDataUpdated  = "property_data_updated"
	EventPageUnload           = "page_unload"
)

// ErrStopped is returned when starting a tracker that was already stopped
var ErrStopped = errors.New("tracker: stopped")

// SourceFunc builds the mutation source for a property page
type SourceFunc func(pageURL string) (watcher.Source, error)

// View is what the tracker learned from one loaded page
type View struct {
	URL            string                    `json:"url"`
	Title          string                    `json:"title,omitempty"`
	Classification classifier.Classification `json:"classification"`
	Property       *models.PropertyRecord    `json:"property,omitempty"`
	Search         *models.SearchRecord      `json:"search,omitempty"`
}

// Tracker is one tracking session
type Tracker struct {
	cfg       *config.AppConfig
	sessionID string
	clock     clock.Clock
	logger    *zap.Logger

	loader     scraper.Loader
	classifier *classifier.Classifier
	extractor  *extraction.Extractor
	aggregator *behavior.Aggregator
	analyzer   *analyzer.Analyzer
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	perf       *metrics.Performance
	newSource  SourceFunc

	dispatchOpts []dispatch.Option

	// analyzeMu serializes analysis passes so a slower pass never
	// overwrites the patterns of a newer one
	analyzeMu sync.Mutex

	mu         sync.Mutex
	history    models.BehaviorHistory
	currentURL string
	current    *models.PropertyRecord
	suggested  bool
	last       *analyzer.Result

	lifeMu    sync.Mutex
	running   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	mutations *watcher.Watcher
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock sets the clock shared by every component
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithLoader replaces the page loader
func WithLoader(l scraper.Loader) Option {
	return func(t *Tracker) { t.loader = l }
}

// WithStore replaces the local store opened from configuration
func WithStore(s *store.Store) Option {
	return func(t *Tracker) { t.store = s }
}

// WithDispatchOptions adds options to the event dispatcher
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(t *Tracker) { t.dispatchOpts = append(t.dispatchOpts, opts...) }
}

// WithSource replaces the mutation source built from configuration
func WithSource(f SourceFunc) Option {
	return func(t *Tracker) { t.newSource = f }
}

// New builds a tracker from configuration. The stored contact fields and
// behavior history are loaded immediately.
func New(cfg *config.AppConfig, opts ...Option) (*Tracker, error) {
	t := &Tracker{cfg: cfg}
	for _, o := range opts {
		o(t)
	}
	t.clock = clock.OrReal(t.clock)
	t.logger = logging.OrNop(t.logger)

	t.sessionID = cfg.Collector.SessionID
	if t.sessionID == "" {
		t.sessionID = "sess_" + uuid.NewString()
	}
	if t.store == nil {
		s, err := store.Open(&cfg.Store, t.clock, t.logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		t.store = s
	}
	if t.loader == nil {
		t.loader = scraper.New(cfg, t.logger)
	}
	if t.newSource == nil {
		t.newSource = func(pageURL string) (watcher.Source, error) {
			return watcher.NewSource(&cfg.Watcher, &cfg.Browser, pageURL, t.logger)
		}
	}

	t.perf = metrics.NewPerformance()
	t.classifier = classifier.New(&cfg.Classifier, t.logger)
	t.extractor = extraction.NewExtractor(&cfg.Extraction,
		extraction.WithLogger(t.logger),
		extraction.WithMetrics(t.perf),
		extraction.WithClock(t.clock))
	t.analyzer = analyzer.New(&cfg.Analyzer)
	t.aggregator = behavior.New(&cfg.Scoring, cfg.Tracker.IdleThreshold, t.clock,
		behavior.EmitFunc(func(eventType string, data map[string]interface{}) {
			t.dispatcher.Dispatch(eventType, data)
		}))

	viewport := models.Viewport{Width: cfg.Tracker.Viewport.Width, Height: cfg.Tracker.Viewport.Height}
	t.dispatcher = dispatch.New(&cfg.Collector, append([]dispatch.Option{
		dispatch.WithSessionID(t.sessionID),
		dispatch.WithProxy(proxy.NewManager(&cfg.Proxies)),
		dispatch.WithSnapshot(t.Snapshot),
		dispatch.WithMetrics(t.perf),
		dispatch.WithClock(t.clock),
		dispatch.WithLogger(t.logger),
		dispatch.WithClientInfo(cfg.Tracker.UserAgent, viewport),
	}, t.dispatchOpts...)...)

	history, contact := t.store.Load(context.Background())
	t.history = history
	for _, kind := range []models.ContactKind{models.ContactEmail, models.ContactPhone, models.ContactName} {
		if v := contact.Get(kind); v != "" {
			t.aggregator.SetContact(kind, v)
		}
	}

	t.logger.Info("Tracker initialized",
		zap.String("session_id", t.sessionID),
		zap.Bool("delivery_enabled", t.dispatcher.Enabled()),
		zap.Int("stored_searches", len(history.SearchHistory)),
		zap.Int("stored_property_views", len(history.PropertyViews)))
	return t, nil
}

// SessionID returns the session id attached to every event
func (t *Tracker) SessionID() string { return t.sessionID }

// Snapshot returns the session view attached to outgoing events
func (t *Tracker) Snapshot() models.Snapshot {
	s := t.aggregator.Snapshot()
	return models.Snapshot{Session: s, Patterns: s.Patterns, Contact: s.Contact}
}

// History returns a copy of the in-memory behavior history
func (t *Tracker) History() models.BehaviorHistory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.BehaviorHistory{
		SearchHistory: append([]models.SearchRecord(nil), t.history.SearchHistory...),
		PropertyViews: append([]models.PropertyRecord(nil), t.history.PropertyViews...),
		LastUpdated:   t.history.LastUpdated,
	}
}

// Stats returns the delivery counters
func (t *Tracker) Stats() dispatch.Stats { return t.dispatcher.Stats() }

// Performance returns the timing samples
func (t *Tracker) Performance() metrics.Summary { return t.perf.Snapshot() }

// Start launches delivery workers and the periodic tasks
func (t *Tracker) Start(ctx context.Context) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	if t.running {
		return nil
	}

	t.dispatcher.Start(ctx)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	t.every(g, gctx, t.cfg.Tracker.IdleCheckInterval, func(context.Context) {
		t.aggregator.CheckIdle()
	})
	t.every(g, gctx, t.cfg.Tracker.AnalysisInterval, func(ctx context.Context) {
		t.Analyze(ctx)
	})
	if t.cfg.Collector.Debug {
		t.every(g, gctx, t.cfg.Tracker.PerformanceInterval, func(context.Context) {
			t.logPerformance()
		})
	}

	t.running = true
	t.ctx = gctx
	t.cancel = cancel
	t.group = g
	t.logger.Info("Tracker started", zap.String("session_id", t.SessionID()))
	return nil
}

// every runs task on a ticker of the tracker's clock. The ticker exists
// once every returns.
func (t *Tracker) every(g *errgroup.Group, ctx context.Context, interval time.Duration, task func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := t.clock.NewTicker(interval)
	g.Go(func() error {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.Chan():
				task(ctx)
			}
		}
	})
}

// Stop cancels the periodic tasks and the watcher, drains pending events
// and closes the store. A stopped tracker cannot be restarted.
func (t *Tracker) Stop() error {
	t.lifeMu.Lock()
	if t.stopped {
		t.lifeMu.Unlock()
		return nil
	}
	t.stopped = true
	wasRunning := t.running
	t.running = false
	cancel, g, w := t.cancel, t.group, t.mutations
	t.mutations = nil
	t.lifeMu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}
	if wasRunning {
		cancel()
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	t.dispatcher.Stop()
	if err := t.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	stats := t.dispatcher.Stats()
	t.logger.Info("Tracker stopped",
		zap.String("session_id", t.SessionID()),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped))
	return errors.Join(errs...)
}

// LoadPage loads url and handles it as a page view
func (t *Tracker) LoadPage(ctx context.Context, pageURL string) (View, error) {
	page, err := t.loader.Load(ctx, pageURL)
	if err != nil {
		return View{}, fmt.Errorf("load page %s: %w", pageURL, err)
	}
	return t.HandlePage(ctx, page), nil
}

// HandlePage records a page view of an already loaded page: the page is
// classified, a property page is extracted and stored, search criteria in
// the URL are recorded.
func (t *Tracker) HandlePage(ctx context.Context, page *scraper.Page) View {
	view := View{URL: page.URL}
	if page.Doc != nil {
		view.Title = strings.TrimSpace(page.Doc.Find("title").First().Text())
	}
	view.Classification = t.classifier.Classify(page.URL, page.Doc)

	t.aggregator.RecordPageView()
	t.dispatcher.Dispatch(EventPageView, map[string]interface{}{
		"url":            page.URL,
		"title":          view.Title,
		"isPropertyPage": view.Classification.Property,
		"isSearchPage":   view.Classification.Search,
	})

	if view.Classification.Search {
		if criteria := SearchCriteria(page.URL); len(criteria) > 0 {
			rec := models.SearchRecord{Criteria: criteria, URL: page.URL, Timestamp: t.clock.Now()}
			view.Search = &rec
			t.recordSearch(ctx, rec)
		}
	}

	if view.Classification.Property {
		rec := t.extractor.Extract(page.Doc, page.URL)
		view.Property = &rec
		t.recordPropertyView(ctx, rec)
		t.watch(page.URL)
	}
	return view
}

func (t *Tracker) recordSearch(ctx context.Context, rec models.SearchRecord) {
	t.aggregator.RecordSearch()

	t.mu.Lock()
	t.history.SearchHistory = append(t.history.SearchHistory, rec)
	t.history = t.store.SaveHistory(ctx, t.history)
	t.mu.Unlock()

	t.dispatcher.Dispatch(EventSearchPerformed, rec)
}

func (t *Tracker) recordPropertyView(ctx context.Context, rec models.PropertyRecord) {
	t.aggregator.RecordPropertyView()

	t.mu.Lock()
	t.history.PropertyViews = append(t.history.PropertyViews, rec)
	t.history = t.store.SaveHistory(ctx, t.history)
	t.currentURL = rec.URL
	current := rec
	t.current = &current
	t.mu.Unlock()

	t.dispatcher.Dispatch(EventPropertyView, rec)
}

// watch points the mutation watcher at pageURL. It only runs on a started
// tracker with the watcher enabled.
func (t *Tracker) watch(pageURL string) {
	if !t.cfg.Watcher.Enabled {
		return
	}

	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if !t.running {
		return
	}
	if t.mutations != nil {
		if err := t.mutations.Stop(); err != nil {
			t.logger.Debug("Previous watcher ended with error", zap.Error(err))
		}
		t.mutations = nil
	}

	src, err := t.newSource(pageURL)
	if err != nil {
		t.logger.Warn("Mutation watching unavailable", zap.String("url", pageURL), zap.Error(err))
		return
	}
	w := watcher.New(src, t.cfg.Watcher.Debounce, t.Refresh, t.logger)
	if err := w.Start(t.ctx); err != nil {
		t.logger.Warn("Failed to start watcher", zap.Error(err))
		return
	}
	t.mutations = w
}

// Refresh reloads the current property page and re-extracts it. A record
// that differs from the last one is dispatched as property_data_updated.
func (t *Tracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	pageURL, previous := t.currentURL, t.current
	t.mu.Unlock()
	if pageURL == "" {
		return
	}

	page, err := t.loader.Load(ctx, pageURL)
	if err != nil {
		t.logger.Warn("Failed to reload page after change", zap.String("url", pageURL), zap.Error(err))
		return
	}
	rec := t.extractor.Extract(page.Doc, pageURL)
	if previous != nil && samePropertyData(*previous, rec) {
		t.logger.Debug("Page changed without property data changes", zap.String("url", pageURL))
		return
	}

	t.mu.Lock()
	current := rec
	t.current = &current
	t.mu.Unlock()

	t.dispatcher.Dispatch(EventPropertyDataUpdated, rec)
}

func samePropertyData(a, b models.PropertyRecord) bool {
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// Current returns the last extracted property record, if any
func (t *Tracker) Current() (models.PropertyRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return models.PropertyRecord{}, false
	}
	return *t.current, true
}

// MouseMove records a pointer movement
func (t *Tracker) MouseMove(x, y float64) { t.aggregator.MouseMove(x, y) }

// CheckIdle runs the idle check immediately
func (t *Tracker) CheckIdle() bool { return t.aggregator.CheckIdle() }

// Focus records focus on a form control
func (t *Tracker) Focus(field behavior.FormField) { t.aggregator.Focus(field) }

// Click records a click
func (t *Tracker) Click(target behavior.ClickTarget) behavior.ClickCategory {
	return t.aggregator.Click(target)
}

// Scroll records the scroll depth in percent
func (t *Tracker) Scroll(depth float64) { t.aggregator.Scroll(depth) }

// Visibility records the page being hidden or shown
func (t *Tracker) Visibility(hidden bool) { t.aggregator.Visibility(hidden) }

// Input records input on a form control. A new contact value is persisted
// and announced with one contact_identified event; the return value
// reports whether that happened.
func (t *Tracker) Input(ctx context.Context, field behavior.FormField) bool {
	capture, ok := t.aggregator.Input(field)
	if !ok {
		return false
	}
	if !t.store.SetContact(ctx, capture.Kind, capture.Value) {
		return false
	}
	t.aggregator.SetContact(capture.Kind, capture.Value)

	t.logger.Debug("Contact identified", zap.String("kind", string(capture.Kind)))
	t.dispatcher.Dispatch(EventContactIdentified, map[string]interface{}{
		"kind":  string(capture.Kind),
		"field": field.Identifier(),
	})
	return true
}

// Analyze runs the pattern analyzer, writes the patterns back to the
// session and dispatches behavior_analysis. The first positive saved
// search decision of the session also dispatches saved_search_suggested.
func (t *Tracker) Analyze(ctx context.Context) analyzer.Result {
	t.analyzeMu.Lock()
	defer t.analyzeMu.Unlock()

	res := t.analyzer.Analyze(analyzer.Input{
		Session:     t.aggregator.Snapshot(),
		History:     t.History(),
		ClickIntent: t.aggregator.ClickIntent(),
		Now:         t.clock.Now(),
	})
	t.aggregator.SetPatterns(res.Patterns)

	t.mu.Lock()
	suggest := res.CreateSavedSearch && !t.suggested
	if suggest {
		t.suggested = true
	}
	last := res
	t.last = &last
	t.mu.Unlock()

	t.dispatcher.Dispatch(EventBehaviorAnalysis, res)
	if suggest {
		t.logger.Info("Suggesting saved search",
			zap.Int("recent_searches", res.RecentSearches),
			zap.Int("intent_score", res.Patterns.IntentScore))
		t.dispatcher.Dispatch(EventSavedSearchSuggested, map[string]interface{}{
			"criteria":       res.SuggestedCriteria,
			"recentSearches": res.RecentSearches,
			"intentScore":    res.Patterns.IntentScore,
		})
	}
	return res
}

// LastAnalysis returns the most recent analyzer result
func (t *Tracker) LastAnalysis() (analyzer.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return analyzer.Result{}, false
	}
	return *t.last, true
}

// Unload dispatches page_unload with the final session numbers and saves
// the behavior history
func (t *Tracker) Unload(ctx context.Context) {
	s := t.aggregator.Snapshot()
	t.dispatcher.Dispatch(EventPageUnload, map[string]interface{}{
		"timeOnPageMs":    s.TimeOnPage.Milliseconds(),
		"engagementScore": s.EngagementScore,
		"maxScrollDepth":  s.MaxScrollDepth,
		"pageViews":       s.PageViews,
		"propertyViews":   s.PropertyViews,
	})

	t.mu.Lock()
	t.history = t.store.SaveHistory(ctx, t.history)
	t.mu.Unlock()
}

func (t *Tracker) logPerformance() {
	p := t.perf.Snapshot()
	stats := t.dispatcher.Stats()
	t.logger.Debug("Performance snapshot",
		zap.Duration("avg_api_response", p.AvgAPIResponse),
		zap.Duration("avg_extraction", p.AvgExtractionTime),
		zap.Int("api_samples", len(p.APIResponseTimes)),
		zap.Int("extraction_samples", len(p.ExtractionTimes)),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped))
}

// ignoredSearchParams are query parameters that never describe a search
var ignoredSearchParams = map[string]bool{
	"page": true, "paged": true, "fbclid": true, "gclid": true, "nonce": true,
}

// SearchCriteria returns the search criteria carried in a URL query,
// dropping tracking and pagination parameters
func SearchCriteria(pageURL string) map[string]string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	criteria := make(map[string]string)
	for key, values := range u.Query() {
		k := strings.ToLower(key)
		if ignoredSearchParams[k] || strings.HasPrefix(k, "utm_") {
			continue
		}
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				criteria[key] = v
				break
			}
		}
	}
	if len(criteria) == 0 {
		return nil
	}
	return criteria
}
