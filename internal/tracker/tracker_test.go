package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/williampepple1/lead-tracker/internal/behavior"
	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/dispatch"
	"github.com/williampepple1/lead-tracker/internal/scraper"
	"github.com/williampepple1/lead-tracker/internal/store"
	"github.com/williampepple1/lead-tracker/internal/watcher"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

var start = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

const listingURL = "https://homes.example.com/property-search/4821-main-st"

const listingHTML = `<html><head><title>4821 Main St</title></head><body>
<div class="property-details">
  <h1 class="property-address">4821 Main St, Austin, TX 78701</h1>
  <span class="property-price">$615,000</span>
  <span class="beds">3 beds</span>
  <span class="property-type">Condo</span>
</div>
</body></html>`

// recorder is a transport that keeps every envelope it is handed
type recorder struct {
	mu        sync.Mutex
	envelopes []models.EventEnvelope
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, _ string, p dispatch.Payload) (int, error) {
	var env models.EventEnvelope
	if err := json.Unmarshal([]byte(p.EventData), &env); err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
	return 200, nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.envelopes {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) last(eventType string) (models.EventEnvelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.envelopes) - 1; i >= 0; i-- {
		if r.envelopes[i].Type == eventType {
			return r.envelopes[i], true
		}
	}
	return models.EventEnvelope{}, false
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

// pages serves canned HTML by URL
type pages struct {
	mu   sync.Mutex
	html map[string]string
}

func (p *pages) set(url, html string) {
	p.mu.Lock()
	p.html[url] = html
	p.mu.Unlock()
}

func (p *pages) Load(_ context.Context, url string) (*scraper.Page, error) {
	p.mu.Lock()
	html, ok := p.html[url]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &scraper.Page{URL: url, Doc: doc}, nil
}

type harness struct {
	tracker *Tracker
	sent    *recorder
	pages   *pages
	backend *store.MemoryBackend
	clock   *clock.Fake
	logs    *observer.ObservedLogs
}

func testConfig() *config.AppConfig {
	cfg := config.CreateDefault()
	cfg.Collector.Endpoint = "https://homes.example.com/wp-admin/admin-ajax.php"
	cfg.Collector.Nonce = "f00d"
	cfg.Collector.SessionID = "sess_test"
	cfg.Collector.RatePerSecond = 0
	return cfg
}

func newHarness(t *testing.T, cfg *config.AppConfig, opts ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		sent:    &recorder{},
		pages:   &pages{html: map[string]string{listingURL: listingHTML}},
		backend: store.NewMemoryBackend(0),
		clock:   clock.NewFake(start),
		logs:    logs,
	}
	st := store.New(h.backend, &cfg.Store, h.clock, nil)

	base := []Option{
		WithClock(h.clock),
		WithLogger(zap.New(core)),
		WithLoader(h.pages),
		WithStore(st),
		WithDispatchOptions(dispatch.WithTransports(h.sent, nil)),
	}
	tr, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	h.tracker = tr
	return h
}

func TestLoadPage_PropertyIDFromURL(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	view, err := h.tracker.LoadPage(ctx, listingURL)
	require.NoError(t, err)
	require.NoError(t, h.tracker.Stop())

	assert.True(t, view.Classification.Property)
	assert.Equal(t, "4821 Main St", view.Title)
	require.NotNil(t, view.Property)
	assert.Equal(t, "4821", view.Property.ID)
	require.NotNil(t, view.Property.Price)
	assert.Equal(t, int64(615000), *view.Property.Price)

	assert.Equal(t, 1, h.sent.count(EventPageView))
	assert.Equal(t, 1, h.sent.count(EventPropertyView))
	env, ok := h.sent.last(EventPropertyView)
	require.True(t, ok)
	assert.Equal(t, "sess_test", env.SessionID)
	assert.Equal(t, 1, env.Session.PropertyViews)
	assert.Equal(t, "4821", env.Data.(map[string]interface{})["id"])

	history := h.tracker.History()
	require.Len(t, history.PropertyViews, 1)
	assert.Equal(t, "4821", history.PropertyViews[0].ID)
}

func TestLoadPage_Error(t *testing.T) {
	h := newHarness(t, testConfig())
	defer h.tracker.Stop()

	_, err := h.tracker.LoadPage(context.Background(), "https://homes.example.com/missing")
	assert.Error(t, err)
}

func TestInput_ContactIdentifiedOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	email := behavior.FormField{Tag: "input", Type: "email", Name: "your-email", Value: "jane@example.com"}

	h.tracker.Focus(email)
	assert.True(t, h.tracker.Input(ctx, email))
	assert.False(t, h.tracker.Input(ctx, email))
	require.NoError(t, h.tracker.Stop())

	stored, ok, err := h.backend.Get(ctx, store.KeyEmail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", stored)

	assert.Equal(t, 1, h.sent.count(EventContactIdentified))
	env, _ := h.sent.last(EventContactIdentified)
	require.NotNil(t, env.Contact)
	assert.Equal(t, "jane@example.com", env.Contact.Email)
	assert.Equal(t, 1, h.sent.count(behavior.EventFormFocus))
}

func TestInput_IgnoresNonContactAndInvalidValues(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	assert.False(t, h.tracker.Input(ctx, behavior.FormField{Tag: "input", Name: "min_price", Value: "300000"}))
	assert.False(t, h.tracker.Input(ctx, behavior.FormField{Tag: "input", Type: "email", Value: "not-an-email"}))
	require.NoError(t, h.tracker.Stop())

	assert.Zero(t, h.sent.count(EventContactIdentified))
}

func TestNew_RestoresStoredContact(t *testing.T) {
	cfg := testConfig()
	backend := store.NewMemoryBackend(0)
	require.NoError(t, backend.Set(context.Background(), store.KeyPhone, "+1 512 555 0100"))

	tr, err := New(cfg,
		WithStore(store.New(backend, &cfg.Store, clock.NewFake(start), nil)),
		WithLoader(&pages{html: map[string]string{}}),
		WithDispatchOptions(dispatch.WithTransports(&recorder{}, nil)))
	require.NoError(t, err)
	defer tr.Stop()

	snap := tr.Snapshot()
	require.NotNil(t, snap.Contact)
	assert.Equal(t, "+1 512 555 0100", snap.Contact.Phone)
}

func TestNew_GeneratesSessionPerTracker(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.SessionID = ""

	first := newHarness(t, cfg)
	second := newHarness(t, cfg)
	ctx := context.Background()

	_, err := first.tracker.LoadPage(ctx, listingURL)
	require.NoError(t, err)
	require.NoError(t, first.tracker.Stop())
	require.NoError(t, second.tracker.Stop())

	assert.True(t, strings.HasPrefix(first.tracker.SessionID(), "sess_"))
	assert.NotEqual(t, first.tracker.SessionID(), second.tracker.SessionID())
	assert.Empty(t, cfg.Collector.SessionID)

	env, ok := first.sent.last(EventPageView)
	require.True(t, ok)
	assert.Equal(t, first.tracker.SessionID(), env.SessionID)
}

func TestAnalyze_SuggestsSavedSearchOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	search := "https://homes.example.com/search/?location=Austin&beds=3&utm_source=mail"
	h.pages.set(search, `<html><body><form class="property-search"></form></body></html>`)

	for i := 0; i < 3; i++ {
		view, err := h.tracker.LoadPage(ctx, search)
		require.NoError(t, err)
		require.NotNil(t, view.Search)
		h.clock.Advance(3 * time.Hour)
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, behavior.ClickContact, h.tracker.Click(behavior.ClickTarget{Tag: "a", Class: "contact-agent"}))
	}

	first := h.tracker.Analyze(ctx)
	second := h.tracker.Analyze(ctx)
	require.NoError(t, h.tracker.Stop())

	assert.Equal(t, 3, first.RecentSearches)
	assert.GreaterOrEqual(t, first.Patterns.SearchConsistency, 0.7)
	assert.GreaterOrEqual(t, first.Patterns.IntentScore, 75)
	assert.True(t, first.CreateSavedSearch)
	assert.Equal(t, map[string]string{"location": "austin", "beds": "3"}, first.SuggestedCriteria)
	assert.True(t, second.CreateSavedSearch)

	assert.Equal(t, 3, h.sent.count(EventSearchPerformed))
	assert.Equal(t, 2, h.sent.count(EventBehaviorAnalysis))
	assert.Equal(t, 1, h.sent.count(EventSavedSearchSuggested))

	last, ok := h.tracker.LastAnalysis()
	require.True(t, ok)
	assert.Equal(t, second.Patterns.IntentScore, last.Patterns.IntentScore)
	assert.Equal(t, second.Patterns.IntentScore, h.tracker.Snapshot().Patterns.IntentScore)
}

func TestDispatch_NoEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.Endpoint = ""
	h := newHarness(t, cfg)
	ctx := context.Background()

	_, err := h.tracker.LoadPage(ctx, listingURL)
	require.NoError(t, err)
	h.tracker.Click(behavior.ClickTarget{Class: "schedule-tour"})
	h.tracker.Analyze(ctx)
	h.tracker.Unload(ctx)
	require.NoError(t, h.tracker.Stop())

	assert.Zero(t, h.sent.total())
	dispatchLogs := h.logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == "dispatch"
	})
	assert.Equal(t, 1, dispatchLogs.Len())
}

func TestScoresNeverDecrease(t *testing.T) {
	h := newHarness(t, testConfig())
	defer h.tracker.Stop()
	ctx := context.Background()

	engagement, intent := 0, 0
	check := func() {
		snap := h.tracker.Snapshot()
		assert.GreaterOrEqual(t, snap.Session.EngagementScore, engagement)
		assert.GreaterOrEqual(t, snap.Patterns.IntentScore, intent)
		engagement, intent = snap.Session.EngagementScore, snap.Patterns.IntentScore
	}

	h.tracker.Click(behavior.ClickTarget{Class: "contact-agent"})
	h.tracker.Analyze(ctx)
	check()
	for i := 0; i < 200; i++ {
		h.clock.Advance(10 * time.Millisecond)
		h.tracker.MouseMove(float64(i), float64(i))
	}
	check()
	h.tracker.Scroll(80)
	h.tracker.Scroll(10)
	check()
	h.clock.Advance(90 * 24 * time.Hour)
	h.tracker.Analyze(ctx)
	check()
	assert.Positive(t, intent)
}

func TestAnalyze_ConcurrentPassesKeepIntent(t *testing.T) {
	h := newHarness(t, testConfig())
	defer h.tracker.Stop()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		decreases int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.tracker.Click(behavior.ClickTarget{Class: "contact-agent"})
				before := h.tracker.Snapshot().Patterns.IntentScore
				h.tracker.Analyze(ctx)
				after := h.tracker.Snapshot().Patterns.IntentScore
				if after < before {
					mu.Lock()
					decreases++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, decreases)
	last, ok := h.tracker.LastAnalysis()
	require.True(t, ok)
	assert.GreaterOrEqual(t, h.tracker.Snapshot().Patterns.IntentScore, last.Patterns.IntentScore)
}

func TestUnload_SavesHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.tracker.LoadPage(ctx, listingURL)
	require.NoError(t, err)
	h.tracker.Unload(ctx)
	require.NoError(t, h.tracker.Stop())

	raw, ok, err := h.backend.Get(ctx, store.KeyHistory)
	require.NoError(t, err)
	require.True(t, ok)
	var saved models.BehaviorHistory
	require.NoError(t, json.Unmarshal([]byte(raw), &saved))
	assert.Len(t, saved.PropertyViews, 1)
	assert.Equal(t, 1, h.sent.count(EventPageUnload))
}

func TestStartStop_TimersAndNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Collector.Debug = true
	h := newHarness(t, cfg)

	require.NoError(t, h.tracker.Start(context.Background()))
	require.NoError(t, h.tracker.Start(context.Background()))

	// nothing fires until the clock moves
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.sent.count(EventBehaviorAnalysis))

	// idle check every 10s, analysis every 30s, performance every 60s
	for i := 0; i < 9; i++ {
		h.clock.Advance(cfg.Tracker.IdleCheckInterval)
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return h.sent.count(behavior.EventIdle) == 1 &&
			h.sent.count(EventBehaviorAnalysis) >= 1 &&
			h.logs.FilterMessage("Performance snapshot").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.tracker.Stop())
	require.NoError(t, h.tracker.Stop())
	assert.ErrorIs(t, h.tracker.Start(context.Background()), ErrStopped)

	assert.Equal(t, 1, h.sent.count(behavior.EventIdle))
}

func TestWatcher_DispatchesUpdatedPropertyData(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Watcher.Enabled = true
	cfg.Watcher.Debounce = 10 * time.Millisecond
	src := watcher.NewManualSource()
	h := newHarness(t, cfg, WithSource(func(string) (watcher.Source, error) { return src, nil }))
	ctx := context.Background()

	require.NoError(t, h.tracker.Start(ctx))
	_, err := h.tracker.LoadPage(ctx, listingURL)
	require.NoError(t, err)

	// a change that does not touch property data
	h.pages.set(listingURL, strings.Replace(listingHTML, "<title>", "<title>Updated ", 1))
	src.Trigger()
	time.Sleep(50 * time.Millisecond)

	h.pages.set(listingURL, strings.Replace(listingHTML, "$615,000", "$599,000", 1))
	src.Trigger()
	require.Eventually(t, func() bool {
		return h.sent.count(EventPropertyDataUpdated) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.tracker.Stop())

	current, ok := h.tracker.Current()
	require.True(t, ok)
	require.NotNil(t, current.Price)
	assert.Equal(t, int64(599000), *current.Price)
	assert.Equal(t, 1, h.sent.count(EventPropertyDataUpdated))
}

func TestSearchCriteria(t *testing.T) {
	assert.Equal(t,
		map[string]string{"location": "Austin", "min_price": "300000"},
		SearchCriteria("https://x.test/search?location=Austin&min_price=300000&paged=2&utm_campaign=spring&beds="))
	assert.Nil(t, SearchCriteria("https://x.test/search"))
	assert.Nil(t, SearchCriteria("://bad"))
}
