package behavior

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	data   []map[string]interface{}
}

func (r *recorder) Emit(eventType string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newAggregator(t *testing.T) (*Aggregator, *clock.Fake, *recorder) {
	t.Helper()
	cfg := config.CreateDefault()
	clk := clock.NewFake(start)
	rec := &recorder{}
	return New(&cfg.Scoring, cfg.Tracker.IdleThreshold, clk, rec), clk, rec
}

func TestMouseMove_ScoresEveryHundredth(t *testing.T) {
	a, clk, _ := newAggregator(t)

	// 1px per 10ms = 0.1 px/ms, inside the purposeful band
	for i := 0; i < 99; i++ {
		clk.Advance(10 * time.Millisecond)
		a.MouseMove(float64(i), 0)
	}
	assert.Equal(t, 0, a.Snapshot().EngagementScore)

	clk.Advance(10 * time.Millisecond)
	a.MouseMove(99, 0)
	assert.Equal(t, 3, a.Snapshot().EngagementScore, "movement points plus purposeful bonus")
	assert.Equal(t, 100, a.MovementCount())
}

func TestMouseMove_NoBonusForDragSpeed(t *testing.T) {
	a, clk, _ := newAggregator(t)

	for i := 0; i < 100; i++ {
		clk.Advance(time.Millisecond)
		a.MouseMove(float64(i*50), 0)
	}
	assert.Equal(t, 1, a.Snapshot().EngagementScore)
}

func TestCheckIdle(t *testing.T) {
	a, clk, rec := newAggregator(t)

	a.MouseMove(10, 10)
	clk.Advance(30 * time.Second)
	assert.False(t, a.CheckIdle())

	clk.Advance(31 * time.Second)
	assert.True(t, a.CheckIdle())
	assert.False(t, a.CheckIdle(), "one event per idle streak")
	require.Equal(t, 1, rec.count(EventIdle))
	assert.Equal(t, 1, rec.data[0]["movement_count"])

	a.MouseMove(20, 20)
	assert.Equal(t, 2, a.MovementCount(), "idle does not reset counters")
	clk.Advance(61 * time.Second)
	assert.True(t, a.CheckIdle())
	assert.Equal(t, 2, rec.count(EventIdle))
}

func TestFocusAndInput(t *testing.T) {
	a, _, rec := newAggregator(t)

	a.Focus(FormField{Tag: "input", Name: "search_city"})
	assert.Equal(t, 2, a.Snapshot().EngagementScore)

	a.Focus(FormField{Tag: "input", Type: "email", Name: "your-email"})
	assert.Equal(t, 7, a.Snapshot().EngagementScore)
	assert.Equal(t, 1, rec.count(EventFormFocus))

	capture, ok := a.Input(FormField{Tag: "input", Type: "email", Name: "your-email", Value: " jane@example.com "})
	require.True(t, ok)
	assert.Equal(t, Capture{Kind: models.ContactEmail, Value: "jane@example.com"}, capture)
	assert.Equal(t, 10, a.Snapshot().EngagementScore)

	_, ok = a.Input(FormField{Tag: "input", Type: "email", Value: "jane@"})
	assert.False(t, ok, "implausible email is not captured")

	_, ok = a.Input(FormField{Tag: "input", Name: "min_price", Value: "300000"})
	assert.False(t, ok)
	assert.Equal(t, 14, a.Snapshot().EngagementScore)
}

func TestClick_Weights(t *testing.T) {
	a, _, rec := newAggregator(t)

	assert.Equal(t, ClickContact, a.Click(ClickTarget{Tag: "a", Href: "tel:+15125550100", Text: "Call now"}))
	assert.Equal(t, ClickProperty, a.Click(ClickTarget{Tag: "button", Class: "gallery-next"}))
	assert.Equal(t, ClickGeneric, a.Click(ClickTarget{Tag: "a", Href: "/about", Text: "About"}))

	assert.Equal(t, 16, a.Snapshot().EngagementScore)
	assert.Equal(t, 25, a.ClickIntent())
	assert.Equal(t, 2, rec.count(EventClick))
}

func TestScroll_Milestones(t *testing.T) {
	a, _, _ := newAggregator(t)

	a.Scroll(30)
	a.Scroll(10)
	a.Scroll(80)
	a.Scroll(150)

	s := a.Snapshot()
	assert.Equal(t, 100.0, s.MaxScrollDepth)
	assert.Equal(t, 8, s.EngagementScore)
}

func TestVisibility(t *testing.T) {
	a, clk, rec := newAggregator(t)

	clk.Advance(45 * time.Second)
	a.Visibility(true)
	a.Visibility(true)
	clk.Advance(12 * time.Second)
	a.Visibility(false)

	require.Equal(t, []string{EventHidden, EventVisible}, rec.events)
	assert.Equal(t, int64(45000), rec.data[0]["time_on_page_ms"])
	assert.Equal(t, int64(12000), rec.data[1]["time_away_ms"])
}

func TestEngagementNeverDecreases(t *testing.T) {
	a, clk, _ := newAggregator(t)

	prev := 0
	steps := []func(){
		func() { a.MouseMove(1, 1) },
		func() { a.Focus(FormField{Name: "phone"}) },
		func() { a.Click(ClickTarget{Text: "Schedule a tour"}) },
		func() { a.Scroll(60) },
		func() { a.Visibility(true) },
		func() { a.Visibility(false) },
		func() { a.CheckIdle() },
		func() { a.Input(FormField{Name: "name", Value: "Jane"}) },
		func() { a.SetPatterns(models.BehaviorPatterns{IntentScore: 5}) },
	}
	for round := 0; round < 50; round++ {
		for _, step := range steps {
			clk.Advance(7 * time.Second)
			step()
			score := a.Snapshot().EngagementScore
			require.GreaterOrEqual(t, score, prev)
			prev = score
		}
	}
	assert.Greater(t, prev, 0)
}

func TestSetPatterns_KeepsHigherIntent(t *testing.T) {
	a, _, _ := newAggregator(t)

	a.SetPatterns(models.BehaviorPatterns{IntentScore: 80, EngagementLevel: models.EngagementMedium})
	a.SetPatterns(models.BehaviorPatterns{IntentScore: 40, EngagementLevel: models.EngagementHigh})

	p := a.Snapshot().Patterns
	assert.Equal(t, 80, p.IntentScore)
	assert.Equal(t, models.EngagementHigh, p.EngagementLevel)
}

func TestAggregator_ConcurrentUse(t *testing.T) {
	cfg := config.CreateDefault()
	a := New(&cfg.Scoring, time.Minute, nil, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.MouseMove(float64(i), float64(w))
				a.Click(ClickTarget{Class: "listing-card"})
				a.CheckIdle()
				_ = a.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1600, a.MovementCount())
	assert.Equal(t, 1600*cfg.Scoring.PropertyClickIntent, a.ClickIntent())
}
