// Package behavior accumulates visitor interaction signals into the
// session's engagement and intent scores.
//
// Scores only ever grow within a session. There is no decay.
package behavior

import (
	"math"
	"sync"
	"time"

	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Event types emitted by the aggregator
const (
	EventIdle      = "user_idle"
	EventHidden    = "page_hidden"
	EventVisible   = "page_visible"
	EventClick     = "click"
	EventFormFocus = "form_focus"
)

// Emitter receives the events derived from interactions
type Emitter interface {
	Emit(eventType string, data map[string]interface{})
}

// EmitFunc adapts a function to Emitter
type EmitFunc func(eventType string, data map[string]interface{})

// Emit calls f
func (f EmitFunc) Emit(eventType string, data map[string]interface{}) { f(eventType, data) }

type pendingEvent struct {
	eventType string
	data      map[string]interface{}
}

// Aggregator holds the session state of one tracker. Timer callbacks and
// interaction handlers call into it concurrently.
type Aggregator struct {
	cfg           *config.ScoringConfig
	idleThreshold time.Duration
	clock         clock.Clock
	emitter       Emitter

	mu      sync.Mutex
	session models.SessionState
	intent  int

	moves        int
	lastX, lastY float64
	lastMove     time.Time
	lastVelocity float64
	idleReported bool

	hidden   bool
	hiddenAt time.Time

	scrollMilestones int
}

// New creates an aggregator; the session starts now
func New(cfg *config.ScoringConfig, idleThreshold time.Duration, clk clock.Clock, emitter Emitter) *Aggregator {
	clk = clock.OrReal(clk)
	if emitter == nil {
		emitter = EmitFunc(func(string, map[string]interface{}) {})
	}
	return &Aggregator{
		cfg:           cfg,
		idleThreshold: idleThreshold,
		clock:         clk,
		emitter:       emitter,
		session: models.SessionState{
			StartTime: clk.Now(),
			Patterns:  models.BehaviorPatterns{EngagementLevel: models.EngagementLow},
		},
	}
}

// emit must be called without a.mu held: the emitter reads Snapshot
func (a *Aggregator) emit(events []pendingEvent) {
	for _, e := range events {
		a.emitter.Emit(e.eventType, e.data)
	}
}

func (a *Aggregator) addEngagement(n int) {
	if n > 0 {
		a.session.EngagementScore += n
	}
}

func (a *Aggregator) addIntent(n int) {
	if n > 0 {
		a.intent += n
	}
}

// MouseMove records a pointer movement to (x, y)
func (a *Aggregator) MouseMove(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	velocity := 0.0
	if !a.lastMove.IsZero() {
		elapsed := float64(now.Sub(a.lastMove).Milliseconds())
		if elapsed < 1 {
			elapsed = 1
		}
		velocity = math.Hypot(x-a.lastX, y-a.lastY) / elapsed
	}

	a.moves++
	a.lastX, a.lastY = x, y
	a.lastMove = now
	a.lastVelocity = velocity
	a.idleReported = false

	if a.cfg.MovementSampleEvery > 0 && a.moves%a.cfg.MovementSampleEvery == 0 {
		a.addEngagement(a.cfg.MovementPoints)
		if velocity >= a.cfg.PurposefulMinVelocity && velocity <= a.cfg.PurposefulMaxVelocity {
			a.addEngagement(a.cfg.PurposefulBonus)
		}
	}
}

// CheckIdle emits an idle event once per idle streak when no movement has
// been seen for longer than the idle threshold. Counters are kept.
func (a *Aggregator) CheckIdle() bool {
	a.mu.Lock()
	ref := a.lastMove
	if ref.IsZero() {
		ref = a.session.StartTime
	}
	idleFor := a.clock.Now().Sub(ref)
	if a.idleReported || idleFor <= a.idleThreshold {
		a.mu.Unlock()
		return false
	}
	a.idleReported = true
	ev := pendingEvent{EventIdle, map[string]interface{}{
		"idle_ms":        idleFor.Milliseconds(),
		"movement_count": a.moves,
		"last_velocity":  a.lastVelocity,
	}}
	a.mu.Unlock()

	a.emit([]pendingEvent{ev})
	return true
}

// Focus records focus on a form control
func (a *Aggregator) Focus(field FormField) {
	kind, contact := ContactKindOf(field, a.cfg.ContactFields)

	a.mu.Lock()
	var events []pendingEvent
	if contact {
		a.addEngagement(a.cfg.ContactFocusPoints)
		events = append(events, pendingEvent{EventFormFocus, map[string]interface{}{
			"field":        field.Identifier(),
			"contact_kind": string(kind),
		}})
	} else {
		a.addEngagement(a.cfg.FieldFocusPoints)
	}
	a.mu.Unlock()

	a.emit(events)
}

// Input records an input or change on a form control. When the control is
// a contact field holding a plausible value, the capture candidate is
// returned for the local store.
func (a *Aggregator) Input(field FormField) (Capture, bool) {
	kind, contact := ContactKindOf(field, a.cfg.ContactFields)

	a.mu.Lock()
	if contact {
		a.addEngagement(a.cfg.ContactInputPoints)
	} else {
		a.addEngagement(a.cfg.FieldInputPoints)
	}
	a.mu.Unlock()

	if !contact {
		return Capture{}, false
	}
	value, ok := NormalizeContact(kind, field.Value)
	if !ok {
		return Capture{}, false
	}
	return Capture{Kind: kind, Value: value}, true
}

// Click records a click and returns its category
func (a *Aggregator) Click(target ClickTarget) ClickCategory {
	category := ClassifyClick(target, a.cfg.Clicks)

	a.mu.Lock()
	var events []pendingEvent
	switch category {
	case ClickContact:
		a.addEngagement(a.cfg.ContactClickEngagement)
		a.addIntent(a.cfg.ContactClickIntent)
	case ClickProperty:
		a.addEngagement(a.cfg.PropertyClickEngagement)
		a.addIntent(a.cfg.PropertyClickIntent)
	default:
		a.addEngagement(a.cfg.GenericClickEngagement)
	}
	if category != ClickGeneric {
		events = append(events, pendingEvent{EventClick, map[string]interface{}{
			"category": string(category),
			"tag":      target.Tag,
			"text":     truncate(target.Text, 100),
			"href":     target.Href,
		}})
	}
	a.mu.Unlock()

	a.emit(events)
	return category
}

// Scroll records a scroll to depth percent of the page
func (a *Aggregator) Scroll(depth float64) {
	depth = math.Max(0, math.Min(100, depth))

	a.mu.Lock()
	defer a.mu.Unlock()

	if depth > a.session.MaxScrollDepth {
		a.session.MaxScrollDepth = depth
	}
	for milestone := int(a.session.MaxScrollDepth / 25); a.scrollMilestones < milestone; {
		a.scrollMilestones++
		a.addEngagement(a.cfg.ScrollMilestonePoints)
	}
}

// Visibility records the page being hidden or shown again
func (a *Aggregator) Visibility(hidden bool) {
	a.mu.Lock()
	if hidden == a.hidden {
		a.mu.Unlock()
		return
	}
	now := a.clock.Now()
	a.hidden = hidden

	var ev pendingEvent
	if hidden {
		a.hiddenAt = now
		ev = pendingEvent{EventHidden, map[string]interface{}{
			"time_on_page_ms":  now.Sub(a.session.StartTime).Milliseconds(),
			"engagement_score": a.session.EngagementScore,
			"scroll_depth":     a.session.MaxScrollDepth,
		}}
	} else {
		ev = pendingEvent{EventVisible, map[string]interface{}{
			"time_away_ms": now.Sub(a.hiddenAt).Milliseconds(),
		}}
	}
	a.mu.Unlock()

	a.emit([]pendingEvent{ev})
}

// RecordPageView counts a page view
func (a *Aggregator) RecordPageView() {
	a.mu.Lock()
	a.session.PageViews++
	a.mu.Unlock()
}

// RecordPropertyView counts a property view
func (a *Aggregator) RecordPropertyView() {
	a.mu.Lock()
	a.session.PropertyViews++
	a.mu.Unlock()
}

// RecordSearch counts a search
func (a *Aggregator) RecordSearch() {
	a.mu.Lock()
	a.session.Searches++
	a.mu.Unlock()
}

// SetContact stores an identified contact field on the session
func (a *Aggregator) SetContact(kind models.ContactKind, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Contact == nil {
		a.session.Contact = &models.ContactInfo{}
	}
	a.session.Contact.Set(kind, value)
}

// SetPatterns replaces the analyzer output on the session. The intent
// score keeps the higher of the current and the new value.
func (a *Aggregator) SetPatterns(p models.BehaviorPatterns) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := p.Clone()
	if cur := a.session.Patterns.IntentScore; cur > next.IntentScore {
		next.IntentScore = cur
	}
	a.session.Patterns = next
}

// ClickIntent returns the intent accumulated from clicks
func (a *Aggregator) ClickIntent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intent
}

// MovementCount returns the number of pointer movements seen
func (a *Aggregator) MovementCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moves
}

// Snapshot returns a copy of the session state with time on page filled in
func (a *Aggregator) Snapshot() models.SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.session.Clone()
	s.TimeOnPage = a.clock.Now().Sub(s.StartTime)
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
