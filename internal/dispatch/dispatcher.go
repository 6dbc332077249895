// Package dispatch delivers tracking events to the remote collector.
//
// Delivery is fire-and-forget: Dispatch enqueues and returns, a small
// worker pool posts the envelope through the primary transport and falls
// back to the secondary one when the primary cannot complete the request.
// Failures are logged and never retried.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/metrics"
	"github.com/williampepple1/lead-tracker/internal/proxy"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// State is the delivery state of one event
type State int

const (
	StateIdle State = iota
	StateSending
	StateDelivered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Delivery is the outcome of delivering one envelope
type Delivery struct {
	EventID    string
	EventType  string
	State      State
	Transport  string
	FellBack   bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Stats counts delivery outcomes
type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// SnapshotFunc returns the session view used to enrich events
type SnapshotFunc func() models.Snapshot

// Dispatcher enriches and delivers events
type Dispatcher struct {
	cfg       *config.CollectorConfig
	sessionID string
	primary   Transport
	secondary Transport
	snapshot  SnapshotFunc
	metrics   metrics.Sink
	clock     clock.Clock
	logger    *zap.Logger
	userAgent string
	viewport  models.Viewport
	hook      func(Delivery)
	proxies   *proxy.Manager

	limiter      *rate.Limiter
	disabledOnce sync.Once

	mu      sync.Mutex
	jobs    chan models.EventEnvelope
	started bool
	stopped bool
	wg      sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTransports replaces the primary and secondary transports
func WithTransports(primary, secondary Transport) Option {
	return func(d *Dispatcher) { d.primary, d.secondary = primary, secondary }
}

// WithSnapshot sets the session snapshot source
func WithSnapshot(f SnapshotFunc) Option {
	return func(d *Dispatcher) { d.snapshot = f }
}

// WithMetrics sets the sink for round-trip times
func WithMetrics(s metrics.Sink) Option {
	return func(d *Dispatcher) { d.metrics = s }
}

// WithClock sets the clock used for timestamps and round-trip times
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClientInfo sets the user agent and viewport reported with events
func WithClientInfo(userAgent string, viewport models.Viewport) Option {
	return func(d *Dispatcher) { d.userAgent, d.viewport = userAgent, viewport }
}

// WithSessionID overrides the session id from the collector configuration
func WithSessionID(id string) Option {
	return func(d *Dispatcher) { d.sessionID = id }
}

// WithProxy routes the default transports through the proxy manager
func WithProxy(m *proxy.Manager) Option {
	return func(d *Dispatcher) { d.proxies = m }
}

// WithDeliveryHook is called after every delivery attempt
func WithDeliveryHook(f func(Delivery)) Option {
	return func(d *Dispatcher) { d.hook = f }
}

// New creates a dispatcher. Without WithTransports it posts forms and
// falls back to JSON, both over an HTTP client with the configured
// timeout and proxies.
func New(cfg *config.CollectorConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{cfg: cfg, sessionID: cfg.SessionID}
	for _, o := range opts {
		o(d)
	}
	if d.primary == nil && d.secondary == nil {
		client := d.proxies.Client(cfg.Timeout)
		d.primary = NewFormTransport(client)
		d.secondary = NewJSONTransport(client)
	}
	if d.snapshot == nil {
		d.snapshot = func() models.Snapshot { return models.Snapshot{} }
	}
	d.clock = clock.OrReal(d.clock)
	d.logger = logging.OrNop(d.logger).Named("dispatch")

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(limit, burst)
	return d
}

// Enabled reports whether a collector endpoint is configured
func (d *Dispatcher) Enabled() bool {
	return d.cfg.Endpoint != ""
}

// Start launches the delivery workers
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := d.cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	d.jobs = make(chan models.EventEnvelope, size)

	// queued events still drain after the caller's context ends
	workCtx := context.WithoutCancel(ctx)
	for w := 1; w <= workers; w++ {
		d.wg.Add(1)
		go d.worker(workCtx, w)
	}
}

// worker delivers envelopes from the jobs channel until it is closed
func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for env := range d.jobs {
		// Wait for rate limiter
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Debug("Rate limiter wait failed", zap.Int("worker", id), zap.Error(err))
		}
		d.Deliver(ctx, env)
	}
}

// Stop stops accepting events and waits for queued deliveries
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.started {
		close(d.jobs)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Dispatch enriches an event and hands it to the workers without waiting.
// Before Start the delivery runs on its own goroutine; after Stop the
// event is dropped.
func (d *Dispatcher) Dispatch(eventType string, data interface{}) {
	if !d.Enabled() {
		d.disabledOnce.Do(func() {
			d.logger.Info("Telemetry disabled: no collector endpoint configured",
				zap.String("event_type", eventType))
		})
		return
	}

	env := d.Envelope(eventType, data)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.stopped:
		d.drop(env, "dispatcher stopped")
	case d.started:
		select {
		case d.jobs <- env:
		default:
			d.drop(env, "queue full")
		}
	default:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.Deliver(context.Background(), env)
		}()
	}
}

func (d *Dispatcher) drop(env models.EventEnvelope, reason string) {
	d.dropped.Add(1)
	d.logger.Warn("Dropping event",
		zap.String("event_type", env.Type),
		zap.String("reason", reason))
}

// Envelope builds the enriched envelope for an event
func (d *Dispatcher) Envelope(eventType string, data interface{}) models.EventEnvelope {
	snap := d.snapshot()
	env := models.EventEnvelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		SessionID: d.sessionID,
		Session:   snap.Session,
		Patterns:  snap.Patterns,
		UserAgent: d.userAgent,
		Viewport:  d.viewport,
		Timestamp: d.clock.Now(),
	}
	if snap.Contact != nil && !snap.Contact.Empty() {
		c := *snap.Contact
		env.Contact = &c
	}
	return env
}

// Deliver runs one envelope through idle -> sending -> delivered|failed
func (d *Dispatcher) Deliver(ctx context.Context, env models.EventEnvelope) Delivery {
	result := Delivery{EventID: env.ID, EventType: env.Type, State: StateIdle}
	if !d.Enabled() {
		result.State = StateFailed
		result.Err = ErrTransportUnavailable
		return result
	}

	data, err := json.Marshal(env)
	if err != nil {
		return d.finish(result, StateFailed, err)
	}
	payload := Payload{
		Action:    ActionTrackEvent,
		EventType: env.Type,
		EventData: string(data),
		Nonce:     d.cfg.Nonce,
	}

	result.State = StateSending
	start := d.clock.Now()

	transport := d.primary
	status, err := d.send(ctx, transport, payload)
	if err != nil && d.secondary != nil {
		d.logger.Debug("Primary transport failed, falling back",
			zap.String("event_type", env.Type),
			zap.String("transport", name(transport)),
			zap.Error(err))
		transport = d.secondary
		result.FellBack = true
		status, err = d.send(ctx, transport, payload)
	}

	result.Duration = d.clock.Now().Sub(start)
	result.Transport = name(transport)
	result.StatusCode = status
	if d.metrics != nil {
		d.metrics.RecordAPIResponse(result.Duration)
	}

	if err == nil && (status < 200 || status > 299) {
		err = &StatusError{Code: status}
	}
	if err != nil {
		return d.finish(result, StateFailed, err)
	}
	return d.finish(result, StateDelivered, nil)
}

func (d *Dispatcher) send(ctx context.Context, t Transport, p Payload) (int, error) {
	if t == nil {
		return 0, ErrTransportUnavailable
	}
	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Send(ctx, d.cfg.Endpoint, p)
}

func (d *Dispatcher) finish(result Delivery, state State, err error) Delivery {
	result.State = state
	result.Err = err

	if state == StateDelivered {
		d.delivered.Add(1)
		d.logger.Debug("Event delivered",
			zap.String("event_type", result.EventType),
			zap.String("transport", result.Transport),
			zap.Duration("duration", result.Duration))
	} else {
		d.failed.Add(1)
		d.logger.Warn("Event delivery failed",
			zap.String("event_type", result.EventType),
			zap.String("transport", result.Transport),
			zap.Int("status", result.StatusCode),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
	}

	if d.hook != nil {
		d.hook(result)
	}
	return result
}

// Stats returns the delivery counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// StatusError is a non-success collector response
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector responded with status %d", e.Code)
}

// IsStatusError reports whether err is a non-success collector response
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

func name(t Transport) string {
	if t == nil {
		return ""
	}
	return t.Name()
}
