// Package watcher turns content change signals into debounced callbacks.
//
// A Source reports that the watched page may have changed. The Watcher
// waits for a quiet period after the last signal and then calls the change
// handler once, so a burst of mutations leads to a single re-extraction.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
)

// DefaultDebounce is the quiet period used when none is configured
const DefaultDebounce = 500 * time.Millisecond

// Source emits change signals until ctx is done
type Source interface {
	Name() string
	Run(ctx context.Context, signal func()) error
}

// Handler is called after a burst of changes has settled
type Handler func(ctx context.Context)

// Watcher debounces the signals of one source
type Watcher struct {
	source   Source
	debounce time.Duration
	onChange Handler
	logger   *zap.Logger

	signals chan struct{}
	fired   atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a watcher over source
func New(source Source, debounce time.Duration, onChange Handler, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		source:   source,
		debounce: debounce,
		onChange: onChange,
		logger:   logging.OrNop(logger).Named("watcher"),
		signals:  make(chan struct{}, 1),
	}
}

// NewSource builds the source named by the watcher configuration. pageURL
// is the page being tracked; the file source watches the path it points to
// unless a path is configured.
func NewSource(cfg *config.WatcherConfig, browser *config.BrowserConfig, pageURL string, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = pageURL
		}
		return NewFileSource(path, logger), nil
	case "browser":
		return NewBrowserSource(pageURL, browser, cfg.PollInterval, logger), nil
	case "manual":
		return NewManualSource(), nil
	}
	return nil, fmt.Errorf("unsupported watcher source: %s", cfg.Source)
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.onChange == nil {
		return errors.New("watcher: no change handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.source.Run(gctx, w.signal)
	})
	g.Go(func() error {
		w.loop(gctx)
		return nil
	})

	w.running = true
	w.cancel = cancel
	w.group = g
	w.logger.Info("Watching for content changes",
		zap.String("source", w.source.Name()),
		zap.Duration("debounce", w.debounce))
	return nil
}

// Stop ends watching and waits for the source and pending callback. The
// returned error is the source failure, if any.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, g := w.cancel, w.group
	w.mu.Unlock()

	cancel()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		w.logger.Warn("Watcher source failed", zap.String("source", w.source.Name()), zap.Error(err))
	}
	return err
}

// Fired returns how many times the change handler ran
func (w *Watcher) Fired() int64 {
	return w.fired.Load()
}

func (w *Watcher) signal() {
	select {
	case w.signals <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signals:
			pending++
			timer.Reset(w.debounce)
		case <-timer.C:
			w.logger.Debug("Content settled", zap.Int("signals", pending))
			pending = 0
			w.fired.Add(1)
			w.onChange(ctx)
		}
	}
}
