package io

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/analyzer"
	"github.com/williampepple1/lead-tracker/internal/behavior"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/internal/tracker"
)

// Target receives replayed interactions; *tracker.Tracker implements it
type Target interface {
	LoadPage(ctx context.Context, url string) (tracker.View, error)
	MouseMove(x, y float64)
	Focus(field behavior.FormField)
	Input(ctx context.Context, field behavior.FormField) bool
	Click(target behavior.ClickTarget) behavior.ClickCategory
	Scroll(depth float64)
	Visibility(hidden bool)
	CheckIdle() bool
	Analyze(ctx context.Context) analyzer.Result
	Unload(ctx context.Context)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Replayer feeds a script into a target
type Replayer struct {
	Target Target
	Sleep  SleepFunc
	logger *zap.Logger
}

// NewReplayer creates a replayer that waits in real time
func NewReplayer(target Target, logger *zap.Logger) *Replayer {
	return &Replayer{
		Target: target,
		Sleep:  Sleep,
		logger: logging.OrNop(logger).Named("replay"),
	}
}

// Run replays steps in order and returns the views of the loaded pages.
// A page that fails to load stops the replay.
func (r *Replayer) Run(ctx context.Context, steps []Step) ([]tracker.View, error) {
	var views []tracker.View
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return views, err
		}

		switch step.Type {
		case StepLoad:
			view, err := r.Target.LoadPage(ctx, step.URL)
			if err != nil {
				return views, fmt.Errorf("step %d: %w", i+1, err)
			}
			views = append(views, view)
		case StepMove:
			r.Target.MouseMove(step.X, step.Y)
		case StepFocus:
			r.Target.Focus(*step.Field)
		case StepInput:
			r.Target.Input(ctx, *step.Field)
		case StepClick:
			r.Target.Click(*step.Target)
		case StepScroll:
			r.Target.Scroll(step.Depth)
		case StepHide:
			r.Target.Visibility(true)
		case StepShow:
			r.Target.Visibility(false)
		case StepWait:
			if err := r.Sleep(ctx, step.Duration()); err != nil {
				return views, err
			}
		case StepIdleCheck:
			r.Target.CheckIdle()
		case StepAnalyze:
			r.Target.Analyze(ctx)
		case StepUnload:
			r.Target.Unload(ctx)
		default:
			return views, fmt.Errorf("step %d: unknown step type %q", i+1, step.Type)
		}
		r.logger.Debug("Replayed step", zap.Int("step", i+1), zap.String("type", step.Type))
	}
	return views, nil
}
