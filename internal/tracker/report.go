package tracker

import (
	"time"

	"github.com/williampepple1/lead-tracker/internal/analyzer"
	"github.com/williampepple1/lead-tracker/internal/dispatch"
	"github.com/williampepple1/lead-tracker/internal/metrics"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Report summarizes a tracking session
type Report struct {
	SessionID   string                 `json:"sessionId" yaml:"session_id"`
	GeneratedAt time.Time              `json:"generatedAt" yaml:"generated_at"`
	Session     models.SessionState    `json:"session" yaml:"session"`
	History     models.BehaviorHistory `json:"history" yaml:"history"`
	Views       []View                 `json:"views,omitempty" yaml:"views,omitempty"`
	Analysis    *analyzer.Result       `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Delivery    dispatch.Stats         `json:"delivery" yaml:"delivery"`
	Performance metrics.Summary        `json:"performance" yaml:"performance"`
}

// Report builds the session report; views are the pages handled so far
func (t *Tracker) Report(views []View) Report {
	r := Report{
		SessionID:   t.SessionID(),
		GeneratedAt: t.clock.Now(),
		Session:     t.aggregator.Snapshot(),
		History:     t.History(),
		Views:       views,
		Delivery:    t.dispatcher.Stats(),
		Performance: t.perf.Snapshot(),
	}
	if last, ok := t.LastAnalysis(); ok {
		r.Analysis = &last
	}
	return r
}
