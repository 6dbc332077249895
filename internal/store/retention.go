package store

import (
	"time"

	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Window is the retention policy applied on every read and write of the
// behavior history
type Window struct {
	Retention        time.Duration
	MaxSearches      int
	MaxPropertyViews int
}

// Cutoff is the oldest timestamp still retained at now
func (w Window) Cutoff(now time.Time) time.Time {
	return now.Add(-w.Retention)
}

// Apply drops entries older than the retention window and keeps the most
// recent entries up to the caps
func (w Window) Apply(h models.BehaviorHistory, now time.Time) models.BehaviorHistory {
	cutoff := w.Cutoff(now)

	var searches []models.SearchRecord
	for _, s := range h.SearchHistory {
		if s.Timestamp.After(cutoff) {
			searches = append(searches, s)
		}
	}
	var views []models.PropertyRecord
	for _, v := range h.PropertyViews {
		if v.Timestamp.After(cutoff) {
			views = append(views, v)
		}
	}

	return models.BehaviorHistory{
		SearchHistory: tail(searches, w.MaxSearches),
		PropertyViews: tail(views, w.MaxPropertyViews),
		LastUpdated:   h.LastUpdated,
	}
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return append([]T(nil), items...)
}
