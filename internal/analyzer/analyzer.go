// Package analyzer reduces the behavior history and session scores into
// BehaviorPatterns and decides when to propose a saved search.
package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Intent weights applied on top of the click-derived intent
const (
	searchIntent       = 10
	propertyViewIntent = 5
	contactIntent      = 25
)

// Input is everything one analysis pass looks at
type Input struct {
	Session     models.SessionState
	History     models.BehaviorHistory
	ClickIntent int
	Now         time.Time
}

// Result is the outcome of one analysis pass
type Result struct {
	Patterns          models.BehaviorPatterns `json:"patterns"`
	RecentSearches    int                     `json:"recentSearches"`
	CreateSavedSearch bool                    `json:"createSavedSearch"`
	SuggestedCriteria map[string]string       `json:"suggestedCriteria,omitempty"`
}

// Analyzer applies the configured thresholds
type Analyzer struct {
	Thresholds *config.AnalyzerConfig
}

// New creates an analyzer
func New(thresholds *config.AnalyzerConfig) *Analyzer {
	return &Analyzer{Thresholds: thresholds}
}

// Analyze computes the new patterns. The intent score never drops below
// the previous value carried on the session.
func (a *Analyzer) Analyze(in Input) Result {
	recent := a.recentSearches(in.History.SearchHistory, in.Now)

	intent := a.intentScore(in)
	if prev := in.Session.Patterns.IntentScore; prev > intent {
		intent = prev
	}

	now := in.Now
	patterns := models.BehaviorPatterns{
		SearchConsistency:   SearchConsistency(recent),
		PropertyPreferences: PropertyPreferences(in.History.PropertyViews),
		EngagementLevel:     a.engagementLevel(in.Session),
		IntentScore:         intent,
		LastAnalysis:        &now,
	}

	result := Result{
		Patterns:       patterns,
		RecentSearches: len(recent),
	}
	result.CreateSavedSearch = a.ShouldCreateSavedSearch(len(recent), patterns)
	if result.CreateSavedSearch {
		result.SuggestedCriteria = DominantCriteria(recent)
	}
	return result
}

// ShouldCreateSavedSearch requires enough recent searches and either a
// consistent search pattern or a high intent score
func (a *Analyzer) ShouldCreateSavedSearch(recentSearches int, p models.BehaviorPatterns) bool {
	if recentSearches < a.Thresholds.MinSearches {
		return false
	}
	return p.SearchConsistency >= a.Thresholds.ConsistencyCutoff ||
		p.IntentScore >= a.Thresholds.HighIntentScore
}

func (a *Analyzer) recentSearches(searches []models.SearchRecord, now time.Time) []models.SearchRecord {
	cutoff := now.Add(-a.Thresholds.SearchLookback)
	out := make([]models.SearchRecord, 0, len(searches))
	for _, s := range searches {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (a *Analyzer) intentScore(in Input) int {
	score := in.ClickIntent
	score += len(in.History.SearchHistory) * searchIntent
	score += len(in.History.PropertyViews) * propertyViewIntent
	if in.Session.Contact != nil && !in.Session.Contact.Empty() {
		score += contactIntent
	}
	score += in.Session.EngagementScore / 10
	return score
}

func (a *Analyzer) engagementLevel(s models.SessionState) models.EngagementLevel {
	cutoff := a.Thresholds.EngagementCutoff
	switch {
	case s.EngagementScore >= cutoff:
		return models.EngagementHigh
	case s.EngagementScore >= cutoff/2 || s.PropertyViews >= a.Thresholds.MinPropertyViews:
		return models.EngagementMedium
	}
	return models.EngagementLow
}

// SearchConsistency measures how alike the searches are: for every
// criterion, the share of all searches using its most common value,
// averaged over criteria. A criterion missing from a search counts against
// it, so searches with nothing in common score low. Fewer than two
// searches have no pattern and score 0.
func SearchConsistency(searches []models.SearchRecord) float64 {
	if len(searches) < 2 {
		return 0
	}
	counts := criteriaCounts(searches)
	if len(counts) == 0 {
		return 0
	}

	var total float64
	for _, values := range counts {
		total += float64(topCount(values)) / float64(len(searches))
	}
	return total / float64(len(counts))
}

// DominantCriteria returns the most common value of each criterion used
// by at least half of the searches
func DominantCriteria(searches []models.SearchRecord) map[string]string {
	out := make(map[string]string)
	for key, values := range criteriaCounts(searches) {
		best, top := "", 0
		for v, n := range values {
			if n > top || (n == top && v < best) {
				best, top = v, n
			}
		}
		if top*2 >= len(searches) {
			out[key] = best
		}
	}
	return out
}

func topCount(values map[string]int) int {
	top := 0
	for _, n := range values {
		if n > top {
			top = n
		}
	}
	return top
}

func criteriaCounts(searches []models.SearchRecord) map[string]map[string]int {
	counts := make(map[string]map[string]int)
	for _, s := range searches {
		for k, v := range s.Criteria {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if counts[k] == nil {
				counts[k] = make(map[string]int)
			}
			counts[k][v]++
		}
	}
	return counts
}

// PropertyPreferences counts attribute values across viewed properties,
// keyed "attribute:value" (e.g. "location:austin", "bedrooms:3")
func PropertyPreferences(views []models.PropertyRecord) map[string]int {
	prefs := make(map[string]int)
	for _, v := range views {
		if v.PropertyType != nil {
			prefs["type:"+strings.ToLower(*v.PropertyType)]++
		}
		if v.Location != nil {
			prefs["location:"+strings.ToLower(*v.Location)]++
		}
		if v.Bedrooms != nil {
			prefs[fmt.Sprintf("bedrooms:%g", *v.Bedrooms)]++
		}
		if v.Price != nil {
			prefs["price:"+PriceBand(*v.Price)]++
		}
	}
	return prefs
}

var priceBands = []struct {
	limit int64
	label string
}{
	{250000, "under-250k"},
	{500000, "250k-500k"},
	{1000000, "500k-1m"},
}

// PriceBand buckets a price for preference counting
func PriceBand(price int64) string {
	i := sort.Search(len(priceBands), func(i int) bool { return price < priceBands[i].limit })
	if i == len(priceBands) {
		return "1m-plus"
	}
	return priceBands[i].label
}
