// Package metrics keeps the capped rolling samples used for internal
// diagnostics of delivery and extraction timings.
package metrics

import (
	"sync"
	"time"
)

const (
	// DefaultAPISamples caps the API response time list
	DefaultAPISamples = 100
	// DefaultExtractionSamples caps the extraction duration list
	DefaultExtractionSamples = 50
)

// Sink receives timing samples
type Sink interface {
	RecordAPIResponse(d time.Duration)
	RecordExtraction(d time.Duration)
}

// Ring is a capped list of durations that drops the oldest sample on overflow
type Ring struct {
	limit   int
	samples []time.Duration
}

// NewRing creates a ring holding at most limit samples
func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = 1
	}
	return &Ring{limit: limit, samples: make([]time.Duration, 0, limit)}
}

// Add appends a sample
func (r *Ring) Add(d time.Duration) {
	if len(r.samples) == r.limit {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:r.limit-1]
	}
	r.samples = append(r.samples, d)
}

// Values returns a copy of the samples, oldest first
func (r *Ring) Values() []time.Duration {
	out := make([]time.Duration, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of samples held
func (r *Ring) Len() int { return len(r.samples) }

// Average returns the mean sample, zero when empty
func (r *Ring) Average() time.Duration {
	if len(r.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range r.samples {
		total += s
	}
	return total / time.Duration(len(r.samples))
}

// Performance holds API response times and extraction durations.
// It is shared by the dispatcher workers and the tracker timers.
type Performance struct {
	mu          sync.Mutex
	api         *Ring
	extractions *Ring
}

// NewPerformance creates a Performance with the default caps
func NewPerformance() *Performance {
	return &Performance{
		api:         NewRing(DefaultAPISamples),
		extractions: NewRing(DefaultExtractionSamples),
	}
}

// RecordAPIResponse records one delivery round trip
func (p *Performance) RecordAPIResponse(d time.Duration) {
	p.mu.Lock()
	p.api.Add(d)
	p.mu.Unlock()
}

// RecordExtraction records one extraction pass
func (p *Performance) RecordExtraction(d time.Duration) {
	p.mu.Lock()
	p.extractions.Add(d)
	p.mu.Unlock()
}

// Summary is a point-in-time view of the performance samples
type Summary struct {
	APIResponseTimes  []time.Duration `json:"apiResponseTimes"`
	ExtractionTimes   []time.Duration `json:"extractionTimes"`
	AvgAPIResponse    time.Duration   `json:"avgApiResponse"`
	AvgExtractionTime time.Duration   `json:"avgExtractionTime"`
}

// Snapshot returns a copy of the current samples
func (p *Performance) Snapshot() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Summary{
		APIResponseTimes:  p.api.Values(),
		ExtractionTimes:   p.extractions.Values(),
		AvgAPIResponse:    p.api.Average(),
		AvgExtractionTime: p.extractions.Average(),
	}
}
