package models

import (
	"time"
)

// UnknownPropertyID is used when no property id can be resolved from the URL
const UnknownPropertyID = "unknown"

// EngagementLevel is the coarse engagement classification of a session
type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

// ContactKind names one of the identified contact fields
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
	ContactName  ContactKind = "name"
)

// ContactInfo holds contact fields identified during a session
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Empty reports whether no contact field is known
func (c ContactInfo) Empty() bool {
	return c.Email == "" && c.Phone == "" && c.Name == ""
}

// Get returns the value for a contact kind
func (c ContactInfo) Get(kind ContactKind) string {
	switch kind {
	case ContactEmail:
		return c.Email
	case ContactPhone:
		return c.Phone
	case ContactName:
		return c.Name
	}
	return ""
}

// Set assigns the value for a contact kind
func (c *ContactInfo) Set(kind ContactKind, value string) {
	switch kind {
	case ContactEmail:
		c.Email = value
	case ContactPhone:
		c.Phone = value
	case ContactName:
		c.Name = value
	}
}

// BehaviorPatterns is the output of the pattern analyzer
type BehaviorPatterns struct {
	SearchConsistency   float64         `json:"searchConsistency"`
	PropertyPreferences map[string]int  `json:"propertyPreferences"`
	EngagementLevel     EngagementLevel `json:"engagementLevel"`
	IntentScore         int             `json:"intentScore"`
	LastAnalysis        *time.Time      `json:"lastAnalysis"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (p BehaviorPatterns) Clone() BehaviorPatterns {
	out := p
	if p.PropertyPreferences != nil {
		out.PropertyPreferences = make(map[string]int, len(p.PropertyPreferences))
		for k, v := range p.PropertyPreferences {
			out.PropertyPreferences[k] = v
		}
	}
	if p.LastAnalysis != nil {
		t := *p.LastAnalysis
		out.LastAnalysis = &t
	}
	return out
}

// SessionState is the per-page-load tracking state
type SessionState struct {
	StartTime       time.Time        `json:"startTime"`
	PageViews       int              `json:"pageViews"`
	PropertyViews   int              `json:"propertyViews"`
	Searches        int              `json:"searches"`
	EngagementScore int              `json:"engagementScore"`
	TimeOnPage      time.Duration    `json:"timeOnPage"`
	MaxScrollDepth  float64          `json:"maxScrollDepth"`
	Contact         *ContactInfo     `json:"contact,omitempty"`
	Patterns        BehaviorPatterns `json:"behaviorPatterns"`
}

// Clone returns a deep copy of the session state
func (s SessionState) Clone() SessionState {
	out := s
	if s.Contact != nil {
		c := *s.Contact
		out.Contact = &c
	}
	out.Patterns = s.Patterns.Clone()
	return out
}

// PropertyRecord represents the property data extracted from a page.
// Nil fields were not found or could not be parsed.
type PropertyRecord struct {
	ID           string    `json:"id"`
	Price        *int64    `json:"price"`
	Address      *string   `json:"address"`
	Bedrooms     *float64  `json:"bedrooms"`
	Bathrooms    *float64  `json:"bathrooms"`
	Sqft         *float64  `json:"sqft"`
	PropertyType *string   `json:"propertyType"`
	Location     *string   `json:"location"`
	URL          string    `json:"url"`
	Timestamp    time.Time `json:"timestamp"`
}

// SearchRecord represents one search performed by the visitor
type SearchRecord struct {
	Criteria  map[string]string `json:"criteria"`
	URL       string            `json:"url"`
	Timestamp time.Time         `json:"timestamp"`
}

// BehaviorHistory is the persisted behavior blob
type BehaviorHistory struct {
	SearchHistory []SearchRecord   `json:"searchHistory"`
	PropertyViews []PropertyRecord `json:"propertyViews"`
	LastUpdated   time.Time        `json:"lastUpdated"`
}

// Viewport is the size of the rendering area
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventEnvelope is the payload delivered to the collector
type EventEnvelope struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Data      interface{}      `json:"data"`
	SessionID string           `json:"sessionId"`
	Session   SessionState     `json:"sessionData"`
	Patterns  BehaviorPatterns `json:"behaviorPatterns"`
	UserAgent string           `json:"userAgent"`
	Viewport  Viewport         `json:"viewport"`
	Contact   *ContactInfo     `json:"contact,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Snapshot is the session view used to enrich outgoing events
type Snapshot struct {
	Session  SessionState
	Patterns BehaviorPatterns
	Contact  *ContactInfo
}
