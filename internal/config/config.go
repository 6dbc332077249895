package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the complete application configuration
type AppConfig struct {
	Collector  CollectorConfig  `yaml:"collector"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Store      StoreConfig      `yaml:"store"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Loader     LoaderConfig     `yaml:"loader"`
	Proxies    ProxyConfig      `yaml:"proxies"`
	Browser    BrowserConfig    `yaml:"browser"`
}

// CollectorConfig holds the delivery settings injected by the host page.
// An empty Endpoint disables delivery.
type CollectorConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Nonce         string        `yaml:"nonce"`
	SessionID     string        `yaml:"session_id"`
	Debug         bool          `yaml:"debug"`
	Timeout       time.Duration `yaml:"timeout"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// Viewport is the configured rendering size reported with every event
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// TrackerConfig holds the tracker timer settings
type TrackerConfig struct {
	IdleCheckInterval   time.Duration `yaml:"idle_check_interval"`
	IdleThreshold       time.Duration `yaml:"idle_threshold"`
	AnalysisInterval    time.Duration `yaml:"analysis_interval"`
	PerformanceInterval time.Duration `yaml:"performance_interval"`
	UserAgent           string        `yaml:"user_agent"`
	Viewport            Viewport      `yaml:"viewport"`
}

// ContactFieldRules lists the hints that mark a form control as a contact field
type ContactFieldRules struct {
	Email []string `yaml:"email"`
	Phone []string `yaml:"phone"`
	Name  []string `yaml:"name"`
}

// ClickRules lists the keywords used to classify click targets
type ClickRules struct {
	Contact  []string `yaml:"contact"`
	Property []string `yaml:"property"`
}

// ScoringConfig holds the behavior aggregator weights
type ScoringConfig struct {
	MovementSampleEvery     int               `yaml:"movement_sample_every"`
	MovementPoints          int               `yaml:"movement_points"`
	PurposefulBonus         int               `yaml:"purposeful_bonus"`
	PurposefulMinVelocity   float64           `yaml:"purposeful_min_velocity"`
	PurposefulMaxVelocity   float64           `yaml:"purposeful_max_velocity"`
	ContactFocusPoints      int               `yaml:"contact_focus_points"`
	FieldFocusPoints        int               `yaml:"field_focus_points"`
	ContactInputPoints      int               `yaml:"contact_input_points"`
	FieldInputPoints        int               `yaml:"field_input_points"`
	ContactClickEngagement  int               `yaml:"contact_click_engagement"`
	ContactClickIntent      int               `yaml:"contact_click_intent"`
	PropertyClickEngagement int               `yaml:"property_click_engagement"`
	PropertyClickIntent     int               `yaml:"property_click_intent"`
	GenericClickEngagement  int               `yaml:"generic_click_engagement"`
	ScrollMilestonePoints   int               `yaml:"scroll_milestone_points"`
	ContactFields           ContactFieldRules `yaml:"contact_fields"`
	Clicks                  ClickRules        `yaml:"clicks"`
}

// AnalyzerConfig holds the pattern analyzer thresholds
type AnalyzerConfig struct {
	MinSearches       int           `yaml:"min_searches"`
	MinPropertyViews  int           `yaml:"min_property_views"`
	HighIntentScore   int           `yaml:"high_intent_score"`
	ConsistencyCutoff float64       `yaml:"consistency_cutoff"`
	EngagementCutoff  int           `yaml:"engagement_cutoff"`
	SearchLookback    time.Duration `yaml:"search_lookback"`
}

// StoreConfig holds the local store settings
type StoreConfig struct {
	Backend          string        `yaml:"backend"`
	Path             string        `yaml:"path"`
	Retention        time.Duration `yaml:"retention"`
	MaxSearches      int           `yaml:"max_searches"`
	MaxPropertyViews int           `yaml:"max_property_views"`
	QuotaBytes       int           `yaml:"quota_bytes"`
}

// ExtractionConfig holds the selector catalog and the property id URL patterns.
// Each selector may end in "@attr" to read an attribute instead of text.
// The property id comes from IDPatterns only, so the catalog has no id field.
type ExtractionConfig struct {
	Selectors  map[string][]string `yaml:"selectors"`
	IDPatterns []string            `yaml:"id_patterns"`
}

// ClassifierConfig holds the page classification rule table
type ClassifierConfig struct {
	PropertyPaths     []string `yaml:"property_paths"`
	PropertySelectors []string `yaml:"property_selectors"`
	SearchMarkers     []string `yaml:"search_markers"`
	SearchSelectors   []string `yaml:"search_selectors"`
	WPLMarkers        []string `yaml:"wpl_markers"`
	WPLSelectors      []string `yaml:"wpl_selectors"`
}

// WatcherConfig holds the mutation watcher settings
type WatcherConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Source       string        `yaml:"source"`
	Path         string        `yaml:"path"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoaderConfig holds the page loading configuration
type LoaderConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	UserAgents []string      `yaml:"user_agents,omitempty"`
}

// ProxyConfig holds the proxy configuration
type ProxyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Rotate  bool     `yaml:"rotate"`
	List    []string `yaml:"list"`
	Auth    struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
}

// BrowserConfig holds the headless browser configuration
type BrowserConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Headless  bool          `yaml:"headless"`
	UserAgent string        `yaml:"user_agent"`
	WaitTime  time.Duration `yaml:"wait_time"`
}

// Load loads the configuration from a YAML file on top of the defaults
func Load(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	config := CreateDefault()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filename, err)
	}

	// Set default user agents if none provided
	if len(config.Loader.UserAgents) == 0 {
		config.Loader.UserAgents = DefaultUserAgents
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *AppConfig) Validate() error {
	switch c.Store.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store backend sqlite requires a path")
	}
	switch c.Watcher.Source {
	case "", "file", "browser", "manual":
	default:
		return fmt.Errorf("unsupported watcher source: %s", c.Watcher.Source)
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store retention must be positive")
	}
	if c.Analyzer.ConsistencyCutoff < 0 || c.Analyzer.ConsistencyCutoff > 1 {
		return fmt.Errorf("analyzer consistency cutoff must be within [0,1]")
	}
	return nil
}

// CreateDefault creates a default configuration
func CreateDefault() *AppConfig {
	return &AppConfig{
		Collector: CollectorConfig{
			Timeout:       10 * time.Second,
			Workers:       2,
			QueueSize:     256,
			RatePerSecond: 20,
			Burst:         10,
		},
		Tracker: TrackerConfig{
			IdleCheckInterval:   10 * time.Second,
			IdleThreshold:       60 * time.Second,
			AnalysisInterval:    30 * time.Second,
			PerformanceInterval: 60 * time.Second,
			UserAgent:           DefaultUserAgents[0],
			Viewport:            Viewport{Width: 1366, Height: 768},
		},
		Scoring: ScoringConfig{
			MovementSampleEvery:     100,
			MovementPoints:          1,
			PurposefulBonus:         2,
			PurposefulMinVelocity:   0.1,
			PurposefulMaxVelocity:   3.0,
			ContactFocusPoints:      5,
			FieldFocusPoints:        2,
			ContactInputPoints:      3,
			FieldInputPoints:        1,
			ContactClickEngagement:  10,
			ContactClickIntent:      20,
			PropertyClickEngagement: 5,
			PropertyClickIntent:     5,
			GenericClickEngagement:  1,
			ScrollMilestonePoints:   2,
			ContactFields:           DefaultContactFieldRules(),
			Clicks:                  DefaultClickRules(),
		},
		Analyzer: AnalyzerConfig{
			MinSearches:       3,
			MinPropertyViews:  5,
			HighIntentScore:   75,
			ConsistencyCutoff: 0.7,
			EngagementCutoff:  100,
			SearchLookback:    7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:          "memory",
			Retention:        24 * time.Hour,
			MaxSearches:      50,
			MaxPropertyViews: 100,
		},
		Extraction: ExtractionConfig{
			Selectors:  DefaultSelectors(),
			IDPatterns: append([]string(nil), DefaultIDPatterns...),
		},
		Classifier: DefaultClassifier(),
		Watcher: WatcherConfig{
			Source:       "file",
			Debounce:     500 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Loader: LoaderConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: 2 * time.Second,
			UserAgents: DefaultUserAgents,
		},
		Proxies: ProxyConfig{
			Rotate: true,
			List:   []string{},
		},
		Browser: BrowserConfig{
			Headless:  true,
			UserAgent: DefaultUserAgents[0],
			WaitTime:  3 * time.Second,
		},
	}
}
