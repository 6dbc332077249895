// Package store persists identified contact fields and a time-windowed
// behavior history across page loads. Persistence is best-effort: every
// failure is logged and swallowed.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/clock"
	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// Persistence keys
const (
	KeyEmail   = "lt_contact_email"
	KeyPhone   = "lt_contact_phone"
	KeyName    = "lt_contact_name"
	KeyHistory = "lt_behavior_history"
)

// ContactKey returns the persistence key of a contact kind
func ContactKey(kind models.ContactKind) string {
	switch kind {
	case models.ContactEmail:
		return KeyEmail
	case models.ContactPhone:
		return KeyPhone
	case models.ContactName:
		return KeyName
	}
	return ""
}

// Store is the local store of one tracker
type Store struct {
	backend Backend
	window  Window
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	contact models.ContactInfo
}

// New creates a store over backend
func New(backend Backend, cfg *config.StoreConfig, clk clock.Clock, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		window: Window{
			Retention:        cfg.Retention,
			MaxSearches:      cfg.MaxSearches,
			MaxPropertyViews: cfg.MaxPropertyViews,
		},
		clock:  clock.OrReal(clk),
		logger: logging.OrNop(logger).Named("store"),
	}
}

// Open creates the backend named by the configuration and wraps it
func Open(cfg *config.StoreConfig, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "memory":
		backend = NewMemoryBackend(cfg.QuotaBytes)
	case "sqlite":
		b, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
	return New(backend, cfg, clk, logger), nil
}

// Window returns the retention policy
func (s *Store) Window() Window { return s.window }

// Load reads the contact fields and the behavior history. History outside
// the retention window is discarded, and the pruned blob written back.
func (s *Store) Load(ctx context.Context) (models.BehaviorHistory, models.ContactInfo) {
	var contact models.ContactInfo
	for _, kind := range []models.ContactKind{models.ContactEmail, models.ContactPhone, models.ContactName} {
		v, ok, err := s.backend.Get(ctx, ContactKey(kind))
		if err != nil {
			s.logger.Warn("Failed to read contact field", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		if ok {
			contact.Set(kind, v)
		}
	}

	s.mu.Lock()
	s.contact = contact
	s.mu.Unlock()

	var stored models.BehaviorHistory
	raw, ok, err := s.backend.Get(ctx, KeyHistory)
	switch {
	case err != nil:
		s.logger.Warn("Failed to read behavior history", zap.Error(err))
		return models.BehaviorHistory{}, contact
	case !ok:
		return models.BehaviorHistory{}, contact
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("Discarding unreadable behavior history", zap.Error(err))
		return models.BehaviorHistory{}, contact
	}

	pruned := s.window.Apply(stored, s.clock.Now())
	if len(pruned.SearchHistory) != len(stored.SearchHistory) || len(pruned.PropertyViews) != len(stored.PropertyViews) {
		s.logger.Debug("Purged expired behavior history",
			zap.Int("searches_dropped", len(stored.SearchHistory)-len(pruned.SearchHistory)),
			zap.Int("views_dropped", len(stored.PropertyViews)-len(pruned.PropertyViews)))
		s.write(ctx, pruned)
	}
	return pruned, contact
}

// SaveHistory overwrites the stored history with the retained window of h
// and returns what was written. Stored entries are not merged.
func (s *Store) SaveHistory(ctx context.Context, h models.BehaviorHistory) models.BehaviorHistory {
	now := s.clock.Now()
	pruned := s.window.Apply(h, now)
	pruned.LastUpdated = now
	s.write(ctx, pruned)
	return pruned
}

func (s *Store) write(ctx context.Context, h models.BehaviorHistory) {
	data, err := json.Marshal(h)
	if err != nil {
		s.logger.Warn("Failed to encode behavior history", zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, KeyHistory, string(data)); err != nil {
		s.logger.Warn("Failed to persist behavior history", zap.Int("bytes", len(data)), zap.Error(err))
	}
}

// SetContact caches and persists one contact field. It reports whether
// value is new, which is when a contact_identified event is due. The
// write itself is best-effort.
func (s *Store) SetContact(ctx context.Context, kind models.ContactKind, value string) bool {
	key := ContactKey(kind)
	if key == "" || value == "" {
		return false
	}

	s.mu.Lock()
	if s.contact.Get(kind) == value {
		s.mu.Unlock()
		return false
	}
	s.contact.Set(kind, value)
	s.mu.Unlock()

	if err := s.backend.Set(ctx, key, value); err != nil {
		s.logger.Warn("Failed to persist contact field", zap.String("kind", string(kind)), zap.Error(err))
	}
	return true
}

// Contact returns the cached contact fields
func (s *Store) Contact() models.ContactInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contact
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
