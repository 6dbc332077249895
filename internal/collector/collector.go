// Package collector is a development stand-in for the remote endpoint that
// receives tracking events. It accepts the same wire format the dispatcher
// sends, form-encoded or JSON.
package collector

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/dispatch"
	"github.com/williampepple1/lead-tracker/internal/logging"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

// AjaxPath is the WordPress style endpoint path
const AjaxPath = "/wp-admin/admin-ajax.php"

// Sink receives every accepted envelope
type Sink func(env models.EventEnvelope) error

// Server accepts tracking events over HTTP
type Server struct {
	nonce  string
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	received map[string]int
}

// New creates a collector. An empty nonce accepts any request.
func New(nonce string, sink Sink, logger *zap.Logger) *Server {
	if sink == nil {
		sink = func(models.EventEnvelope) error { return nil }
	}
	return &Server{
		nonce:    nonce,
		sink:     sink,
		logger:   logging.OrNop(logger).Named("collector"),
		received: make(map[string]int),
	}
}

// RegisterHTTP registers the collector endpoints on r
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Post("/", s.handleTrack)
	r.Post(AjaxPath, s.handleTrack)
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

// Handler returns a router serving the collector
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// Received returns the number of accepted events per type
func (s *Server) Received() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.received))
	for k, v := range s.received {
		out[k] = v
	}
	return out
}

type response struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var errBadPayload = errors.New("malformed payload")

func decodePayload(r *http.Request) (dispatch.Payload, error) {
	var p dispatch.Payload
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return p, errBadPayload
		}
		return p, nil
	}
	if err := r.ParseForm(); err != nil {
		return p, errBadPayload
	}
	p.Action = r.PostForm.Get("action")
	p.EventType = r.PostForm.Get("event_type")
	p.EventData = r.PostForm.Get("event_data")
	p.Nonce = r.PostForm.Get("nonce")
	return p, nil
}

// handleTrack accepts one event
// POST / and POST /wp-admin/admin-ajax.php
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Data: err.Error()})
		return
	}
	if p.Action != dispatch.ActionTrackEvent {
		writeJSON(w, http.StatusBadRequest, response{Data: "unknown action"})
		return
	}
	if s.nonce != "" && p.Nonce != s.nonce {
		s.logger.Warn("Rejected event with invalid nonce",
			zap.String("event_type", p.EventType),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusForbidden, response{Data: "invalid nonce"})
		return
	}

	var env models.EventEnvelope
	if err := json.Unmarshal([]byte(p.EventData), &env); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Data: "invalid event_data"})
		return
	}
	if env.Type == "" {
		env.Type = p.EventType
	}

	if err := s.sink(env); err != nil {
		s.logger.Error("Failed to store event", zap.String("event_type", env.Type), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Data: "storage failure"})
		return
	}

	s.mu.Lock()
	s.received[env.Type]++
	s.mu.Unlock()

	s.logger.Debug("Event received",
		zap.String("event_type", env.Type),
		zap.String("session_id", env.SessionID),
		zap.Int("intent_score", env.Patterns.IntentScore))
	writeJSON(w, http.StatusOK, response{Success: true})
}

// handleStats reports accepted events per type
// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Received())
}
