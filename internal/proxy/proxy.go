package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/williampepple1/lead-tracker/internal/config"
)

// Manager routes outbound requests (page loads and collector delivery)
// through the configured proxies, round-robin when rotation is on
type Manager struct {
	cfg  *config.ProxyConfig
	next atomic.Uint64
}

// NewManager creates a new proxy manager
func NewManager(cfg *config.ProxyConfig) *Manager {
	return &Manager{cfg: cfg}
}

func (m *Manager) active() bool {
	return m != nil && m.cfg != nil && m.cfg.Enabled && len(m.cfg.List) > 0
}

// Next returns the proxy for the next request, or nil when proxies are
// disabled
func (m *Manager) Next() (*url.URL, error) {
	if !m.active() {
		return nil, nil
	}

	raw := m.cfg.List[0]
	if m.cfg.Rotate {
		raw = m.cfg.List[(m.next.Add(1)-1)%uint64(len(m.cfg.List))]
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if auth := m.cfg.Auth; auth.Username != "" && auth.Password != "" {
		u.User = url.UserPassword(auth.Username, auth.Password)
	}
	return u, nil
}

// Client returns an HTTP client with the given timeout. When proxies are
// enabled each request picks its proxy through Next.
func (m *Manager) Client(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if m.active() {
		transport.Proxy = func(*http.Request) (*url.URL, error) { return m.Next() }
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
