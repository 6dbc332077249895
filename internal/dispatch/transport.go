package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ActionTrackEvent is the fixed action name the collector routes on
const ActionTrackEvent = "track_event"

// ErrTransportUnavailable is returned by a transport that cannot be used
// at all, which sends the delivery to the secondary transport
var ErrTransportUnavailable = errors.New("dispatch: transport unavailable")

// Payload is the wire form of one event
type Payload struct {
	Action    string `json:"action"`
	EventType string `json:"event_type"`
	EventData string `json:"event_data"`
	Nonce     string `json:"nonce"`
}

// Transport delivers a payload to the collector. A returned error means
// the request did not complete; HTTP failures are reported by status.
type Transport interface {
	Name() string
	Send(ctx context.Context, endpoint string, p Payload) (status int, err error)
}

// HTTPTransport posts payloads over HTTP
type HTTPTransport struct {
	name   string
	client *http.Client
	encode func(Payload) (body []byte, contentType string, err error)
}

// NewFormTransport posts application/x-www-form-urlencoded bodies, the
// format admin-ajax style collectors expect
func NewFormTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{name: "form", client: client, encode: encodeForm}
}

// NewJSONTransport posts the same fields as a JSON object
func NewJSONTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{name: "json", client: client, encode: encodeJSON}
}

func encodeForm(p Payload) ([]byte, string, error) {
	v := url.Values{}
	v.Set("action", p.Action)
	v.Set("event_type", p.EventType)
	v.Set("event_data", p.EventData)
	v.Set("nonce", p.Nonce)
	return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
}

func encodeJSON(p Payload) ([]byte, string, error) {
	body, err := json.Marshal(p)
	return body, "application/json", err
}

// Name identifies the transport in logs
func (t *HTTPTransport) Name() string { return t.name }

// Send posts p to endpoint
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, p Payload) (int, error) {
	if t == nil || t.client == nil {
		return 0, ErrTransportUnavailable
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return 0, fmt.Errorf("%w: unsupported endpoint %q", ErrTransportUnavailable, endpoint)
	}

	body, contentType, err := t.encode(p)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
