// Package forward relays accepted position updates to a downstream GPS
// tracker over HTTP.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/friendloc/internal/httputil"
	"github.com/banshee-data/friendloc/internal/version"
)

// Event is one accepted position update.
type Event struct {
	EventID  string    `json:"event_id"`
	Device   string    `json:"device"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy"`
	Address  string    `json:"address"`
	Speed    float64   `json:"speed"`
	Battery  int       `json:"battery"`
	Charging bool      `json:"charging"`
	Provider string    `json:"provider"`
	Added    time.Time `json:"added"`
}

// Forwarder delivers events downstream.
type Forwarder interface {
	Forward(ctx context.Context, ev Event) error
}

// Noop drops every event. It is used when no downstream URL is configured.
type Noop struct{}

func (Noop) Forward(context.Context, Event) error { return nil }

// HTTP posts each event as a JSON document.
type HTTP struct {
	url     string
	client  httputil.HTTPClient
	timeout time.Duration
}

// NewHTTP creates a forwarder posting to url. A zero timeout means the
// caller's context alone bounds each request.
func NewHTTP(url string, client httputil.HTTPClient, timeout time.Duration) *HTTP {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTP{url: url, client: client, timeout: timeout}
}

// Forward posts ev. A missing EventID is filled with a fresh UUID so the
// receiver can discard duplicates.
func (h *HTTP) Forward(ctx context.Context, ev Event) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", ev.Device, err)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "friendloc/"+version.Version)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to forward %s: %w", ev.Device, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward %s: unexpected status %d", ev.Device, resp.StatusCode)
	}
	return nil
}
