package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/friendloc/internal/httputil"
)

func sampleEvent() Event {
	return Event{
		Device:   "friend-1",
		Lat:      55.75,
		Lon:      37.61,
		Accuracy: 5,
		Address:  "Home",
		Speed:    12.5,
		Battery:  80,
		Charging: true,
		Provider: "Friends2GIS",
		Added:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHTTP_ForwardPostsJSON(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, "")
	f := NewHTTP("http://tracker.local/gps", mock, time.Second)

	require.NoError(t, f.Forward(context.Background(), sampleEvent()))
	require.Equal(t, 1, mock.RequestCount())

	req := mock.GetRequest(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://tracker.local/gps", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Contains(t, req.Header.Get("User-Agent"), "friendloc/")

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "friend-1", got["device"])
	assert.Equal(t, 55.75, got["lat"])
	assert.Equal(t, 37.61, got["lon"])
	assert.Equal(t, "Home", got["address"])
	assert.Equal(t, float64(80), got["battery"])
	assert.Equal(t, true, got["charging"])
	assert.Equal(t, "Friends2GIS", got["provider"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["added"])

	id, ok := got["event_id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestHTTP_ForwardKeepsEventID(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	f := NewHTTP("http://tracker.local/gps", mock, 0)

	ev := sampleEvent()
	ev.EventID = "fixed-id"
	require.NoError(t, f.Forward(context.Background(), ev))

	raw, err := io.ReadAll(mock.GetRequest(0).Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event_id":"fixed-id"`)
}

func TestHTTP_ForwardErrors(t *testing.T) {
	tests := []struct {
		name string
		mock *httputil.MockHTTPClient
	}{
		{"transport", httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))},
		{"server error", httputil.NewMockHTTPClient().AddResponse(http.StatusInternalServerError, "boom")},
		{"redirect", httputil.NewMockHTTPClient().AddResponse(http.StatusFound, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewHTTP("http://tracker.local/gps", tt.mock, time.Second)
			err := f.Forward(context.Background(), sampleEvent())
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "friend-1")
		})
	}
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Forward(context.Background(), sampleEvent()))
}
