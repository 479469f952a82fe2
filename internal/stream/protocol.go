package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/friendloc/internal/reconcile"
	"github.com/banshee-data/friendloc/internal/viewport"
)

// Frame types on the wire.
const (
	TypeInitialState    = "initialState"
	TypeFriendState     = "friendState"
	TypeBindRoutes      = "bindRoutes"
	TypeViewportChanged = "viewportChanged"
)

// DefaultZoom is echoed in every viewport frame. The service requires it
// but nothing here depends on its value.
const DefaultZoom = 15

// Message is a decoded inbound frame: one of *InitialStateMessage,
// *FriendStateMessage or *UnknownMessage.
type Message interface {
	messageType() string
}

// InitialStateMessage is the snapshot sent right after connecting.
type InitialStateMessage struct {
	Profiles []reconcile.Profile
	States   []reconcile.FriendState
}

// FriendStateMessage carries one incremental position report.
type FriendStateMessage struct {
	State reconcile.FriendState
}

// UnknownMessage is any frame whose type is not handled.
type UnknownMessage struct {
	Type string
}

func (*InitialStateMessage) messageType() string { return TypeInitialState }
func (*FriendStateMessage) messageType() string  { return TypeFriendState }
func (m *UnknownMessage) messageType() string    { return m.Type }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wireProfile struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Logo *string `json:"logo"`
}

type wireLocation struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Accuracy float64  `json:"accuracy"`
	Speed    float64  `json:"speed"`
}

type wireBattery struct {
	Level      *float64 `json:"level"`
	IsCharging bool     `json:"isCharging"`
}

type wireState struct {
	ID       string        `json:"id"`
	LastSeen int64         `json:"lastSeen"`
	Location *wireLocation `json:"location"`
	Battery  *wireBattery  `json:"battery"`
}

type wireInitialState struct {
	Profiles []wireProfile `json:"profiles"`
	States   []wireState   `json:"states"`
}

var errMissingField = errors.New("missing required field")

// Decode parses one inbound frame. Unrecognised types decode to
// *UnknownMessage without error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	switch env.Type {
	case TypeInitialState:
		var p wireInitialState
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		msg := &InitialStateMessage{
			Profiles: make([]reconcile.Profile, 0, len(p.Profiles)),
			States:   make([]reconcile.FriendState, 0, len(p.States)),
		}
		for i, wp := range p.Profiles {
			if wp.ID == "" {
				return nil, fmt.Errorf("profile %d: id: %w", i, errMissingField)
			}
			prof := reconcile.Profile{ExternalID: wp.ID, Name: wp.Name}
			if wp.Logo != nil {
				prof.Logo = *wp.Logo
			}
			msg.Profiles = append(msg.Profiles, prof)
		}
		for i, ws := range p.States {
			st, err := ws.friendState()
			if err != nil {
				return nil, fmt.Errorf("state %d: %w", i, err)
			}
			msg.States = append(msg.States, st)
		}
		return msg, nil

	case TypeFriendState:
		var ws wireState
		if err := json.Unmarshal(env.Payload, &ws); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		st, err := ws.friendState()
		if err != nil {
			return nil, err
		}
		return &FriendStateMessage{State: st}, nil

	default:
		return &UnknownMessage{Type: env.Type}, nil
	}
}

func (ws wireState) friendState() (reconcile.FriendState, error) {
	switch {
	case ws.ID == "":
		return reconcile.FriendState{}, fmt.Errorf("id: %w", errMissingField)
	case ws.LastSeen == 0:
		return reconcile.FriendState{}, fmt.Errorf("state %s: lastSeen: %w", ws.ID, errMissingField)
	case ws.Location == nil:
		return reconcile.FriendState{}, fmt.Errorf("state %s: location: %w", ws.ID, errMissingField)
	case ws.Location.Lat == nil || ws.Location.Lon == nil:
		return reconcile.FriendState{}, fmt.Errorf("state %s: location.lat/lon: %w", ws.ID, errMissingField)
	case ws.Battery == nil:
		return reconcile.FriendState{}, fmt.Errorf("state %s: battery: %w", ws.ID, errMissingField)
	case ws.Battery.Level == nil:
		return reconcile.FriendState{}, fmt.Errorf("state %s: battery.level: %w", ws.ID, errMissingField)
	}
	return reconcile.FriendState{
		ExternalID:   ws.ID,
		LastSeen:     time.UnixMilli(ws.LastSeen).UTC(),
		Lat:          *ws.Location.Lat,
		Lon:          *ws.Location.Lon,
		Accuracy:     ws.Location.Accuracy,
		Speed:        ws.Location.Speed,
		BatteryLevel: *ws.Battery.Level,
		Charging:     ws.Battery.IsCharging,
	}, nil
}

type bindRoutesPayload struct {
	Sharers []string `json:"sharers"`
}

type viewportPayload struct {
	Viewport viewport.Viewport `json:"viewport"`
	Zoom     int               `json:"zoom"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// BindRoutesFrame subscribes to position updates for the given ids.
func BindRoutesFrame(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(outbound{Type: TypeBindRoutes, Payload: bindRoutesPayload{Sharers: ids}})
}

// ViewportFrame announces the region the client is watching.
func ViewportFrame(vp viewport.Viewport, zoom int) ([]byte, error) {
	return json.Marshal(outbound{Type: TypeViewportChanged, Payload: viewportPayload{Viewport: vp, Zoom: zoom}})
}

// BuildURL returns the connection target. The token is only ever placed
// here; callers must not log the result.
func BuildURL(base, appVersion string, channels []string, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid stream url %q: scheme must be ws or wss", base)
	}

	escaped := make([]string, len(channels))
	for i, c := range channels {
		escaped[i] = url.QueryEscape(c)
	}
	u.RawQuery = "appVersion=" + url.QueryEscape(appVersion) +
		"&channels=" + strings.Join(escaped, ",") +
		"&token=" + url.QueryEscape(token)
	return u.String(), nil
}
