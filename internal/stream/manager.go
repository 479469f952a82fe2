// Package stream maintains the long-lived websocket connection to the
// friends location service.
//
// A Manager owns exactly one goroutine. That goroutine dials, subscribes,
// reads frames and applies them in arrival order, and after any disconnect
// waits a fixed interval before dialling again. Only Stop ends the loop,
// apart from an unexpected internal fault, which is reported as fatal.
package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/geo"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/notify"
	"github.com/banshee-data/friendloc/internal/reconcile"
	"github.com/banshee-data/friendloc/internal/timeutil"
	"github.com/banshee-data/friendloc/internal/viewport"
)

// ErrNoToken is returned by Start when no access token is configured.
var ErrNoToken = errors.New("no access token configured")

// State is the connection lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reconciler applies decoded frames to the entity store.
type Reconciler interface {
	Snapshot(ctx context.Context) ([]db.Entity, error)
	ApplyProfileList(ctx context.Context, profiles []reconcile.Profile) error
	ApplyFriendState(ctx context.Context, state reconcile.FriendState) (reconcile.Result, error)
}

// Options configures a Manager. Zero fields take the documented defaults.
type Options struct {
	BaseURL           string        // default DefaultBaseURL
	AppVersion        string        // default DefaultAppVersion
	ReconnectInterval time.Duration // default 5s
	Zoom              int           // default DefaultZoom
	Source            string        // name used in notifications
	Dialer            *websocket.Dialer
	Clock             timeutil.Clock
	Notifier          notify.Notifier
}

const (
	DefaultBaseURL           = "wss://zond.api.2gis.ru/api/1.1/user/ws"
	DefaultAppVersion        = "6.31.0"
	DefaultReconnectInterval = 5 * time.Second
)

// DefaultChannels are the channels subscribed to when none are given.
var DefaultChannels = []string{"markers", "sharing", "routes"}

// Status is a point-in-time view of the manager for health reporting.
type Status struct {
	State       string    `json:"state"`
	Running     bool      `json:"running"`
	Attempts    int       `json:"attempts"`
	LastConnect time.Time `json:"last_connect"`
	LastFrame   time.Time `json:"last_frame"`
	LastError   string    `json:"last_error,omitempty"`
	Fatal       bool      `json:"fatal"`
}

type Manager struct {
	opts    Options
	rec     Reconciler
	tracker *viewport.Tracker

	mu       sync.Mutex
	running  bool
	channels []string
	conn     *websocket.Conn
	stop     chan struct{}
	done     chan struct{}

	state       State
	attempts    int
	lastConnect time.Time
	lastFrame   time.Time
	lastErr     error
	fatal       bool
}

// NewManager creates an idle manager.
func NewManager(rec Reconciler, tracker *viewport.Tracker, opts Options) *Manager {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.AppVersion == "" {
		opts.AppVersion = DefaultAppVersion
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.Zoom == 0 {
		opts.Zoom = DefaultZoom
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if tracker == nil {
		tracker = viewport.NewTracker(0)
	}
	return &Manager{opts: opts, rec: rec, tracker: tracker}
}

// Start launches the connection loop and returns immediately. It is a
// no-op when the loop is already running. An empty token raises an
// operator warning and returns ErrNoToken without connecting. The channels
// are remembered either way so a later Restart reuses them.
func (m *Manager) Start(token string, channels []string) error {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	if token == "" {
		m.mu.Lock()
		if !m.running {
			m.channels = channels
		}
		m.mu.Unlock()
		monitoring.Warnf("stream: no token configured, not connecting")
		m.opts.Notifier.Notify("Empty token", "Please set the access token in settings", notify.Warning, m.opts.Source)
		return ErrNoToken
	}
	target, err := BuildURL(m.opts.BaseURL, m.opts.AppVersion, channels, token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.channels = channels
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.fatal = false
	m.lastErr = nil
	m.state = Connecting

	monitoring.Infof("stream: starting client for %s", m.opts.BaseURL)
	go m.run(target, m.stop, m.done)
	return nil
}

// Stop ends the connection loop and waits for its goroutine to exit.
// No connection attempt happens after Stop returns. Stop is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	done := m.done
	if m.running {
		m.running = false
		close(m.stop)
		if m.conn != nil {
			m.conn.Close()
		}
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.mu.Lock()
	if !m.fatal {
		m.state = Idle
	}
	m.mu.Unlock()
	monitoring.Infof("stream: stopped")
}

// Restart reconnects with a new token, keeping the current channels.
func (m *Manager) Restart(token string) error {
	m.Stop()
	m.mu.Lock()
	channels := m.channels
	m.mu.Unlock()
	return m.Start(token, channels)
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:       m.state.String(),
		Running:     m.running,
		Attempts:    m.attempts,
		LastConnect: m.lastConnect,
		LastFrame:   m.lastFrame,
		Fatal:       m.fatal,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) run(target string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			m.fail(fmt.Errorf("connection loop panic: %v", r), debug.Stack())
		}
	}()

	for {
		err := m.session(target, stop)
		if stopped(stop) {
			return
		}

		m.mu.Lock()
		m.lastErr = err
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			m.state = Closed
		} else {
			m.state = Error
		}
		m.mu.Unlock()

		monitoring.Warnf("stream: connection lost: %v; reconnecting in %s", err, m.opts.ReconnectInterval)
		if !m.wait(stop) {
			return
		}
	}
}

// wait blocks for the reconnect interval and reports false if stop closed
// first.
func (m *Manager) wait(stop <-chan struct{}) bool {
	timer := m.opts.Clock.NewTimer(m.opts.ReconnectInterval)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C():
		return true
	}
}

// session runs one connection from dial to disconnect.
func (m *Manager) session(target string, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.mu.Lock()
	m.state = Connecting
	m.attempts++
	m.mu.Unlock()

	conn, _, err := m.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.state = Open
	m.lastConnect = m.opts.Clock.Now()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	monitoring.Infof("stream: connected")
	if err := m.subscribe(ctx, conn); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.lastFrame = m.opts.Clock.Now()
		m.mu.Unlock()

		if err := m.handleFrame(ctx, conn, data); err != nil {
			return err
		}
	}
}

// subscribe sends the bindRoutes frame for every known entity and the
// initial viewport covering their positions.
func (m *Manager) subscribe(ctx context.Context, conn *websocket.Conn) error {
	entities, err := m.rec.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	ids := make([]string, 0, len(entities))
	points := make([]orb.Point, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ExternalID)
		if p := e.Position(); !geo.IsOrigin(p) {
			points = append(points, p)
		}
	}

	frame, err := BindRoutesFrame(ids)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", TypeBindRoutes, err)
	}
	return m.sendViewport(conn, m.tracker.Reset(points))
}

func (m *Manager) sendViewport(conn *websocket.Conn, vp viewport.Viewport) error {
	frame, err := ViewportFrame(vp, m.opts.Zoom)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", TypeViewportChanged, err)
	}
	return nil
}

// handleFrame applies one inbound frame. Decode failures and faults while
// applying are logged and the frame is dropped; only a failed write back to
// the server is returned, since the connection is then unusable.
func (m *Manager) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Errorf("stream: fault handling frame: %v\n%s", r, debug.Stack())
			err = nil
		}
	}()

	msg, derr := Decode(data)
	if derr != nil {
		monitoring.Warnf("stream: dropping frame: %v", derr)
		return nil
	}

	switch msg := msg.(type) {
	case *InitialStateMessage:
		if err := m.rec.ApplyProfileList(ctx, msg.Profiles); err != nil {
			monitoring.Errorf("stream: %v", err)
		}
		for _, st := range msg.States {
			m.applyState(ctx, st)
		}
	case *FriendStateMessage:
		m.applyState(ctx, msg.State)
		if vp, changed := m.tracker.ExpandIfNeeded(msg.State.Position()); changed {
			return m.sendViewport(conn, vp)
		}
	case *UnknownMessage:
		monitoring.Debugf("stream: ignoring frame type %q", msg.Type)
	}
	return nil
}

func (m *Manager) applyState(ctx context.Context, st reconcile.FriendState) {
	if _, err := m.rec.ApplyFriendState(ctx, st); err != nil {
		monitoring.Errorf("stream: %v", err)
	}
}

// fail records an unrecoverable fault. The loop does not restart.
func (m *Manager) fail(err error, stack []byte) {
	monitoring.Criticalf("stream: %v\n%s", err, stack)

	m.mu.Lock()
	m.running = false
	m.fatal = true
	m.state = Error
	m.lastErr = err
	m.mu.Unlock()

	m.opts.Notifier.Notify("Connection stopped", err.Error(), notify.Critical, m.opts.Source)
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
