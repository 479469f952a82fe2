// Package notify delivers operator-facing notifications. Delivery is
// fire-and-forget: a failing sink is logged and never reported back.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/monitoring"
)

// Severity classifies a notification.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

// Notifier receives operator notifications.
type Notifier interface {
	Notify(title, message string, severity Severity, source string)
}

// recorder is the subset of *db.DB the store-backed notifier needs.
type recorder interface {
	RecordNotification(ctx context.Context, n *db.Notification) error
}

// Store logs each notification and appends it to the persistent
// notification log so the admin API can list it.
type Store struct {
	rec     recorder
	timeout time.Duration
}

// NewStore creates a notifier backed by the notification table.
func NewStore(rec recorder) *Store {
	return &Store{rec: rec, timeout: 5 * time.Second}
}

func (s *Store) Notify(title, message string, severity Severity, source string) {
	logNotification(title, message, severity, source)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.rec.RecordNotification(ctx, &db.Notification{
		Title:    title,
		Message:  message,
		Severity: string(severity),
		Source:   source,
	})
	if err != nil {
		monitoring.Errorf("failed to store notification %q: %v", title, err)
	}
}

// Log only writes notifications to the diagnostic log.
type Log struct{}

func (Log) Notify(title, message string, severity Severity, source string) {
	logNotification(title, message, severity, source)
}

func logNotification(title, message string, severity Severity, source string) {
	switch severity {
	case Critical:
		monitoring.Criticalf("%s: %s: %s", source, title, message)
	case Error:
		monitoring.Errorf("%s: %s: %s", source, title, message)
	case Warning:
		monitoring.Warnf("%s: %s: %s", source, title, message)
	default:
		monitoring.Infof("%s: %s: %s", source, title, message)
	}
}

// Recorded is one captured notification.
type Recorded struct {
	Title    string
	Message  string
	Severity Severity
	Source   string
}

// Memory captures notifications in order. It is safe for concurrent use
// and is intended for tests.
type Memory struct {
	mu  sync.Mutex
	all []Recorded
}

func (m *Memory) Notify(title, message string, severity Severity, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, Recorded{Title: title, Message: message, Severity: severity, Source: source})
}

// All returns a copy of every notification received so far.
func (m *Memory) All() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Recorded, len(m.all))
	copy(out, m.all)
	return out
}
