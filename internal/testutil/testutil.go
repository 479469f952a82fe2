// Package testutil provides shared test fixtures: a migrated scratch
// database and helpers that mute or capture the diagnostic log.
package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/monitoring"
)

// NewDB opens a fully migrated database under t.TempDir. It is closed when
// the test ends.
func NewDB(t testing.TB) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// QuietLogs discards monitoring output until the test ends.
func QuietLogs(t testing.TB) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// LogLines collects formatted log lines.
type LogLines struct {
	mu    sync.Mutex
	lines []string
}

// All returns a copy of the lines captured so far.
func (l *LogLines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// CaptureLogs records monitoring output until the test ends.
func CaptureLogs(t testing.TB) *LogLines {
	t.Helper()
	original := monitoring.Logf
	lines := &LogLines{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines.mu.Lock()
		defer lines.mu.Unlock()
		lines.lines = append(lines.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return lines
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
