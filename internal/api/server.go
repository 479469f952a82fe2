// Package api serves the administrative JSON API: entity listing and
// editing, runtime settings, the notification log and connection health.
package api

import (
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/reconcile"
	"github.com/banshee-data/friendloc/internal/stream"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Connection is the part of the stream manager the API controls.
type Connection interface {
	Status() stream.Status
	Restart(token string) error
}

type Server struct {
	db       *db.DB
	conn     Connection
	gate     *reconcile.Gate
	defaults db.RuntimeSettings
}

// NewServer creates the API server. defaults are the config-file values
// that stored settings override.
func NewServer(database *db.DB, conn Connection, gate *reconcile.Gate, defaults db.RuntimeSettings) *Server {
	return &Server{
		db:       database,
		conn:     conn,
		gate:     gate,
		defaults: defaults,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/entities", s.handleEntities)
	mux.HandleFunc("/api/entities/", s.handleEntityByID)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

// AttachAdminRoutes publishes the connection status on the /debug/ page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Stream state", func() any { return s.conn.Status().State })
	debug.KVFunc("Stream attempts", func() any { return s.conn.Status().Attempts })
	debug.KVFunc("Last frame", func() any { return s.conn.Status().LastFrame })
}
