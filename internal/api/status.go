package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/httputil"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/stream"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// handleNotifications handles GET /api/notifications?limit=N
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := defaultNotificationLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxNotificationLimit {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	notes, err := s.db.RecentNotifications(r.Context(), limit)
	if err != nil {
		monitoring.Errorf("failed to list notifications: %v", err)
		httputil.InternalServerError(w, "Failed to list notifications")
		return
	}
	if notes == nil {
		notes = []db.Notification{}
	}
	httputil.WriteJSONOK(w, notes)
}

// HealthResponse reports whether the stream loop is alive.
type HealthResponse struct {
	Status     string        `json:"status"`
	Connection stream.Status `json:"connection"`
}

// handleHealth handles GET /api/health. It answers 503 once the stream
// loop has stopped on an internal fault, since it will not recover.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	st := s.conn.Status()
	if st.Fatal {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "fatal", Connection: st})
		return
	}
	httputil.WriteJSONOK(w, HealthResponse{Status: "ok", Connection: st})
}
