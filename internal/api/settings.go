package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/httputil"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/stream"
)

// SettingsResponse never echoes the token itself.
type SettingsResponse struct {
	TokenSet          bool   `json:"token_set"`
	MinUpdateInterval string `json:"min_update_interval"`
}

type SettingsRequest struct {
	Token             *string `json:"token,omitempty"`
	MinUpdateInterval *string `json:"min_update_interval,omitempty"`
}

// handleSettings handles GET and PUT /api/settings
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSettings(w, r)
	case http.MethodPut:
		s.handleUpdateSettings(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.db.LoadRuntimeSettings(r.Context(), s.defaults)
	if err != nil {
		monitoring.Errorf("failed to load settings: %v", err)
		httputil.InternalServerError(w, "Failed to load settings")
		return
	}
	httputil.WriteJSONOK(w, settingsResponse(current))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}

	var interval time.Duration
	if req.MinUpdateInterval != nil {
		d, err := time.ParseDuration(*req.MinUpdateInterval)
		if err != nil || d < 0 {
			httputil.BadRequest(w, "min_update_interval must be a non-negative duration such as 30s")
			return
		}
		interval = d
	}

	ctx := r.Context()
	current, err := s.db.LoadRuntimeSettings(ctx, s.defaults)
	if err != nil {
		monitoring.Errorf("failed to load settings: %v", err)
		httputil.InternalServerError(w, "Failed to load settings")
		return
	}

	if req.MinUpdateInterval != nil {
		if err := s.db.PutSetting(ctx, db.SettingMinUpdateInterval, interval.String()); err != nil {
			monitoring.Errorf("failed to save settings: %v", err)
			httputil.InternalServerError(w, "Failed to save settings")
			return
		}
		s.gate.SetMinInterval(interval)
		current.MinUpdateInterval = interval
	}

	if req.Token != nil {
		if err := s.db.PutSetting(ctx, db.SettingToken, *req.Token); err != nil {
			monitoring.Errorf("failed to save settings: %v", err)
			httputil.InternalServerError(w, "Failed to save settings")
			return
		}
		changed := *req.Token != current.Token
		current.Token = *req.Token

		// A new credential needs a fresh connection. Resubmitting the same
		// token also recovers a connection that stopped on a fatal error.
		if changed || s.conn.Status().Fatal {
			if err := s.conn.Restart(current.Token); err != nil && !errors.Is(err, stream.ErrNoToken) {
				monitoring.Errorf("failed to restart stream: %v", err)
				httputil.InternalServerError(w, "Settings saved but the connection could not be restarted")
				return
			}
		}
	}

	httputil.WriteJSONOK(w, settingsResponse(current))
}

func settingsResponse(s db.RuntimeSettings) SettingsResponse {
	return SettingsResponse{
		TokenSet:          s.Token != "",
		MinUpdateInterval: s.MinUpdateInterval.String(),
	}
}
