package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/httputil"
	"github.com/banshee-data/friendloc/internal/monitoring"
)

// handleEntities handles GET /api/entities
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	entities, err := s.db.ListAll(r.Context())
	if err != nil {
		monitoring.Errorf("failed to list entities: %v", err)
		httputil.InternalServerError(w, "Failed to list entities")
		return
	}
	if entities == nil {
		entities = []db.Entity{}
	}
	httputil.WriteJSONOK(w, entities)
}

// handleEntityByID handles GET/PUT/DELETE /api/entities/:id
func (s *Server) handleEntityByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/entities/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.BadRequest(w, "Missing entity ID")
		return
	}
	id, err := strconv.ParseInt(pathParts[0], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Invalid entity ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetEntity(w, r, id)
	case http.MethodPut:
		s.handleUpdateEntity(w, r, id)
	case http.MethodDelete:
		s.handleDeleteEntity(w, r, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request, id int64) {
	e, err := s.db.Entities().GetByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "Entity not found")
		return
	}
	if err != nil {
		monitoring.Errorf("failed to get entity %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to get entity")
		return
	}
	httputil.WriteJSONOK(w, e)
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request, id int64) {
	var req db.AdminFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if req.DisplayName != nil && strings.TrimSpace(*req.DisplayName) == "" {
		httputil.BadRequest(w, "Display name must not be empty")
		return
	}

	e, err := s.db.UpdateAdminFields(r.Context(), id, req)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "Entity not found")
		return
	}
	if err != nil {
		monitoring.Errorf("failed to update entity %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to update entity")
		return
	}
	httputil.WriteJSONOK(w, e)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request, id int64) {
	var externalID string
	err := s.db.WithTx(r.Context(), func(store db.EntityStore) error {
		e, err := store.GetByID(r.Context(), id)
		if err != nil {
			return err
		}
		externalID = e.ExternalID
		return store.DeleteByID(r.Context(), id)
	})
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "Entity not found")
		return
	}
	if err != nil {
		monitoring.Errorf("failed to delete entity %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to delete entity")
		return
	}

	s.gate.Forget(externalID)
	w.WriteHeader(http.StatusNoContent)
}
