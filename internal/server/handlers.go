package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatbot/internal/incoming"
	"chatbot/internal/repository"
	"chatbot/internal/security"
)

const (
	MaxPayloadBytes    = 1_000_000 // 1 MB
	RecentChecksLimit  = 10        // Number of recent checks to return in status endpoint
	repositoryQueryKey = "repository"
)

// HandleCheckRepositories runs one check batch. Registered repositories are
// checked unless the request names some with ?repository=owner/name.
func (s *Server) HandleCheckRepositories(w http.ResponseWriter, r *http.Request) {
	var ids []repository.ID
	for _, slug := range r.URL.Query()[repositoryQueryKey] {
		if err := security.ValidateRepositorySlug(slug); err != nil {
			s.Logger.Warn("Invalid repository in check request", "repository", slug, "error", err)
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid repository: %v", err)})
			return
		}
		ids = append(ids, repository.ID(slug))
	}

	summary, err := s.Bot.CheckRepositories(r.Context(), ids...)
	if err != nil {
		s.Logger.Error("Repository check failed", "run_id", summary.RunID, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, summary)
		return
	}

	s.respondJSON(w, http.StatusOK, summary)
}

// HandleChatEvent handles Google Chat webhook events
func (s *Server) HandleChatEvent(w http.ResponseWriter, r *http.Request) {
	// ContentLength can be -1 if not set; the body is capped below as well
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	event, err := incoming.Decode(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.Logger.Warn("Failed to parse chat event", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	reply, err := s.Bot.HandleChatEvent(r.Context(), event)
	if err != nil {
		s.Logger.Error("Failed to handle chat event", "type", event.Type, "space", event.Space.Name, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to handle event"})
		return
	}

	if reply == "" {
		s.respondJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"text": reply})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":           "ok",
		"repositories":     s.Registry.List(),
		"repository_count": s.Registry.Count(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles repository status requests
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	// Validate repository slug for security
	if err := security.ValidateRepositorySlug(slug); err != nil {
		s.Logger.Warn("Invalid repository in status request", "repository", slug, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid repository: %v", err)})
		return
	}

	id := repository.ID(slug)
	if _, err := s.Registry.Get(id); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown repository"})
		return
	}

	status, err := s.Status.GetRepositoryStatus(r.Context(), id, RecentChecksLimit)
	if err != nil {
		s.Logger.Error("Failed to get repository status", "error", err, "repository", id)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch repository status"})
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
