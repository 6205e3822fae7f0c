package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

func (s *Server) clearExpired(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	removed := s.cache.ClearExpired(r.Context())
	s.logger.Info("expired cache entries cleared", zap.Int64("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// deleteEntry handles DELETE /api/v1/cache?first_name=&last_name=&company=.
func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	q := r.URL.Query()
	subject := dossier.Subject{
		FirstName:    strings.TrimSpace(q.Get("first_name")),
		LastName:     strings.TrimSpace(q.Get("last_name")),
		Organization: strings.TrimSpace(q.Get("company")),
	}
	if subject.FirstName == "" || subject.LastName == "" {
		writeError(w, http.StatusBadRequest, "first_name and last_name are required")
		return
	}
	if !s.cache.Delete(r.Context(), subject) {
		writeError(w, http.StatusNotFound, "cache entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
