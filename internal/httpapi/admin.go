package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "", s.mgr.Stats())
}

// handleCleanup runs an idle sweep now instead of waiting for the ticker.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeMessage(w, http.StatusServiceUnavailable, "idle sweeper is not running")
		return
	}
	n := s.sweeper.SweepOnce(r.Context())
	writeData(w, http.StatusOK, "cleanup finished", map[string]int{"evicted": n})
}

// handleDisconnectOwner force-closes every connection of another owner,
// e.g. after their session was revoked.
func (s *Server) handleDisconnectOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	n := s.mgr.DisconnectOwner(r.Context(), owner)
	s.log.InfoWith("owner disconnected by admin", map[string]interface{}{
		"owner":        owner,
		"disconnected": n,
	})
	writeData(w, http.StatusOK, "owner disconnected", map[string]int{"disconnected": n})
}
