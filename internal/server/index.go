package server

import (
	"net/http"
)

// handleIndex handles GET /, describing the API surface.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "minfit",
		"endpoints": []string{
			"POST /api/v1/jobs",
			"GET /api/v1/jobs",
			"GET /api/v1/jobs/{id}/status",
			"GET /api/v1/jobs/{id}/events",
			"GET /api/v1/jobs/{id}/result",
		},
	})
}
