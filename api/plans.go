package api

import (
	"net/http"

	"github.com/yerroong/lg-chatbot/internal/catalog"
)

// handlePlans serves the static plan catalog the advisor recommends from.
func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plans": catalog.Plans(),
	})
}
