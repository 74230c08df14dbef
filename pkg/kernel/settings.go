package kernel

import (
	"net/http"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

// handleUpdateSettings replaces the provider settings. A masked or empty
// api_key keeps the stored key.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update domain.AppConfig
	if err := decodeJSON(r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.settings.UpdateConfig(r.Context(), &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
