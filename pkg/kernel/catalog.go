package kernel

import (
	"net/http"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

func (s *Server) handleAddDeviceModel(w http.ResponseWriter, r *http.Request) {
	var m domain.DeviceModel
	if err := decodeJSON(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.catalog.AddDeviceModel(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListPricingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.catalog.ListPricingRules(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []domain.PricingRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// handleAddPricingRule stores a rule. Rules are active unless the body
// says otherwise.
func (s *Server) handleAddPricingRule(w http.ResponseWriter, r *http.Request) {
	rule := domain.PricingRule{Active: true}
	if err := decodeJSON(r, &rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.catalog.AddPricingRule(r.Context(), rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
