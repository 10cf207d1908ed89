package kernel

import (
	"encoding/json"
	"net/http"
)

// handleGetSettings returns the configuration with secrets masked.
// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings not available")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.GetMaskedConfig())
}

// handleUpdateSettings replaces the configuration. Secrets left empty or
// masked keep their stored value.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings not available")
		return
	}

	// Start from the current values so partial documents only change what they name.
	update := s.deps.Settings.GetMaskedConfig()
	if err := json.NewDecoder(r.Body).Decode(update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.deps.Settings.UpdateConfig(r.Context(), update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("settings updated via api", "provider", update.LLM.Provider)
	writeJSON(w, http.StatusOK, s.deps.Settings.GetMaskedConfig())
}

