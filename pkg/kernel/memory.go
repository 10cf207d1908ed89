package kernel

import (
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

func bindSessionID(r *http.Request) (string, error) {
	var sessionID string
	err := runtime.BindStyledParameterWithOptions("simple", "session_id", r.PathValue("session_id"), &sessionID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	return sessionID, err
}

// handleGetMemory lists a session's long-term memories, newest first.
// GET /memory/{session_id}?limit=50
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := bindSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 50
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	memories := []domain.MemoryEntry{}
	if s.deps.Memory != nil {
		found, err := s.deps.Memory.SessionMemories(r.Context(), sessionID, limit)
		if err != nil {
			s.logger.Error("failed to load session memories", "session_id", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		memories = append(memories, found...)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"memories":   memories,
		"count":      len(memories),
	})
}

// handleDeleteMemory removes every memory of a session.
// DELETE /memory/{session_id}
func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := bindSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted := 0
	if s.deps.Memory != nil {
		deleted, err = s.deps.Memory.DeleteSession(r.Context(), sessionID)
		if err != nil {
			s.logger.Error("failed to delete session memories", "session_id", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.logger.Info("session memories deleted", "session_id", sessionID, "count", deleted)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"deleted":    deleted,
	})
}
