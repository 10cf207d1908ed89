// Package kernel exposes the query engine over HTTP.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
	"github.com/manthysbr/aulerag/internal/core/services"
)

// Engine answers queries and reports what is available.
type Engine interface {
	Query(ctx context.Context, req services.QueryRequest) domain.QueryResponse
	AgentStatus() services.StatusReport
	SystemInfo(ctx context.Context) services.SystemInfo
}

// ToolRunner lists and runs tools with structured parameters.
type ToolRunner interface {
	Schemas() []domain.ToolSchema
	Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error)
}

// TraceSource serves recorded traces.
type TraceSource interface {
	ListTraces(limit int) []domain.TraceSummary
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)
}

// SettingsService reads and updates the runtime configuration.
type SettingsService interface {
	GetMaskedConfig() *domain.AppConfig
	UpdateConfig(ctx context.Context, update *domain.AppConfig) error
}

// Deps are the collaborators of the HTTP server. Engine is required; the
// rest degrade to empty or 503 responses when nil.
type Deps struct {
	Engine   Engine
	Memory   ports.MemoryStore
	Tools    ToolRunner
	Traces   TraceSource
	Events   *services.EventBus
	Settings SettingsService
}

type Server struct {
	logger  *slog.Logger
	deps    Deps
	swagger *openapi3.T
}

// NewServer loads the embedded API description.
func NewServer(logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("kernel: engine is required")
	}
	swagger, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	return &Server{logger: logger, deps: deps, swagger: swagger}, nil
}

// Handler returns the routes wrapped in request validation.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /system", s.handleSystem)
	mux.HandleFunc("GET /memory/{session_id}", s.handleGetMemory)
	mux.HandleFunc("DELETE /memory/{session_id}", s.handleDeleteMemory)

	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/run", s.handleRunTool)
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return requestValidator(s.swagger, s.logRequests(mux))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": services.Version,
	})
}

type queryBody struct {
	Query     string  `json:"query"`
	Tier      string  `json:"tier"`
	SessionID *string `json:"session_id"`
}

// handleQuery answers with the envelope for every tier. Failures inside the
// engine are reported in the envelope with a 200.
// POST /query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	req := services.QueryRequest{Query: body.Query, Tier: body.Tier}
	if req.Tier == "" {
		req.Tier = string(domain.TierBasic)
	}
	if body.SessionID != nil {
		req.SessionID = *body.SessionID
	}

	resp := s.deps.Engine.Query(r.Context(), req)
	if !resp.Success {
		s.logger.Warn("query failed", "tier", req.Tier, "error", resp.Error)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.AgentStatus())
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.SystemInfo(r.Context()))
}

// --- Tools ---

// handleListTools returns all registered tools with their schemas.
// GET /v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := []domain.ToolSchema{}
	if s.deps.Tools != nil {
		tools = append(tools, s.deps.Tools.Schemas()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

// handleRunTool executes a tool by name with the provided JSON params.
// POST /v1/tools/{name}/run
// Body: {"params": {...}}
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not available")
		return
	}

	var name string
	if err := runtime.BindStyledParameterWithOptions("simple", "name", r.PathValue("name"), &name,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Params map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Params == nil {
		body.Params = map[string]interface{}{}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	result, err := s.deps.Tools.Execute(ctx, name, body.Params)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case errors.Is(err, domain.ErrToolNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"ok":          false,
			"tool":        name,
			"error":       err.Error(),
			"duration_ms": elapsed,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":          true,
			"tool":        name,
			"result":      result,
			"duration_ms": elapsed,
		})
	}
}

// --- Traces ---

// handleListTraces returns recent traces.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	traces := []domain.TraceSummary{}
	if s.deps.Traces != nil {
		traces = append(traces, s.deps.Traces.ListTraces(limit)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleGetTrace returns a single trace with all spans.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Traces == nil {
		writeError(w, http.StatusNotFound, domain.ErrTraceNotFound.Error())
		return
	}

	trace, err := s.deps.Traces.GetTrace(r.Context(), domain.TraceID(id))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
