package services

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/ports"
)

// AgentRoute maps an agent to the keywords that select it.
type AgentRoute struct {
	Agent       string   `json:"agent"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description,omitempty"`
}

// Default agent routes. The warehouse route is only added when a warehouse is
// configured.
var (
	LocalRoute = AgentRoute{
		Agent:       "local",
		Keywords:    []string{"document", "file", "local", "data"},
		Description: "Ingested documents",
	}
	SearchRoute = AgentRoute{
		Agent:       "search",
		Keywords:    []string{"current", "latest", "recent", "news", "web", "internet", "online", "search"},
		Description: "Live web search",
	}
	CloudRoute = AgentRoute{
		Agent:       "cloud",
		Keywords:    []string{"cloud", "s3", "gcs", "storage", "remote"},
		Description: "Cloud object storage",
	}
	WarehouseRoute = AgentRoute{
		Agent:       "warehouse",
		Keywords:    []string{"snowflake", "data warehouse", "sql", "database", "query", "table", "schema"},
		Description: "SQL data warehouse",
	}
)

// KeywordRouter selects agents by case-insensitive substring match of route
// keywords against the query. Routes keep their registration order so the
// selection is stable.
type KeywordRouter struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	routes   []AgentRoute
	fallback []string
}

var _ ports.RoutingStrategy = (*KeywordRouter)(nil)

// NewKeywordRouter creates a router with the given routes. When no route
// matches, Select returns the local and search agents.
func NewKeywordRouter(logger *slog.Logger, routes ...AgentRoute) *KeywordRouter {
	r := &KeywordRouter{
		logger:   logger,
		fallback: []string{LocalRoute.Agent, SearchRoute.Agent},
	}
	for _, route := range routes {
		r.RegisterRoute(route)
	}
	logger.Info("keyword router initialized", "routes", len(r.routes))
	return r
}

// DefaultRoutes returns local, search and cloud, plus warehouse when enabled.
func DefaultRoutes(withWarehouse bool) []AgentRoute {
	routes := []AgentRoute{LocalRoute, SearchRoute, CloudRoute}
	if withWarehouse {
		routes = append(routes, WarehouseRoute)
	}
	return routes
}

// RegisterRoute adds a route or replaces the keywords of an existing one in place.
func (r *KeywordRouter) RegisterRoute(route AgentRoute) {
	route.Agent = strings.TrimSpace(strings.ToLower(route.Agent))
	kw := make([]string, 0, len(route.Keywords))
	for _, k := range route.Keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			kw = append(kw, k)
		}
	}
	route.Keywords = kw

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].Agent == route.Agent {
			r.routes[i] = route
			return
		}
	}
	r.routes = append(r.routes, route)
}

// Select returns the agents whose keywords occur in query, in route order.
// It has no side effects.
func (r *KeywordRouter) Select(query string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var selected []string
	for _, route := range r.routes {
		for _, kw := range route.Keywords {
			if strings.Contains(q, kw) {
				selected = append(selected, route.Agent)
				break
			}
		}
	}
	if len(selected) > 0 {
		return selected
	}
	return append([]string(nil), r.fallback...)
}

// ListRoutes returns a copy of the routing table.
func (r *KeywordRouter) ListRoutes() []AgentRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentRoute, len(r.routes))
	for i, route := range r.routes {
		route.Keywords = append([]string(nil), route.Keywords...)
		out[i] = route
	}
	return out
}

// Stats returns router statistics.
func (r *KeywordRouter) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keywords := 0
	for _, route := range r.routes {
		keywords += len(route.Keywords)
	}
	return map[string]int{
		"routes":   len(r.routes),
		"keywords": keywords,
		"fallback": len(r.fallback),
	}
}
