package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordRouterDefaults(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(false)...)

	assert.Equal(t, []string{"local"}, router.Select("Summarize the uploaded document"))
	assert.Equal(t, []string{"search"}, router.Select("What is the LATEST news?"))
	assert.Equal(t, []string{"cloud"}, router.Select("list my s3 buckets"))
	assert.Equal(t, []string{"local", "cloud"}, router.Select("compare local files with cloud storage"))

	// No match falls back to local + search.
	assert.Equal(t, []string{"local", "search"}, router.Select("hello there"))

	// Without the warehouse route, SQL words do not select it.
	assert.NotContains(t, router.Select("show the sql schema"), "warehouse")
}

func TestKeywordRouterWarehouse(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(true)...)
	assert.Equal(t, []string{"warehouse"}, router.Select("describe the orders table"))
	// "data warehouse" also contains "data", which selects local.
	assert.Equal(t, []string{"local", "warehouse"}, router.Select("Query the data warehouse"))
}

func TestKeywordRouterSelectIsIdempotent(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(true)...)
	q := "recent cloud data in the database"
	first := router.Select(q)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, router.Select(q))
	}
	assert.Equal(t, []string{"local", "search", "cloud", "warehouse"}, first)
}

func TestKeywordRouterRegisterRoute(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(false)...)

	router.RegisterRoute(AgentRoute{Agent: "Legal", Keywords: []string{" Contract ", ""}})
	assert.Equal(t, []string{"legal"}, router.Select("review this contract"))

	// Re-registering replaces keywords and keeps position.
	router.RegisterRoute(AgentRoute{Agent: "local", Keywords: []string{"pdf"}})
	routes := router.ListRoutes()
	assert.Equal(t, "local", routes[0].Agent)
	assert.Equal(t, []string{"pdf"}, routes[0].Keywords)
	assert.Equal(t, []string{"local", "search"}, router.Select("a document"))

	routes[0].Keywords[0] = "mutated"
	assert.Equal(t, "pdf", router.ListRoutes()[0].Keywords[0])
}

func TestKeywordRouterStats(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(false)...)
	stats := router.Stats()
	assert.Equal(t, 3, stats["routes"])
	assert.Equal(t, 4+8+5, stats["keywords"])
	assert.Equal(t, 2, stats["fallback"])
}
