package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// ErrNoSearchKey is returned when no search provider is configured.
var ErrNoSearchKey = errors.New("No web search API key configured")

// Search provider endpoints.
const (
	TavilyEndpoint = "https://api.tavily.com/search"
	SerperEndpoint = "https://google.serper.dev/search"
	BraveEndpoint  = "https://api.search.brave.com/res/v1/web/search"
)

// WebResult is one normalized search hit.
type WebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// WebSearcher queries Tavily, Serper or Brave, in that order of preference,
// depending on which key is configured.
type WebSearcher struct {
	logger *slog.Logger
	keys   domain.SearchConfig
	client *http.Client

	tavilyURL string
	serperURL string
	braveURL  string
}

// NewWebSearcher creates a searcher. A nil client uses a 30s timeout client.
func NewWebSearcher(logger *slog.Logger, keys domain.SearchConfig, client *http.Client) *WebSearcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebSearcher{
		logger:    logger,
		keys:      keys,
		client:    client,
		tavilyURL: TavilyEndpoint,
		serperURL: SerperEndpoint,
		braveURL:  BraveEndpoint,
	}
}

// WithEndpoints overrides provider URLs. Empty values keep the default.
func (s *WebSearcher) WithEndpoints(tavily, serper, brave string) *WebSearcher {
	if tavily != "" {
		s.tavilyURL = tavily
	}
	if serper != "" {
		s.serperURL = serper
	}
	if brave != "" {
		s.braveURL = brave
	}
	return s
}

// Configured reports whether any provider key is set.
func (s *WebSearcher) Configured() bool {
	return s != nil && s.keys.Configured()
}

// Provider names the provider Search will use, or "" when unconfigured.
func (s *WebSearcher) Provider() string {
	switch {
	case s.keys.TavilyAPIKey != "":
		return "tavily"
	case s.keys.SerperAPIKey != "":
		return "serper"
	case s.keys.BraveAPIKey != "":
		return "brave"
	}
	return ""
}

// Search returns up to maxResults hits. maxResults <= 0 means 5.
func (s *WebSearcher) Search(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	var (
		results []WebResult
		err     error
	)
	switch s.Provider() {
	case "tavily":
		results, err = s.searchTavily(ctx, query, maxResults)
	case "serper":
		results, err = s.searchSerper(ctx, query, maxResults)
	case "brave":
		results, err = s.searchBrave(ctx, query, maxResults)
	default:
		return nil, ErrNoSearchKey
	}
	if err != nil {
		s.logger.Error("web search failed", "provider", s.Provider(), "error", err)
		return nil, err
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (s *WebSearcher) searchTavily(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	payload := map[string]interface{}{
		"api_key":      s.keys.TavilyAPIKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": "basic",
	}
	var out struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := s.postJSON(ctx, s.tavilyURL, nil, payload, &out); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	results := make([]WebResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, WebResult{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	return results, nil
}

func (s *WebSearcher) searchSerper(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	headers := map[string]string{"X-API-KEY": s.keys.SerperAPIKey}
	payload := map[string]interface{}{"q": query, "num": maxResults}
	var out struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := s.postJSON(ctx, s.serperURL, headers, payload, &out); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	results := make([]WebResult, 0, len(out.Organic))
	for _, r := range out.Organic {
		results = append(results, WebResult{Title: r.Title, URL: r.Link, Content: r.Snippet})
	}
	return results, nil
}

func (s *WebSearcher) searchBrave(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	reqURL := s.braveURL + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", s.keys.BraveAPIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave api error: %d", resp.StatusCode)
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}

	results := make([]WebResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, WebResult{Title: r.Title, URL: r.URL, Content: r.Description})
	}
	return results, nil
}

func (s *WebSearcher) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NewWebSearchTool exposes the searcher as the web_search tool.
func NewWebSearchTool(searcher *WebSearcher) *domain.Tool {
	return &domain.Tool{
		Name:        "web_search",
		Description: "Search the web for information. Returns the top results with title, url and content.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default: 5)",
					"default":     5,
				},
			},
			Required: []string{"query"},
		},
		ExecutionType: domain.ExecNative,
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			results, err := searcher.Search(ctx, query, intParam(params, "max_results", 5))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success":       true,
				"query":         query,
				"results":       results,
				"total_results": len(results),
			}, nil
		},
	}
}

// intParam reads a numeric tool parameter. JSON numbers decode as float64.
func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
